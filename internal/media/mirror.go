package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/veloracare/clinic-connect/pkg/logging"
)

// maxMirrorBytes caps a single download so a hostile media URL cannot
// exhaust memory. Matches the per-attachment cap enforced at ingest.
const maxMirrorBytes = 16 << 20

// S3API is the subset of the S3 client the mirror uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Mirror copies gateway-hosted media into our own bucket so attachments
// outlive the provider's retention window. If no bucket is configured every
// call is a no-op.
type Mirror struct {
	bucket     string
	s3Client   S3API
	httpClient *http.Client
	logger     *logging.Logger
}

func NewMirror(s3Client S3API, bucket string, logger *logging.Logger) *Mirror {
	if logger == nil {
		logger = logging.Default()
	}
	return &Mirror{
		bucket:   bucket,
		s3Client: s3Client,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Enabled reports whether mirroring is configured.
func (m *Mirror) Enabled() bool {
	return m != nil && m.bucket != "" && m.s3Client != nil
}

// Copy downloads the media URL and stores it under the conversation's
// prefix, returning the s3:// storage ref.
func (m *Mirror) Copy(ctx context.Context, conversationID uuid.UUID, mediaURL, contentType string) (string, error) {
	if !m.Enabled() {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("media: build fetch request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("media: fetch %s: %w", mediaURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media: fetch %s: status %d", mediaURL, resp.StatusCode)
	}

	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}

	key := path.Join("media", conversationID.String(), uuid.NewString())
	_, err = m.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        io.LimitReader(resp.Body, maxMirrorBytes),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("media: s3 put %s: %w", key, err)
	}

	m.logger.Info("mirrored media attachment",
		"conversation_id", conversationID,
		"s3_key", key,
		"content_type", contentType,
	)
	return fmt.Sprintf("s3://%s/%s", m.bucket, key), nil
}
