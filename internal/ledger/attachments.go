package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// AttachmentKind categorizes media by mime prefix.
type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindAudio AttachmentKind = "audio"
	KindVideo AttachmentKind = "video"
	KindFile  AttachmentKind = "file"
)

// Attachment is embedded in a message, never a standalone row.
type Attachment struct {
	Kind            AttachmentKind `json:"kind"`
	URL             string         `json:"url,omitempty"`
	StorageRef      string         `json:"storage_ref,omitempty"`
	MimeType        string         `json:"mime_type,omitempty"`
	SizeBytes       int64          `json:"size_bytes"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	Width           int            `json:"width,omitempty"`
	Height          int            `json:"height,omitempty"`
}

const (
	MaxAttachments          = 5
	MaxAttachmentBytes      = 16 << 20 // per item
	MaxTotalAttachmentBytes = 40 << 20 // per message
)

var (
	ErrTooManyAttachments  = errors.New("ledger: too many attachments")
	ErrAttachmentTooLarge  = errors.New("ledger: attachment exceeds per-item size cap")
	ErrAttachmentsTooLarge = errors.New("ledger: attachments exceed total size cap")
	ErrMimeNotAllowed      = errors.New("ledger: attachment mime type not allowed")
)

var allowedMimeTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"audio/aac":       {},
	"audio/amr":       {},
	"audio/mpeg":      {},
	"audio/ogg":       {},
	"video/mp4":       {},
	"video/3gpp":      {},
	"application/pdf": {},
	"text/vcard":      {},
	"text/plain":      {},
}

// KindFromMime infers the attachment kind from the mime prefix.
func KindFromMime(mimeType string) AttachmentKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindFile
	}
}

// ValidateAttachments rejects (never truncates) sets that violate the caps:
// count, per-item bytes, cumulative bytes, or a known mime type outside the
// allow-list. An empty mime type passes; the gateway does not always send one.
func ValidateAttachments(attachments []Attachment) error {
	if len(attachments) > MaxAttachments {
		return fmt.Errorf("%w: %d > %d", ErrTooManyAttachments, len(attachments), MaxAttachments)
	}
	var total int64
	for i, att := range attachments {
		if att.SizeBytes > MaxAttachmentBytes {
			return fmt.Errorf("%w: item %d is %d bytes", ErrAttachmentTooLarge, i, att.SizeBytes)
		}
		total += att.SizeBytes
		if att.MimeType == "" {
			continue
		}
		if _, ok := allowedMimeTypes[strings.ToLower(att.MimeType)]; !ok {
			return fmt.Errorf("%w: %s", ErrMimeNotAllowed, att.MimeType)
		}
	}
	if total > MaxTotalAttachmentBytes {
		return fmt.Errorf("%w: %d bytes", ErrAttachmentsTooLarge, total)
	}
	return nil
}
