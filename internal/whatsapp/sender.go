package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/veloracare/clinic-connect/pkg/logging"
)

var sendTracer = otel.Tracer("clinicconnect.internal.whatsapp.sender")

// OutboundMessage is one WhatsApp message to push through the gateway.
type OutboundMessage struct {
	To        string
	From      string
	Body      string
	MediaURLs []string
}

// SendResult carries the gateway's acknowledgement of an accepted message.
type SendResult struct {
	ProviderMessageID string
	ProviderStatus    string
}

// Sender posts messages to the WhatsApp gateway's REST API using
// form-encoded requests with basic auth.
type Sender struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewSender(baseURL, accountSID, authToken, defaultFrom string, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       defaultFrom,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Send dispatches a single message, retrying transient failures. Non-429
// client errors are permanent and returned immediately.
func (s *Sender) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	if s.accountSID == "" || s.authToken == "" {
		return SendResult{}, errors.New("whatsapp: gateway credentials missing")
	}
	if msg.To == "" {
		return SendResult{}, errors.New("whatsapp: to required")
	}
	if msg.From == "" {
		msg.From = s.from
	}
	if msg.From == "" {
		return SendResult{}, errors.New("whatsapp: from required")
	}
	if strings.TrimSpace(msg.Body) == "" && len(msg.MediaURLs) == 0 {
		return SendResult{}, errors.New("whatsapp: body or media required")
	}

	ctx, span := sendTracer.Start(ctx, "whatsapp.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicconnect.to", msg.To),
		attribute.Int("clinicconnect.media_count", len(msg.MediaURLs)),
	)

	payload := url.Values{}
	payload.Set("To", "whatsapp:"+msg.To)
	payload.Set("From", "whatsapp:"+msg.From)
	payload.Set("Body", msg.Body)
	for _, mediaURL := range msg.MediaURLs {
		payload.Add("MediaUrl", mediaURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			lastErr = err
			break
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var parsed struct {
					SID    string `json:"sid"`
					Status string `json:"status"`
				}
				if err := json.Unmarshal(body, &parsed); err != nil {
					return SendResult{}, fmt.Errorf("whatsapp: decode gateway response: %w", err)
				}
				s.logger.Info("whatsapp message sent", "to", msg.To, "provider_message_id", parsed.SID)
				return SendResult{ProviderMessageID: parsed.SID, ProviderStatus: parsed.Status}, nil
			}
			lastErr = fmt.Errorf("whatsapp: send failed: %s", formatGatewayError(resp.StatusCode, body))
			// Don't retry non-rate-limit 4xx errors.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				break
			}
		}

		if attempt < 3 {
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
	}
	return SendResult{}, lastErr
}

type gatewayAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func formatGatewayError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed gatewayAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}
