package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/veloracare/clinic-connect/internal/directory"
	"github.com/veloracare/clinic-connect/internal/ledger"
	"github.com/veloracare/clinic-connect/internal/media"
	observemetrics "github.com/veloracare/clinic-connect/internal/observability/metrics"
	"github.com/veloracare/clinic-connect/internal/webhook"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// WhatsAppWebhookHandler ingests the gateway's inbound-message and delivery
// status callbacks. Both endpoints are idempotent: the gateway retries until
// it sees a 2xx, so replays must not double-write.
type WhatsAppWebhookHandler struct {
	directory     *directory.Store
	ledger        *ledger.Store
	secrets       webhook.SecretResolver
	media         *media.Mirror
	publicBaseURL string
	logger        *logging.Logger
	metrics       *observemetrics.WebhookMetrics
}

type WhatsAppWebhookConfig struct {
	Directory     *directory.Store
	Ledger        *ledger.Store
	Secrets       webhook.SecretResolver
	Media         *media.Mirror
	PublicBaseURL string
	Logger        *logging.Logger
	Metrics       *observemetrics.WebhookMetrics
}

func NewWhatsAppWebhookHandler(cfg WhatsAppWebhookConfig) *WhatsAppWebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WhatsAppWebhookHandler{
		directory:     cfg.Directory,
		ledger:        cfg.Ledger,
		secrets:       cfg.Secrets,
		media:         cfg.Media,
		publicBaseURL: cfg.PublicBaseURL,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

// verifyRequest checks the gateway HMAC over the full request URL plus the
// POSTed params. Callers must have parsed the form already.
func (h *WhatsAppWebhookHandler) verifyRequest(r *http.Request) bool {
	secret, err := h.secrets.SecretFor(r.Context(), r.PostForm.Get("AccountSid"))
	if err != nil {
		if !errors.Is(err, webhook.ErrUnknownAccount) {
			h.logger.Error("webhook secret lookup failed", "error", err)
		}
		return false
	}
	requestURL := h.publicBaseURL + r.URL.RequestURI()
	return webhook.VerifySignature(secret, requestURL, r.PostForm, r.Header.Get(webhook.SignatureHeader))
}

// HandleInbound processes an inbound WhatsApp message callback.
func (h *WhatsAppWebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveLatency("inbound", time.Since(start).Seconds())
	}()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if !h.verifyRequest(r) {
		h.logger.Warn("rejected inbound webhook with bad signature")
		h.metrics.ObserveInbound("forbidden")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	// MessageSid may be absent; the ledger falls back to a local id then.
	providerMessageID := r.PostForm.Get("MessageSid")

	from, err := directory.NormalizePhone(r.PostForm.Get("From"))
	if err != nil {
		h.metrics.ObserveInbound("bad_request")
		http.Error(w, "invalid From number", http.StatusBadRequest)
		return
	}
	to, err := directory.NormalizePhone(r.PostForm.Get("To"))
	if err != nil {
		h.metrics.ObserveInbound("bad_request")
		http.Error(w, "invalid To number", http.StatusBadRequest)
		return
	}

	ownerID, err := h.directory.LookupOwnerByNumber(r.Context(), to)
	if err != nil {
		if errors.Is(err, directory.ErrNumberUnassigned) {
			h.logger.Warn("inbound for unassigned number", "to", to)
			h.metrics.ObserveInbound("unassigned")
			http.Error(w, "number not assigned", http.StatusNotFound)
			return
		}
		h.logger.Error("owner lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	body := r.PostForm.Get("Body")
	attachments, mediaURLs, err := parseMediaParams(r)
	if err != nil {
		h.metrics.ObserveInbound("bad_request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body == "" && len(attachments) == 0 {
		h.metrics.ObserveInbound("bad_request")
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}

	convID, inserted, err := h.ingestInbound(r.Context(), ingestInput{
		ownerID:           ownerID,
		from:              from,
		to:                to,
		contactName:       r.PostForm.Get("ProfileName"),
		providerMessageID: providerMessageID,
		body:              body,
		attachments:       attachments,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrEmptyMessage) ||
			errors.Is(err, ledger.ErrTooManyAttachments) ||
			errors.Is(err, ledger.ErrAttachmentTooLarge) ||
			errors.Is(err, ledger.ErrAttachmentsTooLarge) ||
			errors.Is(err, ledger.ErrMimeNotAllowed) {
			h.metrics.ObserveInbound("bad_request")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("inbound ingestion failed", "error", err, "provider_message_id", providerMessageID)
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}

	if inserted {
		h.metrics.ObserveInbound("accepted")
		h.mirrorMedia(convID, mediaURLs, attachments)
	} else {
		h.metrics.ObserveInbound("duplicate")
	}
	w.WriteHeader(http.StatusNoContent)
}

type ingestInput struct {
	ownerID           string
	from              string
	to                string
	contactName       string
	providerMessageID string
	body              string
	attachments       []ledger.Attachment
}

// ingestInbound runs the conversation upsert, message insert and unread bump
// in one transaction so a duplicate callback changes nothing at all.
func (h *WhatsAppWebhookHandler) ingestInbound(ctx context.Context, in ingestInput) (uuid.UUID, bool, error) {
	tx, err := h.ledger.Begin(ctx)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	convID, err := h.directory.Upsert(ctx, tx, directory.UpsertInput{
		OwnerID:        in.ownerID,
		Channel:        directory.ChannelWhatsApp,
		ContactPhone:   in.from,
		ContactName:    in.contactName,
		AssignedNumber: in.to,
	})
	if err != nil {
		return uuid.Nil, false, err
	}

	now := time.Now().UTC()
	_, inserted, err := h.ledger.InsertInbound(ctx, tx, ledger.Message{
		ConversationID:    convID,
		ProviderMessageID: in.providerMessageID,
		SenderRef:         in.from,
		Body:              in.body,
		Attachments:       in.attachments,
		Timestamp:         now,
	})
	if err != nil {
		return uuid.Nil, false, err
	}

	if inserted {
		if err := h.directory.RecordInbound(ctx, tx, convID, in.body, now); err != nil {
			return uuid.Nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, false, fmt.Errorf("commit: %w", err)
	}
	return convID, inserted, nil
}

// mirrorMedia copies gateway-hosted media into our bucket off the request
// path. Failures are logged, never surfaced: the message is already durable.
func (h *WhatsAppWebhookHandler) mirrorMedia(convID uuid.UUID, mediaURLs []string, attachments []ledger.Attachment) {
	if !h.media.Enabled() || len(mediaURLs) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		for i, mediaURL := range mediaURLs {
			contentType := ""
			if i < len(attachments) {
				contentType = attachments[i].MimeType
			}
			if _, err := h.media.Copy(ctx, convID, mediaURL, contentType); err != nil {
				h.logger.Warn("media mirror failed", "error", err, "conversation_id", convID)
			}
		}
	}()
}

// HandleStatus processes a delivery status callback. Late or duplicated
// callbacks land here constantly; anything that cannot advance the status
// lattice is acknowledged and dropped.
func (h *WhatsAppWebhookHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveLatency("status", time.Since(start).Seconds())
	}()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if !h.verifyRequest(r) {
		h.logger.Warn("rejected status webhook with bad signature")
		h.metrics.ObserveStatusCallback("forbidden")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	providerMessageID := r.PostForm.Get("MessageSid")
	rawStatus := r.PostForm.Get("MessageStatus")
	if rawStatus == "" {
		// Older gateway API versions send SmsStatus instead.
		rawStatus = r.PostForm.Get("SmsStatus")
	}
	if providerMessageID == "" || rawStatus == "" {
		h.metrics.ObserveStatusCallback("bad_request")
		http.Error(w, "MessageSid and MessageStatus required", http.StatusBadRequest)
		return
	}

	next := ledger.StatusFromProvider(rawStatus)
	applied, err := h.ledger.ApplyProviderStatus(r.Context(), providerMessageID, next)
	if err != nil {
		h.logger.Error("status update failed", "error", err, "provider_message_id", providerMessageID)
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}
	if applied {
		h.metrics.ObserveStatusCallback(string(next))
	} else {
		h.metrics.ObserveStatusCallback("ignored")
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseMediaParams reads the MediaUrlN/MediaContentTypeN form fields.
func parseMediaParams(r *http.Request) ([]ledger.Attachment, []string, error) {
	numMedia := 0
	if raw := r.PostForm.Get("NumMedia"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, nil, fmt.Errorf("invalid NumMedia %q", raw)
		}
		numMedia = n
	}
	if numMedia == 0 {
		return nil, nil, nil
	}

	attachments := make([]ledger.Attachment, 0, numMedia)
	mediaURLs := make([]string, 0, numMedia)
	for i := 0; i < numMedia; i++ {
		mediaURL := r.PostForm.Get(fmt.Sprintf("MediaUrl%d", i))
		if mediaURL == "" {
			return nil, nil, fmt.Errorf("MediaUrl%d missing", i)
		}
		contentType := r.PostForm.Get(fmt.Sprintf("MediaContentType%d", i))
		attachments = append(attachments, ledger.Attachment{
			Kind:     ledger.KindFromMime(contentType),
			URL:      mediaURL,
			MimeType: contentType,
		})
		mediaURLs = append(mediaURLs, mediaURL)
	}
	return attachments, mediaURLs, nil
}
