package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veloracare/clinic-connect/internal/directory"
	"github.com/veloracare/clinic-connect/internal/identity"
	"github.com/veloracare/clinic-connect/internal/ledger"
	"github.com/veloracare/clinic-connect/internal/whatsapp"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// MessageSender pushes one outbound message through the gateway.
type MessageSender interface {
	Send(ctx context.Context, msg whatsapp.OutboundMessage) (whatsapp.SendResult, error)
}

// MessagesHandler serves the conversation and message API for signed-in
// clinic staff.
type MessagesHandler struct {
	directory *directory.Store
	ledger    *ledger.Store
	sender    MessageSender
	logger    *logging.Logger
}

type MessagesConfig struct {
	Directory *directory.Store
	Ledger    *ledger.Store
	Sender    MessageSender
	Logger    *logging.Logger
}

func NewMessagesHandler(cfg MessagesConfig) *MessagesHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &MessagesHandler{
		directory: cfg.Directory,
		ledger:    cfg.Ledger,
		sender:    cfg.Sender,
		logger:    cfg.Logger,
	}
}

type conversationResponse struct {
	ID             uuid.UUID  `json:"id"`
	Channel        string     `json:"channel"`
	ContactPhone   string     `json:"contactPhone"`
	ContactName    string     `json:"contactName,omitempty"`
	AssignedNumber string     `json:"assignedNumber,omitempty"`
	UnreadCount    int        `json:"unreadCount"`
	LastPreview    string     `json:"lastPreview,omitempty"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
	LastReadAt     *time.Time `json:"lastReadAt,omitempty"`
}

func toConversationResponse(c directory.Conversation) conversationResponse {
	return conversationResponse{
		ID:             c.ID,
		Channel:        string(c.Channel),
		ContactPhone:   c.ContactPhone,
		ContactName:    c.ContactName,
		AssignedNumber: c.AssignedNumber,
		UnreadCount:    c.UnreadCount,
		LastPreview:    c.LastPreview,
		LastMessageAt:  c.LastMessageAt,
		LastReadAt:     c.LastReadAt,
	}
}

type messageResponse struct {
	ID                uuid.UUID           `json:"id"`
	ConversationID    uuid.UUID           `json:"conversationId"`
	ProviderMessageID string              `json:"providerMessageId,omitempty"`
	Direction         string              `json:"direction"`
	SenderRef         string              `json:"senderRef,omitempty"`
	Body              string              `json:"body"`
	Attachments       []ledger.Attachment `json:"attachments,omitempty"`
	Status            string              `json:"status"`
	Timestamp         time.Time           `json:"timestamp"`
	IsDeleted         bool                `json:"isDeleted,omitempty"`
}

func toMessageResponse(m ledger.Message) messageResponse {
	return messageResponse{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		ProviderMessageID: m.ProviderMessageID,
		Direction:         string(m.Direction),
		SenderRef:         m.SenderRef,
		Body:              m.Body,
		Attachments:       m.Attachments,
		Status:            string(m.Status),
		Timestamp:         m.Timestamp,
		IsDeleted:         m.IsDeleted,
	}
}

// ListConversations returns the caller's conversations, newest first.
func (h *MessagesHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	convs, err := h.directory.ListByOwner(r.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

type startChatRequest struct {
	Channel      string `json:"channel"`
	ContactPhone string `json:"contactPhone"`
	ContactName  string `json:"contactName"`
}

// StartChat creates (or finds) a conversation with a contact.
func (h *MessagesHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req startChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Channel == "" {
		req.Channel = string(directory.ChannelWhatsApp)
	}

	id, err := h.directory.Upsert(r.Context(), nil, directory.UpsertInput{
		OwnerID:      userID,
		Channel:      directory.Channel(req.Channel),
		ContactPhone: req.ContactPhone,
		ContactName:  req.ContactName,
	})
	if err != nil {
		if errors.Is(err, directory.ErrInvalidPhone) || errors.Is(err, directory.ErrChannelInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("start chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	conv, err := h.directory.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("load conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusCreated, toConversationResponse(*conv))
}

// conversationForCaller loads the conversation and enforces ownership.
func (h *MessagesHandler) conversationForCaller(w http.ResponseWriter, r *http.Request) (*directory.Conversation, bool) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}
	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return nil, false
	}
	conv, err := h.directory.Get(r.Context(), convID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if conv.OwnerID != userID {
		// Don't leak existence of other tenants' conversations.
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	return conv, true
}

// ListMessages returns the conversation's messages, oldest first.
func (h *MessagesHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationForCaller(w, r)
	if !ok {
		return
	}
	msgs, err := h.ledger.ListByConversation(r.Context(), conv.ID, 0)
	if err != nil {
		h.logger.Error("list messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

type sendMessageRequest struct {
	Body        string              `json:"body"`
	Attachments []ledger.Attachment `json:"attachments"`
}

// SendMessage appends a queued outbound message, pushes it through the
// gateway, and reconciles the ledger with the gateway's answer. A gateway
// that accepts the send but returns no id gets a local placeholder so the
// message stays addressable by status callbacks that may never come.
func (h *MessagesHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationForCaller(w, r)
	if !ok {
		return
	}
	userID, _ := identity.UserIDFromContext(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx := r.Context()
	tx, err := h.ledger.Begin(ctx)
	if err != nil {
		h.logger.Error("begin send failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	msgID, err := h.ledger.InsertOutbound(ctx, tx, ledger.Message{
		ConversationID: conv.ID,
		SenderRef:      userID,
		Body:           req.Body,
		Attachments:    req.Attachments,
		Timestamp:      now,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrEmptyMessage) ||
			errors.Is(err, ledger.ErrTooManyAttachments) ||
			errors.Is(err, ledger.ErrAttachmentTooLarge) ||
			errors.Is(err, ledger.ErrAttachmentsTooLarge) ||
			errors.Is(err, ledger.ErrMimeNotAllowed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("insert outbound failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if err := h.directory.RecordOutbound(ctx, tx, conv.ID, req.Body, now); err != nil {
		h.logger.Error("record outbound failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("commit send failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	mediaURLs := make([]string, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		if att.URL != "" {
			mediaURLs = append(mediaURLs, att.URL)
		}
	}

	status := ledger.StatusQueued
	providerMessageID := ""
	res, sendErr := h.sender.Send(ctx, whatsapp.OutboundMessage{
		To:        conv.ContactPhone,
		From:      conv.AssignedNumber,
		Body:      req.Body,
		MediaURLs: mediaURLs,
	})
	if sendErr != nil {
		h.logger.Error("gateway send failed", "error", sendErr, "message_id", msgID)
		if err := h.ledger.MarkFailed(ctx, msgID); err != nil {
			h.logger.Error("mark failed failed", "error", err, "message_id", msgID)
		}
		status = ledger.StatusFailed
	} else {
		providerMessageID = res.ProviderMessageID
		if providerMessageID == "" {
			providerMessageID = "local:" + uuid.NewString()
		}
		if err := h.ledger.MarkSent(ctx, msgID, providerMessageID); err != nil {
			h.logger.Error("mark sent failed", "error", err, "message_id", msgID)
		}
		status = ledger.StatusSent
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":                msgID,
		"conversationId":    conv.ID,
		"providerMessageId": providerMessageID,
		"status":            string(status),
	})
}

// MarkRead zeroes the unread counter for the conversation.
func (h *MessagesHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationForCaller(w, r)
	if !ok {
		return
	}
	if err := h.directory.MarkRead(r.Context(), conv.ID); err != nil {
		h.logger.Error("mark read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMessage soft-deletes one message in the caller's conversation.
func (h *MessagesHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationForCaller(w, r)
	if !ok {
		return
	}
	msgID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	msg, err := h.ledger.Get(r.Context(), msgID)
	if err != nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if msg.ConversationID != conv.ID {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err := h.ledger.SoftDelete(r.Context(), msgID); err != nil {
		h.logger.Error("soft delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
