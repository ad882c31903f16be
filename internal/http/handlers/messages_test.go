package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"

	"github.com/veloracare/clinic-connect/internal/directory"
	"github.com/veloracare/clinic-connect/internal/identity"
	"github.com/veloracare/clinic-connect/internal/ledger"
	"github.com/veloracare/clinic-connect/internal/whatsapp"
)

type stubSender struct {
	res  whatsapp.SendResult
	err  error
	sent []whatsapp.OutboundMessage
}

func (s *stubSender) Send(_ context.Context, msg whatsapp.OutboundMessage) (whatsapp.SendResult, error) {
	s.sent = append(s.sent, msg)
	return s.res, s.err
}

func newMessagesHandler(t *testing.T, sender MessageSender) (*MessagesHandler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	h := NewMessagesHandler(MessagesConfig{
		Directory: directory.NewStore(mock),
		Ledger:    ledger.NewStore(mock),
		Sender:    sender,
	})
	return h, mock
}

func authedRequest(method, target, body string, params map[string]string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := identity.WithUserID(req.Context(), "user-1")
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func expectConversation(mock pgxmock.PgxPoolIface, convID uuid.UUID, ownerID string) {
	mock.ExpectQuery("SELECT id, owner_id").
		WithArgs(convID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "owner_id", "channel", "contact_phone", "contact_name",
			"assigned_number", "unread_count", "last_message_preview", "last_message_at", "last_read_at",
		}).AddRow(convID, ownerID, directory.ChannelWhatsApp, "+15551234567", "Dana",
			"+15550001111", 2, "hey", (*time.Time)(nil), (*time.Time)(nil)))
}

func TestSendMessageHappyPath(t *testing.T) {
	sender := &stubSender{res: whatsapp.SendResult{ProviderMessageID: "SM777", ProviderStatus: "queued"}}
	h, mock := newMessagesHandler(t, sender)
	convID := uuid.New()
	msgID := uuid.New()

	expectConversation(mock, convID, "user-1")
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), convID, "user-1", "see you at 2pm", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(msgID))
	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID, "see you at 2pm", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE messages").
		WithArgs(msgID, "SM777").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectRollback()

	req := authedRequest(http.MethodPost, "/api/conversations/"+convID.String()+"/messages",
		`{"body":"see you at 2pm"}`, map[string]string{"conversationID": convID.String()})
	rec := httptest.NewRecorder()
	h.SendMessage(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "sent" {
		t.Fatalf("expected sent status, got %v", resp["status"])
	}
	if resp["providerMessageId"] != "SM777" {
		t.Fatalf("expected provider id echoed, got %v", resp["providerMessageId"])
	}
	if len(sender.sent) != 1 || sender.sent[0].To != "+15551234567" {
		t.Fatalf("unexpected outbound %+v", sender.sent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSendMessageGatewayFailureMarksFailed(t *testing.T) {
	sender := &stubSender{err: errors.New("gateway down")}
	h, mock := newMessagesHandler(t, sender)
	convID := uuid.New()
	msgID := uuid.New()

	expectConversation(mock, convID, "user-1")
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), convID, "user-1", "hello", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(msgID))
	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID, "hello", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE messages").
		WithArgs(msgID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectRollback()

	req := authedRequest(http.MethodPost, "/api/conversations/"+convID.String()+"/messages",
		`{"body":"hello"}`, map[string]string{"conversationID": convID.String()})
	rec := httptest.NewRecorder()
	h.SendMessage(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 (message durably queued), got %d", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "failed" {
		t.Fatalf("expected failed status, got %v", resp["status"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSendMessageMissingProviderIDGetsLocalPlaceholder(t *testing.T) {
	sender := &stubSender{res: whatsapp.SendResult{}}
	h, mock := newMessagesHandler(t, sender)
	convID := uuid.New()
	msgID := uuid.New()

	expectConversation(mock, convID, "user-1")
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), convID, "user-1", "hello", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(msgID))
	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID, "hello", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE messages").
		WithArgs(msgID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectRollback()

	req := authedRequest(http.MethodPost, "/api/conversations/"+convID.String()+"/messages",
		`{"body":"hello"}`, map[string]string{"conversationID": convID.String()})
	rec := httptest.NewRecorder()
	h.SendMessage(rec, req)

	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	pid, _ := resp["providerMessageId"].(string)
	if !strings.HasPrefix(pid, "local:") {
		t.Fatalf("expected local placeholder provider id, got %q", pid)
	}
}

func TestSendMessageForeignConversationIs404(t *testing.T) {
	h, mock := newMessagesHandler(t, &stubSender{})
	convID := uuid.New()

	expectConversation(mock, convID, "someone-else")

	req := authedRequest(http.MethodPost, "/api/conversations/"+convID.String()+"/messages",
		`{"body":"hello"}`, map[string]string{"conversationID": convID.String()})
	rec := httptest.NewRecorder()
	h.SendMessage(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign conversation, got %d", rec.Code)
	}
}

func TestSendMessageEmptyBodyRejected(t *testing.T) {
	h, mock := newMessagesHandler(t, &stubSender{})
	convID := uuid.New()

	expectConversation(mock, convID, "user-1")
	mock.ExpectBegin()
	mock.ExpectRollback()

	req := authedRequest(http.MethodPost, "/api/conversations/"+convID.String()+"/messages",
		`{"body":""}`, map[string]string{"conversationID": convID.String()})
	rec := httptest.NewRecorder()
	h.SendMessage(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}
}

func TestMarkRead(t *testing.T) {
	h, mock := newMessagesHandler(t, &stubSender{})
	convID := uuid.New()

	expectConversation(mock, convID, "user-1")
	mock.ExpectExec("UPDATE conversations").
		WithArgs(convID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	req := authedRequest(http.MethodPost, "/api/conversations/"+convID.String()+"/read",
		"", map[string]string{"conversationID": convID.String()})
	rec := httptest.NewRecorder()
	h.MarkRead(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestDeleteMessageOutsideConversationIs404(t *testing.T) {
	h, mock := newMessagesHandler(t, &stubSender{})
	convID := uuid.New()
	otherConvID := uuid.New()
	msgID := uuid.New()

	expectConversation(mock, convID, "user-1")
	mock.ExpectQuery("SELECT id, conversation_id").
		WithArgs(msgID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "conversation_id", "provider_message_id", "direction", "sender_ref",
			"body", "attachments", "status", "created_at", "is_deleted", "deleted_at",
		}).AddRow(msgID, otherConvID, "SM1", ledger.DirectionIn, "+15551234567",
			"hi", []byte(`[]`), ledger.StatusRead, time.Now(), false, (*time.Time)(nil)))

	req := authedRequest(http.MethodDelete, "/api/conversations/"+convID.String()+"/messages/"+msgID.String(),
		"", map[string]string{"conversationID": convID.String(), "messageID": msgID.String()})
	rec := httptest.NewRecorder()
	h.DeleteMessage(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for message outside conversation, got %d", rec.Code)
	}
}

func TestListConversationsRequiresAuth(t *testing.T) {
	h, _ := newMessagesHandler(t, &stubSender{})
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec := httptest.NewRecorder()
	h.ListConversations(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
