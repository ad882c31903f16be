package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/veloracare/clinic-connect/internal/credentials"
	"github.com/veloracare/clinic-connect/internal/identity"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// UserSyncer runs one calendar sync pass for a user.
type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) error
}

// CalendarSyncHandler lets users trigger an immediate sync instead of
// waiting for the background interval.
type CalendarSyncHandler struct {
	sync   UserSyncer
	logger *logging.Logger
}

func NewCalendarSyncHandler(sync UserSyncer, logger *logging.Logger) *CalendarSyncHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CalendarSyncHandler{sync: sync, logger: logger}
}

// Trigger syncs the caller's calendar now.
func (h *CalendarSyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if err := h.sync.SyncUser(r.Context(), userID); err != nil {
		switch {
		case errors.Is(err, credentials.ErrNotConnected):
			writeError(w, http.StatusConflict, "calendar not connected")
		case errors.Is(err, credentials.ErrReconnectRequired):
			writeError(w, http.StatusConflict, "calendar connection expired, reconnect required")
		default:
			h.logger.Error("manual calendar sync failed", "error", err, "user_id", userID)
			writeError(w, http.StatusBadGateway, "sync failed")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
