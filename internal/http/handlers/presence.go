package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veloracare/clinic-connect/internal/identity"
	"github.com/veloracare/clinic-connect/internal/presence"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// PresenceHandler serves heartbeat writes and presence reads.
type PresenceHandler struct {
	tracker *presence.Tracker
	logger  *logging.Logger
}

func NewPresenceHandler(tracker *presence.Tracker, logger *logging.Logger) *PresenceHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PresenceHandler{tracker: tracker, logger: logger}
}

// Heartbeat marks the caller online for the TTL window.
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if err := h.tracker.Heartbeat(r.Context(), userID); err != nil {
		h.logger.Error("heartbeat failed", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get returns another user's presence.
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity.UserIDFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	targetID := chi.URLParam(r, "userID")
	if targetID == "" {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}
	status, err := h.tracker.Get(r.Context(), targetID)
	if err != nil {
		h.logger.Error("presence lookup failed", "error", err, "user_id", targetID)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
