package credentials

import (
	"context"
	"errors"
	"time"

	observemetrics "github.com/veloracare/clinic-connect/internal/observability/metrics"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// ExpiringLister finds users whose tokens are close to expiry.
type ExpiringLister interface {
	ListExpiring(ctx context.Context, provider string, within time.Duration) ([]string, error)
}

// RefreshWorker proactively renews tokens before they expire so calendar
// syncs never stall on a cold refresh.
type RefreshWorker struct {
	store     ExpiringLister
	lifecycle *Lifecycle
	provider  string
	logger    *logging.Logger
	metrics   *observemetrics.TokenMetrics

	interval      time.Duration
	refreshBefore time.Duration
}

func NewRefreshWorker(store ExpiringLister, lifecycle *Lifecycle, provider string, logger *logging.Logger) *RefreshWorker {
	if logger == nil {
		logger = logging.Default()
	}
	return &RefreshWorker{
		store:         store,
		lifecycle:     lifecycle,
		provider:      provider,
		logger:        logger,
		interval:      15 * time.Minute,
		refreshBefore: 30 * time.Minute,
	}
}

// WithInterval sets the check interval.
func (w *RefreshWorker) WithInterval(interval time.Duration) *RefreshWorker {
	w.interval = interval
	return w
}

// WithMetrics attaches refresh outcome counters.
func (w *RefreshWorker) WithMetrics(m *observemetrics.TokenMetrics) *RefreshWorker {
	w.metrics = m
	return w
}

// Start runs the worker until the context is cancelled.
func (w *RefreshWorker) Start(ctx context.Context) {
	w.logger.Info("starting token refresh worker",
		"provider", w.provider,
		"interval", w.interval.String(),
		"refresh_before", w.refreshBefore.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.refreshExpiring(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("token refresh worker shutting down")
			return
		case <-ticker.C:
			w.refreshExpiring(ctx)
		}
	}
}

func (w *RefreshWorker) refreshExpiring(ctx context.Context) {
	userIDs, err := w.store.ListExpiring(ctx, w.provider, w.refreshBefore)
	if err != nil {
		w.logger.Error("failed to list expiring credentials", "error", err)
		return
	}
	if len(userIDs) == 0 {
		return
	}

	w.logger.Info("refreshing expiring tokens", "count", len(userIDs))
	for _, userID := range userIDs {
		_, err := w.lifecycle.EnsureFresh(ctx, userID, w.provider, w.refreshBefore)
		switch {
		case err == nil:
			w.metrics.ObserveRefresh("success")
		case errors.Is(err, ErrReconnectRequired) || errors.Is(err, ErrNotConnected):
			w.metrics.ObserveRefresh("reconnect_required")
			w.logger.Warn("token unrecoverable, user must reconnect",
				"user_id", userID, "error", err)
		default:
			w.metrics.ObserveRefresh("error")
			w.logger.Error("token refresh failed", "user_id", userID, "error", err)
		}
	}
}

// RunOnce performs a single refresh check, used by tests and manual triggers.
func (w *RefreshWorker) RunOnce(ctx context.Context) {
	w.refreshExpiring(ctx)
}
