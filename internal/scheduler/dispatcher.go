package scheduler

import (
	"context"
	"time"

	observemetrics "github.com/veloracare/clinic-connect/internal/observability/metrics"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// Dispatcher claims due reminder jobs and pushes them onto the queue for
// firing workers. Multiple dispatchers can run at once; the SKIP LOCKED
// claim keeps them from double-dispatching.
type Dispatcher struct {
	store   *Store
	queue   Queue
	logger  *logging.Logger
	metrics *observemetrics.ReminderMetrics

	interval   time.Duration
	claimBatch int
}

func NewDispatcher(store *Store, queue Queue, logger *logging.Logger, m *observemetrics.ReminderMetrics) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:      store,
		queue:      queue,
		logger:     logger,
		metrics:    m,
		interval:   30 * time.Second,
		claimBatch: 50,
	}
}

// WithInterval sets the poll interval.
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// WithClaimBatch sets how many due jobs one tick claims.
func (d *Dispatcher) WithClaimBatch(n int) *Dispatcher {
	d.claimBatch = n
	return d
}

// Start runs the dispatch loop until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("starting reminder dispatcher",
		"interval", d.interval.String(),
		"claim_batch", d.claimBatch,
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	d.dispatchDue(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("reminder dispatcher shutting down")
			return
		case <-ticker.C:
			d.dispatchDue(ctx)
		}
	}
}

// RunOnce performs a single claim-and-dispatch pass. Returns the number of
// jobs pushed onto the queue.
func (d *Dispatcher) RunOnce(ctx context.Context) int {
	return d.dispatchDue(ctx)
}

func (d *Dispatcher) dispatchDue(ctx context.Context) int {
	jobs, err := d.store.ClaimDue(ctx, d.claimBatch)
	if err != nil {
		d.logger.Error("failed to claim due reminder jobs", "error", err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	d.logger.Info("dispatching due reminders", "count", len(jobs))
	dispatched := 0
	now := time.Now().UTC()
	for _, job := range jobs {
		payload, err := encodeJobPayload(job.ID)
		if err != nil {
			d.logger.Error("failed to encode reminder payload", "job_id", job.ID, "error", err)
			continue
		}
		if err := d.queue.Send(ctx, payload); err != nil {
			d.logger.Error("failed to enqueue reminder, releasing job",
				"job_id", job.ID, "error", err)
			if relErr := d.store.Release(ctx, job.ID); relErr != nil {
				d.logger.Error("failed to release reminder job", "job_id", job.ID, "error", relErr)
			}
			continue
		}
		d.metrics.ObserveDispatchLag(now.Sub(job.FireAt).Seconds())
		dispatched++
	}
	return dispatched
}
