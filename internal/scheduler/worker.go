package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	observemetrics "github.com/veloracare/clinic-connect/internal/observability/metrics"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// Notifier delivers one reminder to the patient.
type Notifier interface {
	SendReminder(ctx context.Context, job Job) error
}

// SentRecorder marks the mirrored calendar event as reminded, so a
// re-scheduled sync doesn't re-send for the same horizon.
type SentRecorder interface {
	MarkReminderSent(ctx context.Context, eventID uuid.UUID, horizon Horizon) error
}

// Worker pulls dispatched reminder jobs off the queue and fires them. A
// failing job is marked failed and the loop keeps going; the worker never
// dies on one bad reminder.
type Worker struct {
	store    *Store
	queue    Queue
	notifier Notifier
	recorder SentRecorder
	logger   *logging.Logger
	metrics  *observemetrics.ReminderMetrics

	concurrency int
	waitSeconds int
}

func NewWorker(store *Store, queue Queue, notifier Notifier, recorder SentRecorder, logger *logging.Logger, m *observemetrics.ReminderMetrics) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		store:       store,
		queue:       queue,
		notifier:    notifier,
		recorder:    recorder,
		logger:      logger,
		metrics:     m,
		concurrency: 2,
		waitSeconds: 10,
	}
}

// WithConcurrency sets how many receive loops run in parallel.
func (w *Worker) WithConcurrency(n int) *Worker {
	if n > 0 {
		w.concurrency = n
	}
	return w
}

// Start runs the receive loops until the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting reminder worker", "concurrency", w.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.receiveLoop(ctx)
		}()
	}
	wg.Wait()
	w.logger.Info("reminder worker shut down")
}

func (w *Worker) receiveLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := w.queue.Receive(ctx, 10, w.waitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("reminder queue receive failed", "error", err)
			continue
		}
		for _, msg := range messages {
			w.processMessage(ctx, msg)
		}
	}
}

// processMessage fires one reminder. The queue message is always deleted:
// job state in Postgres is the source of truth, not queue redelivery.
func (w *Worker) processMessage(ctx context.Context, msg QueueMessage) {
	defer func() {
		if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
			w.logger.Warn("failed to delete queue message", "error", err)
		}
	}()

	jobID, err := decodeJobPayload(msg.Body)
	if err != nil {
		w.logger.Error("dropping malformed reminder payload", "error", err)
		w.metrics.ObserveFired("malformed")
		return
	}

	job, err := w.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			w.logger.Warn("reminder job vanished", "job_id", jobID)
			return
		}
		// The queue message is gone after this, so a job stuck in
		// dispatched would never fire. Put it back for the next tick.
		w.logger.Error("failed to load reminder job", "job_id", jobID, "error", err)
		if relErr := w.store.Release(ctx, jobID); relErr != nil {
			w.logger.Error("failed to release reminder job", "job_id", jobID, "error", relErr)
		}
		return
	}
	if job.Status != JobDispatched {
		// Cancelled or already fired while in flight.
		w.logger.Info("skipping reminder in terminal state", "job_id", jobID, "status", job.Status)
		w.metrics.ObserveFired("skipped")
		return
	}

	if err := w.notifier.SendReminder(ctx, *job); err != nil {
		w.logger.Error("reminder delivery failed", "job_id", jobID, "error", err)
		if markErr := w.store.MarkFailed(ctx, jobID); markErr != nil {
			w.logger.Error("failed to mark reminder failed", "job_id", jobID, "error", markErr)
		}
		w.metrics.ObserveFired("failed")
		return
	}

	fired, err := w.store.MarkFired(ctx, jobID)
	if err != nil {
		w.logger.Error("failed to mark reminder fired", "job_id", jobID, "error", err)
		return
	}
	if fired && w.recorder != nil {
		if err := w.recorder.MarkReminderSent(ctx, job.EventID, job.Horizon); err != nil {
			w.logger.Warn("failed to flag event as reminded",
				"event_id", job.EventID, "horizon", job.Horizon, "error", err)
		}
	}
	w.metrics.ObserveFired("fired")
	w.logger.Info("reminder fired",
		"job_id", jobID, "event_id", job.EventID, "horizon", job.Horizon)
}
