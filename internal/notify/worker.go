package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/jobrelay/internal/metrics"
	"github.com/mattjoyce/jobrelay/internal/queue"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultDeliveryTimeout = 30 * time.Second
)

// Worker drains the outbox through a Bridge. Each entry is attempted once; a
// delivery error marks it failed.
type Worker struct {
	q         *queue.Queue
	bridge    Bridge
	metrics   metrics.Sink
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	timeout   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWorker(q *queue.Queue, bridge Bridge, sink metrics.Sink, logger *slog.Logger, interval time.Duration) *Worker {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{
		q:         q,
		bridge:    bridge,
		metrics:   sink,
		logger:    logger.With("component", "notify-worker"),
		interval:  interval,
		retention: DefaultRetention,
		timeout:   DefaultDeliveryTimeout,
		stopCh:    make(chan struct{}),
	}
}

// WithRetention sets how long terminal entries are kept. Non-positive values keep
// the default.
func (w *Worker) WithRetention(d time.Duration) *Worker {
	if d > 0 {
		w.retention = d
	}
	return w
}

// Start recovers entries left in flight, prunes old ones and begins polling.
func (w *Worker) Start(ctx context.Context) error {
	n, err := w.q.RequeueInFlight(ctx)
	if err != nil {
		return fmt.Errorf("notify worker recovery failed: %w", err)
	}
	if n > 0 {
		w.logger.Warn("requeued in-flight notifications", "count", n)
	}
	if pruned, err := w.q.Prune(ctx, w.retention); err != nil {
		w.logger.Warn("outbox prune failed", "error", err)
	} else if pruned > 0 {
		w.logger.Info("pruned delivered notifications", "count", pruned)
	}

	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("notify worker started", "interval", w.interval.String())
	return nil
}

// Stop waits for the current pass to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.logger.Info("notify worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	w.drain(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.drain(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	if _, err := w.Drain(ctx); err != nil {
		w.logger.Error("outbox drain failed", "error", err)
	}
}

// Drain delivers queued entries until the outbox is empty or ctx ends, and reports
// how many were processed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		select {
		case <-w.stopCh:
			return processed, nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		e, err := w.q.Dequeue(ctx)
		if err != nil {
			return processed, err
		}
		if e == nil {
			return processed, nil
		}
		w.deliver(ctx, e)
		processed++
	}
}

func (w *Worker) deliver(ctx context.Context, e *queue.Entry) {
	var n Notification
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		w.finish(ctx, e, fmt.Errorf("decode notification: %w", err))
		return
	}
	n.ID = e.ID

	dctx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.bridge.Notify(dctx, n)
	cancel()
	w.finish(ctx, e, err)
}

func (w *Worker) finish(ctx context.Context, e *queue.Entry, deliveryErr error) {
	status := queue.StatusDelivered
	outcome := metrics.OutcomeSuccess
	var lastError *string
	if deliveryErr != nil {
		status = queue.StatusFailed
		outcome = metrics.OutcomeError
		msg := deliveryErr.Error()
		lastError = &msg
		w.logger.Error("notification delivery failed", "id", e.ID, "kind", e.Kind, "error", deliveryErr)
	} else {
		w.logger.Debug("notification delivered", "id", e.ID, "kind", e.Kind)
	}

	if err := w.q.Complete(ctx, e.ID, status, lastError); err != nil {
		w.logger.Error("failed to record notification outcome", "id", e.ID, "status", status, "error", err)
	}
	w.metrics.NotificationDelivered(e.Kind, outcome)
}
