package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/jobrelay/internal/metrics"
	"github.com/mattjoyce/jobrelay/internal/queue"
)

// Outbox writes notifications to the durable queue for the Worker to deliver.
type Outbox struct {
	q       *queue.Queue
	metrics metrics.Sink
}

func NewOutbox(q *queue.Queue, sink metrics.Sink) *Outbox {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Outbox{q: q, metrics: sink}
}

func (o *Outbox) Enqueue(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if _, err := o.q.Enqueue(ctx, string(n.Kind), payload); err != nil {
		return err
	}
	o.metrics.NotificationEnqueued(string(n.Kind))
	return nil
}
