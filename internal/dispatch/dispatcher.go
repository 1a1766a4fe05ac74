package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/mattjoyce/jobrelay/internal/envelope"
	"github.com/mattjoyce/jobrelay/internal/log"
	"github.com/mattjoyce/jobrelay/internal/metrics"
)

// Key identifies a handler.
type Key struct {
	Source envelope.Source
	Kind   envelope.Kind
}

func (k Key) String() string { return string(k.Source) + "/" + string(k.Kind) }

// Reply is a synchronous response body for slash commands and interactions.
type Reply struct {
	Text         string `json:"text"`
	ResponseType string `json:"response_type,omitempty"`
	Blocks       []any  `json:"blocks,omitempty"`
}

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, ev *envelope.Event) (*Reply, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev *envelope.Event) (*Reply, error)

func (f HandlerFunc) Handle(ctx context.Context, ev *envelope.Event) (*Reply, error) {
	return f(ctx, ev)
}

// Deduper claims delivery ids. Claim returns false when the id was already claimed.
type Deduper interface {
	Claim(ctx context.Context, deliveryID string) (bool, error)
}

// Outcome is what the route layer needs to answer the sender.
type Outcome struct {
	Handled   bool
	Duplicate bool
	Reply     *Reply
	Err       error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDeduper enables replay suppression for chat events.
func WithDeduper(d Deduper) Option {
	return func(disp *Dispatcher) { disp.dedupe = d }
}

func WithMetrics(s metrics.Sink) Option {
	return func(disp *Dispatcher) { disp.metrics = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(disp *Dispatcher) { disp.logger = l }
}

// Dispatcher is a registry of handlers keyed by (source, kind).
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Key]Handler
	dedupe   Deduper
	metrics  metrics.Sink
	logger   *slog.Logger
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[Key]Handler),
		metrics:  metrics.NewNoopSink(),
		logger:   log.WithComponent("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds h to (source, kind), replacing any previous binding.
func (d *Dispatcher) Register(source envelope.Source, kind envelope.Kind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[Key{Source: source, Kind: kind}] = h
}

// RegisterFunc is Register for plain functions.
func (d *Dispatcher) RegisterFunc(source envelope.Source, kind envelope.Kind, f HandlerFunc) {
	d.Register(source, kind, f)
}

// Keys returns the registered keys.
func (d *Dispatcher) Keys() []Key {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]Key, 0, len(d.handlers))
	for k := range d.handlers {
		keys = append(keys, k)
	}
	return keys
}

// Dispatch runs the handler for ev. It never panics and never returns an error the
// caller must act on; Outcome.Err is informational.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *envelope.Event) Outcome {
	key := Key{Source: ev.Source, Kind: ev.Kind}
	logger := d.logger.With(
		"source", ev.Source,
		"kind", ev.Kind,
		"idempotency_key", ev.IdempotencyKey,
		"delivery_id", ev.DeliveryID,
	)

	d.mu.RLock()
	h, ok := d.handlers[key]
	d.mu.RUnlock()
	if !ok {
		logger.Info("no handler for event")
		d.metrics.DispatchOutcome(string(ev.Source), string(ev.Kind), metrics.OutcomeUnhandled)
		return Outcome{}
	}

	if d.dedupe != nil && ev.Source == envelope.SourceChat && ev.DeliveryID != "" {
		fresh, err := d.dedupe.Claim(ctx, ev.DeliveryID)
		switch {
		case err != nil:
			// Fail open on replay-store errors.
			logger.Warn("replay check failed", "error", err)
		case !fresh:
			logger.Info("suppressed redelivered event")
			d.metrics.ReplaySuppressed(string(ev.Source))
			d.metrics.DispatchOutcome(string(ev.Source), string(ev.Kind), metrics.OutcomeDuplicate)
			return Outcome{Duplicate: true}
		}
	}

	reply, err := d.invoke(ctx, h, ev)
	if err != nil {
		logger.Error("handler failed", "error", err)
		d.metrics.DispatchOutcome(string(ev.Source), string(ev.Kind), metrics.OutcomeFailed)
		return Outcome{Handled: true, Err: err}
	}

	logger.Debug("event handled")
	d.metrics.DispatchOutcome(string(ev.Source), string(ev.Kind), metrics.OutcomeHandled)
	return Outcome{Handled: true, Reply: reply}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, ev *envelope.Event) (reply *Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debug("handler panic stack", "stack", string(debug.Stack()))
			reply, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}
