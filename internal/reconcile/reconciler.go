// Package reconcile turns an FSM webhook into a local record by fetching the
// authoritative entity and upserting it, then decides which notifications the change
// warrants.
//
// Webhooks carry only a topic and an item id, and are delivered at least once and
// out of order, so the fetched entity is always the source of truth and applying the
// same item twice leaves the store unchanged.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/mattjoyce/jobrelay/internal/jobber"
	"github.com/mattjoyce/jobrelay/internal/log"
	"github.com/mattjoyce/jobrelay/internal/metrics"
	"github.com/mattjoyce/jobrelay/internal/notify"
	"github.com/mattjoyce/jobrelay/internal/ratelimit"
	"github.com/mattjoyce/jobrelay/internal/storage"
)

//go:generate mockgen -destination=mocks/mock_fetcher.go -package=mocks github.com/mattjoyce/jobrelay/internal/reconcile Fetcher

// Fetcher retrieves authoritative entities from the FSM.
type Fetcher interface {
	GetClient(ctx context.Context, id string) (*jobber.ClientNode, error)
	GetJob(ctx context.Context, id string) (*jobber.JobNode, error)
	GetInvoice(ctx context.Context, id string) (*jobber.InvoiceNode, error)
}

// Store is the subset of storage the reconciler writes through.
type Store interface {
	Upsert(ctx context.Context, et storage.EntityType, externalID string, fields storage.Fields) (storage.UpsertResult, error)
}

// Enqueuer accepts notifications for later delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, n notify.Notification) error
}

// DefaultFetchTimeout bounds one upstream fetch.
const DefaultFetchTimeout = 30 * time.Second

var (
	ErrMissingItemID     = errors.New("webhook has no item id")
	ErrUnsupportedEntity = errors.New("entity type is not reconciled")
)

// UpstreamFetchError reports that the authoritative fetch failed. Nothing was written.
type UpstreamFetchError struct {
	EntityType storage.EntityType
	ID         string
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	return fmt.Sprintf("fetch %s %q: %v", e.EntityType, e.ID, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// Result describes one reconcile.
type Result struct {
	Upsert        storage.UpsertResult
	Notifications []notify.Notification
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithPolicy(p Policy) Option {
	return func(r *Reconciler) { r.policy = p }
}

func WithTransitions(rules []TransitionRule) Option {
	return func(r *Reconciler) { r.rules = rules }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithMetrics(s metrics.Sink) Option {
	return func(r *Reconciler) { r.metrics = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler applies FSM entities to the local store.
type Reconciler struct {
	fetcher  Fetcher
	store    Store
	notifier Enqueuer
	policy   Policy
	rules    []TransitionRule
	timeout  time.Duration
	metrics  metrics.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Reconciler. notifier may be nil, in which case notifications are
// computed but not queued.
func New(f Fetcher, s Store, notifier Enqueuer, opts ...Option) *Reconciler {
	r := &Reconciler{
		fetcher:  f,
		store:    s,
		notifier: notifier,
		policy:   PolicyFirst,
		rules:    DefaultTransitions(),
		timeout:  DefaultFetchTimeout,
		metrics:  metrics.NewNoopSink(),
		logger:   log.WithComponent("reconcile"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile fetches the entity, upserts it and queues the resulting notifications.
// No lock or transaction is held during the fetch. A failed fetch writes nothing.
// Notification enqueue failures are logged and do not undo the upsert.
func (r *Reconciler) Reconcile(ctx context.Context, et storage.EntityType, itemID string) (*Result, error) {
	if itemID == "" {
		return nil, ErrMissingItemID
	}

	fields, err := r.fetch(ctx, et, itemID)
	if err != nil {
		return nil, err
	}

	res, err := r.store.Upsert(ctx, et, itemID, fields)
	if err != nil {
		return nil, fmt.Errorf("upsert %s %q: %w", et, itemID, err)
	}

	out := &Result{Upsert: res}
	for _, kind := range kindsFor(res, r.rules, r.policy) {
		n := r.notification(kind, res.Record)
		out.Notifications = append(out.Notifications, n)
		if r.notifier == nil {
			continue
		}
		if err := r.notifier.Enqueue(ctx, n); err != nil {
			r.logger.Error("enqueue notification failed", "kind", kind, "entity_type", et, "external_id", itemID, "error", err)
			continue
		}
		r.metrics.NotificationEnqueued(string(kind))
	}

	r.logger.Info("reconciled",
		"entity_type", et,
		"external_id", itemID,
		"created", res.Created,
		"notifications", len(out.Notifications),
	)
	return out, nil
}

func (r *Reconciler) fetch(ctx context.Context, et storage.EntityType, id string) (storage.Fields, error) {
	fctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.now()
	var (
		fields storage.Fields
		err    error
	)
	switch et {
	case storage.EntityClient:
		var c *jobber.ClientNode
		if c, err = r.fetcher.GetClient(fctx, id); err == nil {
			fields = ClientFields(c)
		}
	case storage.EntityJob:
		var j *jobber.JobNode
		if j, err = r.fetcher.GetJob(fctx, id); err == nil {
			fields = JobFields(j)
		}
	case storage.EntityInvoice:
		var inv *jobber.InvoiceNode
		if inv, err = r.fetcher.GetInvoice(fctx, id); err == nil {
			fields = InvoiceFields(inv)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEntity, et)
	}

	r.metrics.FetchObserved(string(et), fetchOutcome(err), r.now().Sub(start))
	if err != nil {
		return nil, &UpstreamFetchError{EntityType: et, ID: id, Err: err}
	}
	return fields, nil
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, jobber.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ratelimit.ErrLimited):
		return metrics.OutcomeLimited
	default:
		return metrics.OutcomeError
	}
}

func (r *Reconciler) notification(kind notify.Kind, rec storage.Record) notify.Notification {
	data := make(map[string]any, len(rec.Fields))
	maps.Copy(data, rec.Fields)
	return notify.Notification{
		Kind:       kind,
		EntityType: string(rec.EntityType),
		ExternalID: rec.ExternalID,
		Data:       data,
		CreatedAt:  r.now().UTC(),
	}
}
