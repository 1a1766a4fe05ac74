package handler

import (
	"context"
	"errors"

	"github.com/mattjoyce/jobrelay/internal/dispatch"
	"github.com/mattjoyce/jobrelay/internal/envelope"
	"github.com/mattjoyce/jobrelay/internal/reconcile"
	"github.com/mattjoyce/jobrelay/internal/storage"
)

func (h *Handlers) reconcileTopic(et storage.EntityType) dispatch.HandlerFunc {
	return func(ctx context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
		res, err := h.reconciler.Reconcile(ctx, et, ev.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		h.logger.Info("fsm record reconciled",
			"topic", ev.Kind,
			"entity_type", et,
			"external_id", res.Upsert.Record.ExternalID,
			"created", res.Upsert.Created,
			"notifications", len(res.Notifications),
		)
		return nil, nil
	}
}

// clientDestroy soft-deactivates the client. The entity no longer exists upstream,
// so nothing is fetched.
func (h *Handlers) clientDestroy(ctx context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
	if ev.IdempotencyKey == "" {
		return nil, reconcile.ErrMissingItemID
	}
	err := h.store.Deactivate(ctx, storage.EntityClient, ev.IdempotencyKey)
	if errors.Is(err, storage.ErrNotFound) {
		h.logger.Info("destroy for unknown client ignored", "external_id", ev.IdempotencyKey)
		return nil, nil
	}
	if err == nil {
		h.logger.Info("client deactivated", "external_id", ev.IdempotencyKey)
	}
	return nil, err
}
