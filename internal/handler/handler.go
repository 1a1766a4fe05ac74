// Package handler holds the domain handlers the dispatcher routes chat events and FSM
// webhooks to.
package handler

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/jobrelay/internal/dispatch"
	"github.com/mattjoyce/jobrelay/internal/envelope"
	"github.com/mattjoyce/jobrelay/internal/notify"
	"github.com/mattjoyce/jobrelay/internal/reconcile"
	"github.com/mattjoyce/jobrelay/internal/storage"
)

// Store is the storage surface the handlers read and write.
type Store interface {
	Upsert(ctx context.Context, et storage.EntityType, externalID string, fields storage.Fields) (storage.UpsertResult, error)
	Get(ctx context.Context, et storage.EntityType, externalID string) (storage.Record, error)
	List(ctx context.Context, et storage.EntityType, opts storage.ListOptions) ([]storage.Record, error)
	Count(ctx context.Context, et storage.EntityType, opts storage.ListOptions) (int, error)
	Deactivate(ctx context.Context, et storage.EntityType, externalID string) error
}

// Reconciler applies one FSM item to the store.
type Reconciler interface {
	Reconcile(ctx context.Context, et storage.EntityType, itemID string) (*reconcile.Result, error)
}

// Handlers binds storage, the reconciler and the chat poster. poster may be nil, in
// which case replies that would be posted are only logged.
type Handlers struct {
	store      Store
	reconciler Reconciler
	poster     notify.Poster
	logger     *slog.Logger
}

func New(store Store, reconciler Reconciler, poster notify.Poster, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:      store,
		reconciler: reconciler,
		poster:     poster,
		logger:     logger.With("component", "handler"),
	}
}

// Register installs every chat and FSM handler on d.
func (h *Handlers) Register(d *dispatch.Dispatcher) {
	chat := map[envelope.Kind]dispatch.HandlerFunc{
		envelope.KindMessage:        h.message,
		envelope.KindAppMention:     h.appMention,
		envelope.KindChannelCreated: h.channelCreated,
		envelope.KindChannelRename:  h.channelRename,
		envelope.KindChannelArchive: h.channelArchive,
		envelope.KindTeamJoin:       h.teamJoin,
		envelope.KindAppUninstalled: h.teamRevoked,
		envelope.KindTokensRevoked:  h.teamRevoked,
		envelope.KindBlockActions:   h.blockActions,
		envelope.KindViewSubmission: h.acknowledge,
		envelope.KindShortcut:       h.acknowledge,
		envelope.KindSlashJobber:    h.slashJobber,
	}
	for kind, fn := range chat {
		d.Register(envelope.SourceChat, kind, fn)
	}

	reconciled := map[envelope.Kind]storage.EntityType{
		envelope.KindClientCreate:  storage.EntityClient,
		envelope.KindClientUpdate:  storage.EntityClient,
		envelope.KindJobCreate:     storage.EntityJob,
		envelope.KindJobUpdate:     storage.EntityJob,
		envelope.KindJobComplete:   storage.EntityJob,
		envelope.KindInvoiceCreate: storage.EntityInvoice,
		envelope.KindInvoiceUpdate: storage.EntityInvoice,
	}
	for kind, et := range reconciled {
		d.Register(envelope.SourceFSM, kind, h.reconcileTopic(et))
	}
	d.Register(envelope.SourceFSM, envelope.KindClientDestroy, dispatch.HandlerFunc(h.clientDestroy))
}
