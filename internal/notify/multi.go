package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Multi delivers to every bridge and joins their errors. A failing bridge does not
// stop the others.
type Multi []Bridge

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, b := range m {
		if err := b.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogBridge writes notifications to the log. Used when no other bridge is configured.
type LogBridge struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *LogBridge {
	return &LogBridge{logger: logger}
}

func (b *LogBridge) Notify(_ context.Context, n Notification) error {
	b.logger.Info("notification",
		"id", n.ID,
		"kind", n.Kind,
		"entity_type", n.EntityType,
		"external_id", n.ExternalID,
	)
	return nil
}
