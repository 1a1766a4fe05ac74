package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "jobrelay.notifications"

// Publisher is the core NATS publish call. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials url with reconnects enabled for the life of the process.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("jobrelay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// NATSBridge publishes each notification as JSON on <prefix>.<kind>.
type NATSBridge struct {
	pub    Publisher
	prefix string
}

func NewNATS(pub Publisher, prefix string) *NATSBridge {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSBridge{pub: pub, prefix: prefix}
}

// Subject returns the subject a notification of kind is published on.
func (b *NATSBridge) Subject(kind Kind) string {
	return b.prefix + "." + string(kind)
}

func (b *NATSBridge) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", n.Kind, err)
	}
	if err := b.pub.Publish(b.Subject(n.Kind), data); err != nil {
		return fmt.Errorf("notify: publish %s: %w", b.Subject(n.Kind), err)
	}
	return nil
}
