// Package notify delivers business notifications produced by the reconciler to
// chat channels and message subscribers.
package notify

import (
	"context"
	"time"
)

// Kind names a notification.
type Kind string

const (
	KindClientCreated  Kind = "client_created"
	KindJobCreated     Kind = "job_created"
	KindJobCompleted   Kind = "job_completed"
	KindInvoiceCreated Kind = "invoice_created"
	KindInvoicePaid    Kind = "invoice_paid"
)

// Notification is one outbound message about a reconciled record.
type Notification struct {
	ID         string         `json:"id,omitempty"`
	Kind       Kind           `json:"kind"`
	EntityType string         `json:"entity_type"`
	ExternalID string         `json:"external_id"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Text returns a string field from Data, or "".
func (n Notification) Text(key string) string {
	s, _ := n.Data[key].(string)
	return s
}

// Bridge delivers a notification somewhere. Implementations must be safe for
// concurrent use.
type Bridge interface {
	Notify(ctx context.Context, n Notification) error
}

// BridgeFunc adapts a function to Bridge.
type BridgeFunc func(ctx context.Context, n Notification) error

func (f BridgeFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }
