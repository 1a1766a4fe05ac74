package queue

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusDelivering Status = "delivering"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

// Entry is one outbox row.
type Entry struct {
	ID          string
	Kind        string
	Payload     json.RawMessage
	Status      Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   *string
}

var ErrEntryNotFound = errors.New("outbox entry not found")
