package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// EntityType names a kind of locally mirrored record.
type EntityType string

const (
	EntityClient  EntityType = "CLIENT"
	EntityJob     EntityType = "JOB"
	EntityInvoice EntityType = "INVOICE"
	EntityTeam    EntityType = "TEAM"
	EntityUser    EntityType = "USER"
	EntityChannel EntityType = "CHANNEL"
	EntityMessage EntityType = "MESSAGE"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrUnknownEntity    = errors.New("unknown entity type")
	ErrUnknownField     = errors.New("unknown field")
	ErrEmptyExternalID  = errors.New("external id is empty")
	ErrNotDeactivatable = errors.New("entity type cannot be deactivated")
)

// Fields maps column names to values for an upsert. A key with a nil value writes
// NULL; a missing key leaves the stored value untouched. An empty parent reference is
// stored as NULL.
type Fields map[string]any

// EntityRef is what the reconciler knows about a record before it is overwritten.
type EntityRef struct {
	ExternalID      string
	EntityType      EntityType
	LastKnownStatus *string
}

// Record is a stored entity row.
type Record struct {
	ID         int64
	EntityType EntityType
	ExternalID string
	Status     *string
	Fields     map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Text returns a text column value or "" when NULL.
func (r Record) Text(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

// Bool returns a boolean column value, false when NULL.
func (r Record) Bool(name string) bool {
	b, _ := r.Fields[name].(bool)
	return b
}

// JSON returns a JSON column value, nil when NULL.
func (r Record) JSON(name string) json.RawMessage {
	raw, _ := r.Fields[name].(json.RawMessage)
	return raw
}

// Ref returns the record's identity and current status.
func (r Record) Ref() EntityRef {
	return EntityRef{ExternalID: r.ExternalID, EntityType: r.EntityType, LastKnownStatus: r.Status}
}

// UpsertResult describes the outcome of one atomic upsert.
type UpsertResult struct {
	Record  Record
	Created bool
	// Prior is the state read under lock before the overwrite. Its LastKnownStatus is
	// nil when the row was just created.
	Prior EntityRef
}

// ListOptions filters List and Count.
type ListOptions struct {
	ActiveOnly bool
	Limit      int
}
