// Package metrics records relay counters. Every method is fire-and-forget: a sink
// never blocks the request path and never returns an error.
package metrics

import "time"

// Sink is the recording surface used across the relay.
type Sink interface {
	// Ingress
	SignatureRejected(source string)
	SignatureBypassed(source string)
	EnvelopeRejected(source string, recoverable bool)

	// Dispatch
	DispatchOutcome(source, kind, outcome string)
	ReplaySuppressed(source string)

	// Upstream
	FetchObserved(entity, outcome string, d time.Duration)
	RateLimited(client string)

	// Notifications
	NotificationEnqueued(kind string)
	NotificationDelivered(kind, outcome string)
}

// Dispatch outcomes.
const (
	OutcomeHandled   = "handled"
	OutcomeUnhandled = "unhandled"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
)

// Fetch and delivery outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeLimited  = "rate_limited"
	OutcomeError    = "error"
)
