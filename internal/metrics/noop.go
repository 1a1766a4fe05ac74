package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) SignatureRejected(source string)                       {}
func (n *NoopSink) SignatureBypassed(source string)                       {}
func (n *NoopSink) EnvelopeRejected(source string, recoverable bool)      {}
func (n *NoopSink) DispatchOutcome(source, kind, outcome string)          {}
func (n *NoopSink) ReplaySuppressed(source string)                        {}
func (n *NoopSink) FetchObserved(entity, outcome string, d time.Duration) {}
func (n *NoopSink) RateLimited(client string)                             {}
func (n *NoopSink) NotificationEnqueued(kind string)                      {}
func (n *NoopSink) NotificationDelivered(kind, outcome string)            {}
