package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattjoyce/jobrelay/internal/log"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged and never propagated.
type PrometheusSink struct {
	signatureRejected *prometheus.CounterVec
	signatureBypassed *prometheus.CounterVec
	envelopeRejected  *prometheus.CounterVec

	dispatchOutcomes *prometheus.CounterVec
	replaySuppressed *prometheus.CounterVec

	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	rateLimited   *prometheus.CounterVec

	notificationsEnqueued  *prometheus.CounterVec
	notificationsDelivered *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initIngressMetrics(reg)
	s.initDispatchMetrics(reg)
	s.initUpstreamMetrics(reg)
	s.initNotificationMetrics(reg)
	return s
}

func (s *PrometheusSink) initIngressMetrics(reg prometheus.Registerer) {
	s.signatureRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrelay_signature_rejected_total",
		Help: "Requests rejected for a missing, stale or invalid signature.",
	}, []string{"source"})
	s.signatureBypassed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrelay_signature_bypassed_total",
		Help: "Requests accepted without verification because no secret is configured.",
	}, []string{"source"})
	s.envelopeRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrelay_envelope_rejected_total",
		Help: "Bodies that could not be parsed into an event.",
	}, []string{"source", "recoverable"})

	s.register(reg, s.signatureRejected, "jobrelay_signature_rejected_total")
	s.register(reg, s.signatureBypassed, "jobrelay_signature_bypassed_total")
	s.register(reg, s.envelopeRejected, "jobrelay_envelope_rejected_total")
}

func (s *PrometheusSink) initDispatchMetrics(reg prometheus.Registerer) {
	s.dispatchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrelay_dispatch_outcomes_total",
		Help: "Dispatched events by source, kind and outcome.",
	}, []string{"source", "kind", "outcome"})
	s.replaySuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrelay_replay_suppressed_total",
		Help: "Redelivered events acknowledged without running a handler.",
	}, []string{"source"})

	s.register(reg, s.dispatchOutcomes, "jobrelay_dispatch_outcomes_total")
	s.register(reg, s.replaySuppressed, "jobrelay_replay_suppressed_total")
}

func (s *PrometheusSink) initUpstreamMetrics(reg prometheus.Registerer) {
	s.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrelay_upstream_fetch_total",
		Help: "Authoritative record fetches by entity and outcome.",
	}, []string{"entity", "outcome"})
	s.fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobrelay_upstream_fetch_duration_seconds",
		Help:    "Authoritative record fetch latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"entity"})
	s.rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrelay_rate_limited_total",
		Help: "Outbound calls refused by the local rate limiter.",
	}, []string{"client"})

	s.register(reg, s.fetchTotal, "jobrelay_upstream_fetch_total")
	s.register(reg, s.fetchDuration, "jobrelay_upstream_fetch_duration_seconds")
	s.register(reg, s.rateLimited, "jobrelay_rate_limited_total")
}

func (s *PrometheusSink) initNotificationMetrics(reg prometheus.Registerer) {
	s.notificationsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrelay_notifications_enqueued_total",
		Help: "Notifications written to the outbox.",
	}, []string{"kind"})
	s.notificationsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrelay_notifications_delivered_total",
		Help: "Outbox deliveries by kind and outcome.",
	}, []string{"kind", "outcome"})

	s.register(reg, s.notificationsEnqueued, "jobrelay_notifications_enqueued_total")
	s.register(reg, s.notificationsDelivered, "jobrelay_notifications_delivered_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.WithComponent("metrics").Warn("failed to register collector", "name", name, "error", err)
	}
}

func (s *PrometheusSink) SignatureRejected(source string) {
	s.signatureRejected.WithLabelValues(source).Inc()
}

func (s *PrometheusSink) SignatureBypassed(source string) {
	s.signatureBypassed.WithLabelValues(source).Inc()
}

func (s *PrometheusSink) EnvelopeRejected(source string, recoverable bool) {
	s.envelopeRejected.WithLabelValues(source, strconv.FormatBool(recoverable)).Inc()
}

func (s *PrometheusSink) DispatchOutcome(source, kind, outcome string) {
	s.dispatchOutcomes.WithLabelValues(source, kind, outcome).Inc()
}

func (s *PrometheusSink) ReplaySuppressed(source string) {
	s.replaySuppressed.WithLabelValues(source).Inc()
}

func (s *PrometheusSink) FetchObserved(entity, outcome string, d time.Duration) {
	s.fetchTotal.WithLabelValues(entity, outcome).Inc()
	s.fetchDuration.WithLabelValues(entity).Observe(d.Seconds())
}

func (s *PrometheusSink) RateLimited(client string) {
	s.rateLimited.WithLabelValues(client).Inc()
}

func (s *PrometheusSink) NotificationEnqueued(kind string) {
	s.notificationsEnqueued.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) NotificationDelivered(kind, outcome string) {
	s.notificationsDelivered.WithLabelValues(kind, outcome).Inc()
}
