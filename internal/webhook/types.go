package webhook

import (
	"context"
	"time"

	"github.com/mattjoyce/jobrelay/internal/dispatch"
	"github.com/mattjoyce/jobrelay/internal/envelope"
)

// Dispatcher routes a parsed event to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *envelope.Event) dispatch.Outcome
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Config holds webhook server configuration.
type Config struct {
	Listen      string
	MaxBodySize int64
}

// Route paths.
const (
	PathChatEvents       = "/webhooks/slack/events"
	PathChatInteractions = "/webhooks/slack/interactions"
	PathChatCommands     = "/webhooks/slack/commands"
	PathFSM              = "/webhooks/jobber"
	PathHealth           = "/health"
	PathMetrics          = "/metrics"
)

// StatusResponse acknowledges a delivery.
type StatusResponse struct {
	Status string `json:"status"`
}

// ChallengeResponse answers the chat URL verification handshake.
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

// ErrorResponse is the JSON response for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Default values
const (
	DefaultMaxBodySize = 1048576 // 1 MB
	DefaultListen      = "127.0.0.1:8080"

	healthTimeout = 2 * time.Second
)
