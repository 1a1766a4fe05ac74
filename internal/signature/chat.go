package signature

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultFreshnessWindow is the maximum age of a signed chat request.
const DefaultFreshnessWindow = 300 * time.Second

const chatVersion = "v0"

// ChatVerifier implements the Slack signing scheme.
type ChatVerifier struct {
	secret []byte
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// ChatOption customizes a ChatVerifier.
type ChatOption func(*ChatVerifier)

// WithClock injects the time source used for the freshness check.
func WithClock(now func() time.Time) ChatOption {
	return func(v *ChatVerifier) { v.now = now }
}

// WithFreshnessWindow overrides DefaultFreshnessWindow. Non-positive values are ignored.
func WithFreshnessWindow(d time.Duration) ChatOption {
	return func(v *ChatVerifier) {
		if d > 0 {
			v.window = d
		}
	}
}

// WithChatLogger sets the logger used for rejection diagnostics.
func WithChatLogger(l *slog.Logger) ChatOption {
	return func(v *ChatVerifier) { v.logger = l }
}

// NewChatVerifier returns a verifier for the chat platform. The secret is mandatory.
func NewChatVerifier(secret string, opts ...ChatOption) (*ChatVerifier, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}
	v := &ChatVerifier{
		secret: []byte(secret),
		window: DefaultFreshnessWindow,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify fails closed on missing or malformed headers, stale timestamps and MAC
// mismatches.
func (v *ChatVerifier) Verify(headers http.Header, body []byte) bool {
	ts := headers.Get(HeaderChatTimestamp)
	sig := headers.Get(HeaderChatSignature)
	if ts == "" || sig == "" {
		v.logger.Warn("chat signature headers missing")
		return false
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		v.logger.Warn("chat timestamp malformed")
		return false
	}
	age := v.now().Sub(time.Unix(sec, 0))
	if age < 0 {
		age = -age
	}
	if age > v.window {
		v.logger.Warn("chat timestamp outside freshness window", "age_seconds", int64(age.Seconds()))
		return false
	}

	provided, ok := strings.CutPrefix(sig, chatVersion+"=")
	if !ok {
		v.logger.Warn("chat signature has unsupported version")
		return false
	}

	expected := computeMAC(v.secret, []byte(chatVersion+":"+ts+":"), body)
	return equalHex(expected, provided)
}

// SignChat produces the X-Slack-Signature value for a timestamp and raw body.
func SignChat(secret, timestamp string, body []byte) string {
	return chatVersion + "=" + computeMAC([]byte(secret), []byte(chatVersion+":"+timestamp+":"), body)
}
