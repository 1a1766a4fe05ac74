package signature

import (
	"log/slog"
	"net/http"
	"strings"
)

// BypassRecorder is notified every time an FSM request is accepted without a secret.
type BypassRecorder interface {
	SignatureBypassed(source string)
}

// FSMVerifier implements the Jobber signing scheme.
type FSMVerifier struct {
	secret []byte
	logger *slog.Logger
	bypass BypassRecorder
}

// NewFSMVerifier returns a verifier for the FSM platform. An empty secret puts the
// verifier in development bypass mode, which is announced at construction and on
// every accepted request.
func NewFSMVerifier(secret string, logger *slog.Logger, bypass BypassRecorder) *FSMVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	v := &FSMVerifier{secret: []byte(secret), logger: logger, bypass: bypass}
	if secret == "" {
		logger.Warn("fsm webhook secret not configured; signature verification is DISABLED")
	}
	return v
}

// Bypassed reports whether the verifier accepts unsigned requests.
func (v *FSMVerifier) Bypassed() bool {
	return len(v.secret) == 0
}

// Verify accepts "sha256=<hex>" and bare "<hex>" under either header name.
func (v *FSMVerifier) Verify(headers http.Header, body []byte) bool {
	if v.Bypassed() {
		v.logger.Warn("fsm signature check bypassed (no secret configured)")
		if v.bypass != nil {
			v.bypass.SignatureBypassed("fsm")
		}
		return true
	}

	sig := headers.Get(HeaderFSMSignature)
	if sig == "" {
		sig = headers.Get(HeaderFSMLegacy)
	}
	if sig == "" {
		v.logger.Warn("fsm signature header missing")
		return false
	}

	sig = strings.TrimPrefix(strings.TrimSpace(sig), "sha256=")
	return equalHex(computeMAC(v.secret, body), sig)
}

// SignFSM returns the bare hex signature of body. Prefix with "sha256=" as needed.
func SignFSM(secret string, body []byte) string {
	return computeMAC([]byte(secret), body)
}
