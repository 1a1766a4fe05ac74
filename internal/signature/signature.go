// Package signature verifies that inbound webhooks really come from the platform that
// claims to have sent them.
//
// Two schemes are supported:
//
//   - Chat (Slack): HMAC-SHA256 over "v0:<timestamp>:<body>", sent as "v0=<hex>" in
//     X-Slack-Signature with the timestamp in X-Slack-Request-Timestamp. Requests
//     outside the freshness window are rejected even when the MAC matches.
//   - FSM (Jobber): HMAC-SHA256 over the raw body, sent as "<hex>" or "sha256=<hex>" in
//     X-Jobber-Hmac-SHA256 or X-Jobber-Signature. An empty secret disables the check.
//
// Verification always runs on the exact bytes received. Callers must not parse and
// re-encode the body before calling Verify.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// Header names used by the two platforms.
const (
	HeaderChatTimestamp = "X-Slack-Request-Timestamp"
	HeaderChatSignature = "X-Slack-Signature"
	HeaderFSMSignature  = "X-Jobber-Hmac-SHA256"
	HeaderFSMLegacy     = "X-Jobber-Signature"
)

// ErrSecretRequired is returned by constructors when a mandatory secret is missing.
var ErrSecretRequired = errors.New("signing secret is required")

// Verifier checks a raw request. A false result means the request must be rejected;
// it is never reported as an error.
type Verifier interface {
	Verify(headers http.Header, body []byte) bool
}

// computeMAC returns the hex-encoded HMAC-SHA256 of parts under secret.
func computeMAC(secret []byte, parts ...[]byte) string {
	mac := hmac.New(sha256.New, secret)
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// equalHex compares two hex strings in constant time after decoding. Malformed hex on
// the provided side simply fails the comparison.
func equalHex(expected, provided string) bool {
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}
