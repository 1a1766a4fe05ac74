package envelope

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/zeebo/blake3"
)

// Source identifies which platform sent a webhook.
type Source string

const (
	SourceChat Source = "chat"
	SourceFSM  Source = "fsm"
)

// Kind is the event discriminator within a source: an event type, an interaction
// type, a slash command or an FSM topic.
type Kind string

// Chat event kinds.
const (
	KindMessage        Kind = "message"
	KindAppMention     Kind = "app_mention"
	KindChannelCreated Kind = "channel_created"
	KindChannelRename  Kind = "channel_rename"
	KindChannelArchive Kind = "channel_archive"
	KindTeamJoin       Kind = "team_join"
	KindAppUninstalled Kind = "app_uninstalled"
	KindTokensRevoked  Kind = "tokens_revoked"
	KindBlockActions   Kind = "block_actions"
	KindViewSubmission Kind = "view_submission"
	KindShortcut       Kind = "shortcut"
	KindSlashJobber    Kind = "/jobber"
)

// FSM topics.
const (
	KindClientCreate  Kind = "CLIENT_CREATE"
	KindClientUpdate  Kind = "CLIENT_UPDATE"
	KindClientDestroy Kind = "CLIENT_DESTROY"
	KindJobCreate     Kind = "JOB_CREATE"
	KindJobUpdate     Kind = "JOB_UPDATE"
	KindJobComplete   Kind = "JOB_COMPLETE"
	KindInvoiceCreate Kind = "INVOICE_CREATE"
	KindInvoiceUpdate Kind = "INVOICE_UPDATE"
)

// RawRequest is the untouched input of a webhook: the exact bytes that were signed.
type RawRequest struct {
	Headers    http.Header
	Body       []byte
	ReceivedAt time.Time
}

// NewRawRequest copies headers and body so later mutation by the caller cannot
// change what was verified.
func NewRawRequest(headers http.Header, body []byte, receivedAt time.Time) RawRequest {
	return RawRequest{
		Headers:    headers.Clone(),
		Body:       append([]byte(nil), body...),
		ReceivedAt: receivedAt,
	}
}

// Event is the canonical in-memory form of an inbound webhook.
type Event struct {
	Source          Source
	Kind            Kind
	TeamOrAccountID string
	Payload         map[string]any
	// IdempotencyKey is derived from the payload: message ts, trigger id or FSM item id.
	IdempotencyKey string
	// DeliveryID identifies one delivery: the chat event_id when present, otherwise
	// the body fingerprint.
	DeliveryID string
	ReceivedAt time.Time
}

// Result is what parsing produced. Exactly one of Challenge or Event is meaningful;
// both empty means there is nothing to dispatch.
type Result struct {
	Challenge string
	Event     *Event
}

// Fingerprint returns the hex BLAKE3 digest of a raw body.
func Fingerprint(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// String returns the string at key, or "" when absent or not a string.
func String(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Object returns the nested object at key, or nil.
func Object(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	o, _ := m[key].(map[string]any)
	return o
}
