package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

// Chat envelope types.
const (
	typeURLVerification = "url_verification"
	typeEventCallback   = "event_callback"
)

// slashFields are copied verbatim from a slash-command form into the event payload.
var slashFields = []string{
	"command", "text", "user_id", "user_name", "channel_id", "channel_name",
	"team_id", "team_domain", "response_url", "trigger_id",
}

// ParseChatEvent handles JSON bodies posted to the chat events endpoint: the URL
// verification handshake and event callbacks. Other envelope types are passed through
// with the envelope type as kind so the dispatcher can log them.
func ParseChatEvent(raw RawRequest) (Result, error) {
	body, err := decodeObject(raw.Body)
	if err != nil {
		return Result{}, recoverable(SourceChat, "invalid JSON", err)
	}

	typ := String(body, "type")
	switch typ {
	case "":
		return Result{}, recoverable(SourceChat, "missing type", nil)

	case typeURLVerification:
		challenge := String(body, "challenge")
		if challenge == "" {
			return Result{}, recoverable(SourceChat, "url_verification without challenge", nil)
		}
		return Result{Challenge: challenge}, nil

	case typeEventCallback:
		inner := Object(body, "event")
		if inner == nil {
			return Result{}, recoverable(SourceChat, "event_callback without event", nil)
		}
		kind := String(inner, "type")
		if kind == "" {
			return Result{}, recoverable(SourceChat, "event without type", nil)
		}
		key := String(inner, "ts")
		if key == "" {
			key = String(inner, "event_ts")
		}
		delivery := String(body, "event_id")
		if delivery == "" {
			delivery = Fingerprint(raw.Body)
		}
		return Result{Event: &Event{
			Source:          SourceChat,
			Kind:            Kind(kind),
			TeamOrAccountID: String(body, "team_id"),
			Payload:         inner,
			IdempotencyKey:  key,
			DeliveryID:      delivery,
			ReceivedAt:      raw.ReceivedAt,
		}}, nil

	default:
		return Result{Event: &Event{
			Source:          SourceChat,
			Kind:            Kind(typ),
			TeamOrAccountID: String(body, "team_id"),
			Payload:         body,
			DeliveryID:      Fingerprint(raw.Body),
			ReceivedAt:      raw.ReceivedAt,
		}}, nil
	}
}

// ParseInteraction handles form bodies carrying a JSON "payload" field (buttons,
// modals, shortcuts). A missing payload field is not recoverable.
func ParseInteraction(raw RawRequest) (Result, error) {
	// ParseQuery keeps the pairs it could decode, so a bad escape elsewhere in the
	// body does not hide a usable payload.
	form, err := url.ParseQuery(string(raw.Body))
	if !form.Has("payload") {
		if err != nil {
			return Result{}, fatal(SourceChat, "invalid form body", err)
		}
		return Result{}, fatal(SourceChat, "missing payload field", nil)
	}

	payload, err := decodeObject([]byte(form.Get("payload")))
	if err != nil {
		return Result{}, recoverable(SourceChat, "payload is not a JSON object", err)
	}
	kind := String(payload, "type")
	if kind == "" {
		return Result{}, recoverable(SourceChat, "payload without type", nil)
	}

	return Result{Event: &Event{
		Source:          SourceChat,
		Kind:            Kind(kind),
		TeamOrAccountID: String(Object(payload, "team"), "id"),
		Payload:         payload,
		IdempotencyKey:  String(payload, "trigger_id"),
		DeliveryID:      Fingerprint(raw.Body),
		ReceivedAt:      raw.ReceivedAt,
	}}, nil
}

// ParseSlashCommand handles form-encoded slash command bodies. The command itself
// (e.g. "/jobber") is the kind.
func ParseSlashCommand(raw RawRequest) (Result, error) {
	form, err := url.ParseQuery(string(raw.Body))
	if err != nil {
		return Result{}, recoverable(SourceChat, "invalid form body", err)
	}
	command := strings.TrimSpace(form.Get("command"))
	if command == "" {
		return Result{}, recoverable(SourceChat, "missing command", nil)
	}

	payload := make(map[string]any, len(slashFields))
	for _, f := range slashFields {
		if form.Has(f) {
			payload[f] = form.Get(f)
		}
	}
	payload["command"] = command

	return Result{Event: &Event{
		Source:          SourceChat,
		Kind:            Kind(command),
		TeamOrAccountID: form.Get("team_id"),
		Payload:         payload,
		IdempotencyKey:  form.Get("trigger_id"),
		DeliveryID:      Fingerprint(raw.Body),
		ReceivedAt:      raw.ReceivedAt,
	}}, nil
}

// ParseFSMWebhook handles topic-based JSON webhooks. Both the flat shape
// {"topic","itemId","data"} and the nested {"data":{"webHookEvent":{...}}} shape are
// accepted.
func ParseFSMWebhook(raw RawRequest) (Result, error) {
	body, err := decodeObject(raw.Body)
	if err != nil {
		return Result{}, recoverable(SourceFSM, "invalid JSON", err)
	}

	envelope := body
	if nested := Object(Object(body, "data"), "webHookEvent"); nested != nil && String(body, "topic") == "" {
		envelope = nested
	}

	topic := String(envelope, "topic")
	if topic == "" {
		return Result{}, recoverable(SourceFSM, "missing topic", nil)
	}

	payload := Object(envelope, "data")
	if payload == nil {
		payload = envelope
	}

	return Result{Event: &Event{
		Source:          SourceFSM,
		Kind:            Kind(topic),
		TeamOrAccountID: scalar(envelope["accountId"]),
		Payload:         payload,
		IdempotencyKey:  scalar(envelope["itemId"]),
		DeliveryID:      Fingerprint(raw.Body),
		ReceivedAt:      raw.ReceivedAt,
	}}, nil
}

var errNotObject = errors.New("body is not a JSON object")

func decodeObject(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errNotObject
	}
	return m, nil
}

// scalar renders an id that may arrive as a JSON string or number.
func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
