package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/jobrelay/internal/config"
	"github.com/mattjoyce/jobrelay/internal/dispatch"
	"github.com/mattjoyce/jobrelay/internal/envelope"
	"github.com/mattjoyce/jobrelay/internal/log"
	"github.com/mattjoyce/jobrelay/internal/metrics"
	"github.com/mattjoyce/jobrelay/internal/signature"
)

const (
	chatSecret = "chat-secret"
	fsmSecret  = "fsm-secret"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "text") // Suppress logs in tests
	os.Exit(m.Run())
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []*envelope.Event
	out    dispatch.Outcome
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev *envelope.Event) dispatch.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.out
}

func (f *fakeDispatcher) received() []*envelope.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*envelope.Event(nil), f.events...)
}

type recordingSink struct {
	metrics.NoopSink
	mu        sync.Mutex
	rejected  []string
	envelopes []bool
}

func (r *recordingSink) SignatureRejected(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, source)
}

func (r *recordingSink) EnvelopeRejected(_ string, recoverable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, recoverable)
}

type fixture struct {
	handler    http.Handler
	dispatcher *fakeDispatcher
	sink       *recordingSink
}

func newFixture(t *testing.T, out dispatch.Outcome, mutate ...func(*Options)) *fixture {
	t.Helper()
	chat, err := signature.NewChatVerifier(chatSecret)
	require.NoError(t, err)

	f := &fixture{dispatcher: &fakeDispatcher{out: out}, sink: &recordingSink{}}
	opts := Options{
		ServiceName:  "jobrelay-test",
		ChatVerifier: chat,
		FSMVerifier:  signature.NewFSMVerifier(fsmSecret, log.Discard(), nil),
		Dispatcher:   f.dispatcher,
		Metrics:      f.sink,
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.handler = New(Config{MaxBodySize: 4096}, opts, log.Discard()).Handler()
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func chatRequest(path, contentType string, body []byte) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(signature.HeaderChatTimestamp, ts)
	req.Header.Set(signature.HeaderChatSignature, signature.SignChat(chatSecret, ts, body))
	return req
}

func fsmRequest(body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, PathFSM, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderFSMSignature, signature.SignFSM(fsmSecret, body))
	return req
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestChatEventsChallenge(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{})
	body := []byte(`{"type":"url_verification","challenge":"abc123"}`)

	rr := f.do(chatRequest(PathChatEvents, "application/json", body))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"challenge": "abc123"}, decode(t, rr))
	assert.Empty(t, f.dispatcher.received())
}

func TestChatEventsDispatch(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{Handled: true})
	body := []byte(`{"type":"event_callback","team_id":"T1","event_id":"Ev1","event":{"type":"message","channel":"C1","ts":"1.2","text":"hi"}}`)

	rr := f.do(chatRequest(PathChatEvents, "application/json", body))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"status": "ok"}, decode(t, rr))
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))

	events := f.dispatcher.received()
	require.Len(t, events, 1)
	assert.Equal(t, envelope.SourceChat, events[0].Source)
	assert.Equal(t, envelope.Kind("message"), events[0].Kind)
}

func TestChatEventsInvalidSignature(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{})
	body := []byte(`{"type":"url_verification","challenge":"abc123"}`)
	req := chatRequest(PathChatEvents, "application/json", body)
	req.Header.Set(signature.HeaderChatSignature, "v0=deadbeef")

	rr := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, map[string]any{"error": "invalid request signature"}, decode(t, rr))
	assert.Equal(t, []string{"chat"}, f.sink.rejected)
	assert.Empty(t, f.dispatcher.received())
}

func TestChatEventsStaleTimestamp(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{})
	body := []byte(`{"type":"url_verification","challenge":"abc123"}`)
	ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, PathChatEvents, bytes.NewReader(body))
	req.Header.Set(signature.HeaderChatTimestamp, ts)
	req.Header.Set(signature.HeaderChatSignature, signature.SignChat(chatSecret, ts, body))

	rr := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestChatEventsRecoverableEnvelope(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{})

	rr := f.do(chatRequest(PathChatEvents, "application/json", []byte(`not json`)))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []bool{true}, f.sink.envelopes)
	assert.Empty(t, f.dispatcher.received())
}

func TestInteractionsMissingPayloadIsBadRequest(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{})

	rr := f.do(chatRequest(PathChatInteractions, "application/x-www-form-urlencoded", []byte("foo=bar")))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, []bool{false}, f.sink.envelopes)
}

func TestInteractionsReply(t *testing.T) {
	reply := &dispatch.Reply{Text: "Client: Acme", ResponseType: "ephemeral"}
	f := newFixture(t, dispatch.Outcome{Handled: true, Reply: reply})
	form := url.Values{"payload": {`{"type":"block_actions","trigger_id":"tr1","team":{"id":"T1"}}`}}

	rr := f.do(chatRequest(PathChatInteractions, "application/x-www-form-urlencoded", []byte(form.Encode())))

	assert.Equal(t, http.StatusOK, rr.Code)
	got := decode(t, rr)
	assert.Equal(t, "Client: Acme", got["text"])
	assert.Equal(t, "ephemeral", got["response_type"])

	events := f.dispatcher.received()
	require.Len(t, events, 1)
	assert.Equal(t, envelope.Kind("block_actions"), events[0].Kind)
}

func TestCommandsResponses(t *testing.T) {
	form := url.Values{"command": {"/jobber"}, "text": {"clients"}, "team_id": {"T1"}}
	body := []byte(form.Encode())

	tests := []struct {
		name     string
		out      dispatch.Outcome
		wantBody string
	}{
		{
			name:     "reply",
			out:      dispatch.Outcome{Handled: true, Reply: &dispatch.Reply{Text: "Active clients"}},
			wantBody: `{"text":"Active clients"}`,
		},
		{
			name:     "unknown command",
			out:      dispatch.Outcome{},
			wantBody: `{"text":"Unknown command"}`,
		},
		{
			name: "duplicate",
			out:  dispatch.Outcome{Duplicate: true},
		},
		{
			name: "handled without reply",
			out:  dispatch.Outcome{Handled: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.out)
			rr := f.do(chatRequest(PathChatCommands, "application/x-www-form-urlencoded", body))

			assert.Equal(t, http.StatusOK, rr.Code)
			if tt.wantBody == "" {
				assert.Empty(t, rr.Body.String())
				return
			}
			assert.JSONEq(t, tt.wantBody, rr.Body.String())
		})
	}
}

func TestFSMWebhook(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{Handled: true})
	body := []byte(`{"data":{"webHookEvent":{"topic":"JOB_UPDATE","itemId":"job_42","accountId":"acct_1"}}}`)

	rr := f.do(fsmRequest(body))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"status": "received"}, decode(t, rr))

	events := f.dispatcher.received()
	require.Len(t, events, 1)
	assert.Equal(t, envelope.SourceFSM, events[0].Source)
	assert.Equal(t, envelope.Kind("JOB_UPDATE"), events[0].Kind)
	assert.Equal(t, "job_42", events[0].IdempotencyKey)
}

func TestFSMWebhookHandlerErrorStillAcknowledged(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{Handled: true, Err: errors.New("upstream down")})

	rr := f.do(fsmRequest([]byte(`{"topic":"CLIENT_CREATE","itemId":"client_1"}`)))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"status": "received"}, decode(t, rr))
}

func TestFSMWebhookInvalidSignature(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{})
	req := fsmRequest([]byte(`{"topic":"CLIENT_CREATE","itemId":"client_1"}`))
	req.Header.Set(signature.HeaderFSMSignature, "bm90LXRoZS1zaWc=")

	rr := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, []string{"fsm"}, f.sink.rejected)
	assert.Empty(t, f.dispatcher.received())
}

func TestBodyTooLarge(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{})
	body := []byte(`{"topic":"JOB_UPDATE","pad":"` + strings.Repeat("x", 5000) + `"}`)

	rr := f.do(fsmRequest(body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, f.dispatcher.received())
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/unknown", strings.NewReader("{}"))

	rr := f.do(req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRequestIDPreserved(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{})
	req := httptest.NewRequest(http.MethodGet, PathHealth, nil)
	req.Header.Set("X-Request-Id", "req-123")

	rr := f.do(req)

	assert.Equal(t, "req-123", rr.Header().Get("X-Request-Id"))
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := newFixture(t, dispatch.Outcome{}, func(o *Options) {
			o.Checks = map[string]HealthCheck{"storage": func(context.Context) error { return nil }}
		})
		rr := f.do(httptest.NewRequest(http.MethodGet, PathHealth, nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "jobrelay-test", resp.Service)
		assert.Equal(t, map[string]string{"storage": "ok"}, resp.Checks)
	})

	t.Run("degraded", func(t *testing.T) {
		f := newFixture(t, dispatch.Outcome{}, func(o *Options) {
			o.Checks = map[string]HealthCheck{
				"storage": func(context.Context) error { return nil },
				"dedupe":  func(context.Context) error { return errors.New("connection refused") },
			}
		})
		rr := f.do(httptest.NewRequest(http.MethodGet, PathHealth, nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "connection refused", resp.Checks["dedupe"])
		assert.Equal(t, "ok", resp.Checks["storage"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(reg)
	sink.SignatureRejected("chat")

	f := newFixture(t, dispatch.Outcome{}, func(o *Options) { o.Gatherer = reg })
	rr := f.do(httptest.NewRequest(http.MethodGet, PathMetrics, nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `jobrelay_signature_rejected_total{source="chat"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	f := newFixture(t, dispatch.Outcome{})
	rr := f.do(httptest.NewRequest(http.MethodGet, PathMetrics, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFromGlobalConfig(t *testing.T) {
	tests := []struct {
		name    string
		size    string
		want    int64
		wantErr bool
	}{
		{name: "default", size: "", want: DefaultMaxBodySize},
		{name: "megabytes", size: "2MB", want: 2 * 1024 * 1024},
		{name: "invalid", size: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromGlobalConfig(config.HTTPConfig{Listen: "127.0.0.1:9000", MaxBodySize: tt.size})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.MaxBodySize)
			assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
		})
	}
}
