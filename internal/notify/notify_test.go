package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/jobrelay/internal/log"
	"github.com/mattjoyce/jobrelay/internal/slack"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "text")
	os.Exit(m.Run())
}

type fakePoster struct {
	mu   sync.Mutex
	msgs []slack.Message
	err  error
}

func (p *fakePoster) PostMessage(_ context.Context, msg slack.Message) (*slack.Posted, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.msgs = append(p.msgs, msg)
	return &slack.Posted{Channel: msg.Channel, TS: "1.1"}, nil
}

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu  sync.Mutex
	out []published
	err error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.out = append(p.out, published{subject: subject, data: data})
	return nil
}

func jobCompleted() Notification {
	return Notification{
		Kind:       KindJobCompleted,
		EntityType: "JOB",
		ExternalID: "job_42",
		Data:       map[string]any{"title": "Fix sink", "status": "completed"},
	}
}

func TestSlackBridge(t *testing.T) {
	p := &fakePoster{}
	require.NoError(t, NewSlack(p, "C-ops").Notify(context.Background(), jobCompleted()))

	require.Len(t, p.msgs, 1)
	assert.Equal(t, "C-ops", p.msgs[0].Channel)
	assert.Equal(t, "Job completed: Fix sink", p.msgs[0].Text)
	assert.NotEmpty(t, p.msgs[0].Blocks)

	assert.Error(t, NewSlack(p, "").Notify(context.Background(), jobCompleted()))
}

func TestNATSBridge(t *testing.T) {
	pub := &fakePublisher{}
	b := NewNATS(pub, "relay.events.")
	assert.Equal(t, "relay.events.job_completed", b.Subject(KindJobCompleted))
	assert.Equal(t, "jobrelay.notifications.client_created", NewNATS(pub, "").Subject(KindClientCreated))

	require.NoError(t, b.Notify(context.Background(), jobCompleted()))
	require.Len(t, pub.out, 1)
	assert.Equal(t, "relay.events.job_completed", pub.out[0].subject)

	var got Notification
	require.NoError(t, json.Unmarshal(pub.out[0].data, &got))
	assert.Equal(t, "job_42", got.ExternalID)
	assert.Equal(t, "Fix sink", got.Text("title"))

	pub.err = errors.New("nats: connection closed")
	assert.ErrorContains(t, b.Notify(context.Background(), jobCompleted()), "connection closed")
}

func TestMultiJoinsErrors(t *testing.T) {
	var calls int
	ok := BridgeFunc(func(context.Context, Notification) error { calls++; return nil })
	bad := BridgeFunc(func(context.Context, Notification) error { calls++; return errors.New("down") })

	err := Multi{bad, ok, NewLog(log.Discard())}.Notify(context.Background(), jobCompleted())
	assert.EqualError(t, err, "down")
	assert.Equal(t, 2, calls)

	assert.NoError(t, Multi{}.Notify(context.Background(), jobCompleted()))
}
