package dispatch

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/jobrelay/internal/envelope"
	"github.com/mattjoyce/jobrelay/internal/log"
	"github.com/mattjoyce/jobrelay/internal/metrics"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "text") // Suppress logs in tests
	os.Exit(m.Run())
}

type fakeDeduper struct {
	seen map[string]bool
	err  error
}

func (f *fakeDeduper) Claim(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

func chatEvent(kind envelope.Kind, delivery string) *envelope.Event {
	return &envelope.Event{Source: envelope.SourceChat, Kind: kind, DeliveryID: delivery, Payload: map[string]any{}}
}

func TestDispatchUnknownKey(t *testing.T) {
	d := New()
	out := d.Dispatch(context.Background(), &envelope.Event{Source: envelope.SourceFSM, Kind: "QUOTE_CREATE"})
	assert.False(t, out.Handled)
	assert.NoError(t, out.Err)
	assert.Nil(t, out.Reply)
}

func TestDispatchRoutesBySourceAndKind(t *testing.T) {
	d := New()
	var got []string
	d.RegisterFunc(envelope.SourceFSM, envelope.KindJobUpdate, func(_ context.Context, ev *envelope.Event) (*Reply, error) {
		got = append(got, "fsm:"+ev.IdempotencyKey)
		return nil, nil
	})
	d.RegisterFunc(envelope.SourceChat, envelope.KindSlashJobber, func(context.Context, *envelope.Event) (*Reply, error) {
		return &Reply{Text: "ok"}, nil
	})

	out := d.Dispatch(context.Background(), &envelope.Event{Source: envelope.SourceFSM, Kind: envelope.KindJobUpdate, IdempotencyKey: "job_42"})
	assert.True(t, out.Handled)
	assert.Equal(t, []string{"fsm:job_42"}, got)

	out = d.Dispatch(context.Background(), chatEvent(envelope.KindSlashJobber, "d1"))
	require.NotNil(t, out.Reply)
	assert.Equal(t, "ok", out.Reply.Text)

	// Same kind under the other source is not routed.
	out = d.Dispatch(context.Background(), &envelope.Event{Source: envelope.SourceChat, Kind: envelope.KindJobUpdate})
	assert.False(t, out.Handled)
	assert.Len(t, d.Keys(), 2)
}

func TestDispatchHandlerErrorIsContained(t *testing.T) {
	d := New()
	boom := errors.New("boom")
	d.RegisterFunc(envelope.SourceFSM, envelope.KindClientCreate, func(context.Context, *envelope.Event) (*Reply, error) {
		return nil, boom
	})

	out := d.Dispatch(context.Background(), &envelope.Event{Source: envelope.SourceFSM, Kind: envelope.KindClientCreate})
	assert.True(t, out.Handled)
	assert.ErrorIs(t, out.Err, boom)
}

func TestDispatchRecoversPanic(t *testing.T) {
	d := New()
	d.RegisterFunc(envelope.SourceChat, envelope.KindMessage, func(context.Context, *envelope.Event) (*Reply, error) {
		panic("nil map")
	})

	var out Outcome
	assert.NotPanics(t, func() {
		out = d.Dispatch(context.Background(), chatEvent(envelope.KindMessage, "d1"))
	})
	assert.True(t, out.Handled)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "nil map")
}

func TestDispatchSuppressesChatReplays(t *testing.T) {
	dd := &fakeDeduper{seen: map[string]bool{}}
	reg := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(reg)
	d := New(WithDeduper(dd), WithMetrics(sink))

	calls := 0
	count := func(context.Context, *envelope.Event) (*Reply, error) { calls++; return nil, nil }
	d.RegisterFunc(envelope.SourceChat, envelope.KindMessage, count)
	d.RegisterFunc(envelope.SourceFSM, envelope.KindJobUpdate, count)

	first := d.Dispatch(context.Background(), chatEvent(envelope.KindMessage, "Ev1"))
	second := d.Dispatch(context.Background(), chatEvent(envelope.KindMessage, "Ev1"))
	assert.True(t, first.Handled)
	assert.False(t, second.Handled)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, calls)

	// FSM events bypass replay suppression.
	fsm := &envelope.Event{Source: envelope.SourceFSM, Kind: envelope.KindJobUpdate, DeliveryID: "same"}
	d.Dispatch(context.Background(), fsm)
	d.Dispatch(context.Background(), fsm)
	assert.Equal(t, 3, calls)

	n, err := testutil.GatherAndCount(reg, "jobrelay_replay_suppressed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatchFailsOpenWhenDeduperErrors(t *testing.T) {
	d := New(WithDeduper(&fakeDeduper{err: errors.New("redis down")}))
	calls := 0
	d.RegisterFunc(envelope.SourceChat, envelope.KindMessage, func(context.Context, *envelope.Event) (*Reply, error) {
		calls++
		return nil, nil
	})

	out := d.Dispatch(context.Background(), chatEvent(envelope.KindMessage, "Ev1"))
	assert.True(t, out.Handled)
	assert.Equal(t, 1, calls)
}
