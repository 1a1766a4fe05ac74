package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/jobrelay/internal/storage"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Bootstrap(context.Background(), db))
	return New(db)
}

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, "client_created", []byte(`{"external_id":"client_1"}`))
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, "job_completed", nil)
	require.NoError(t, err)

	e1, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, e1)
	assert.Equal(t, id1, e1.ID)
	assert.Equal(t, StatusDelivering, e1.Status)
	assert.NotNil(t, e1.StartedAt)
	assert.JSONEq(t, `{"external_id":"client_1"}`, string(e1.Payload))

	e2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, e2)
	assert.Equal(t, id2, e2.ID)
	assert.JSONEq(t, `{}`, string(e2.Payload))

	e3, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, e3, "empty outbox")
}

func TestQueueComplete(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "invoice_paid", []byte(`{}`))
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	msg := "channel_not_found"
	require.NoError(t, q.Complete(ctx, id, StatusFailed, &msg))

	e, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, e.Status)
	require.NotNil(t, e.LastError)
	assert.Equal(t, msg, *e.LastError)
	assert.NotNil(t, e.CompletedAt)

	assert.Error(t, q.Complete(ctx, id, StatusQueued, nil))
	assert.ErrorIs(t, q.Complete(ctx, "missing", StatusDelivered, nil), ErrEntryNotFound)
	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	_, err = q.Enqueue(ctx, "", nil)
	assert.Error(t, err)
}

func TestQueueRequeueInFlightAndDepth(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	for range 3 {
		_, err := q.Enqueue(ctx, "job_created", nil)
		require.NoError(t, err)
	}
	e, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, e)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusQueued: 2, StatusDelivering: 1}, depth)

	n, err := q.RequeueInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusQueued: 3}, depth)
}

func TestQueuePrune(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	old, err := q.Enqueue(ctx, "job_created", nil)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, old, StatusDelivered, nil))

	now = now.Add(48 * time.Hour)
	pending, err := q.Enqueue(ctx, "job_created", nil)
	require.NoError(t, err)

	n, err := q.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.Get(ctx, old)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = q.Get(ctx, pending)
	assert.NoError(t, err)
}
