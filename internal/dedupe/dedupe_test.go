package dedupe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestRedisClaim(t *testing.T) {
	mr, client := setupTestRedis(t)
	d := NewRedisWithClient(client, time.Minute)
	defer d.Close()
	ctx := context.Background()

	ok, err := d.Claim(ctx, "Ev08MFMKH6")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "Ev08MFMKH6")
	require.NoError(t, err)
	assert.False(t, ok, "second claim within TTL is a replay")

	assert.True(t, mr.Exists(keyPrefix+"Ev08MFMKH6"))
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"Ev08MFMKH6"))

	mr.FastForward(2 * time.Minute)
	ok, err = d.Claim(ctx, "Ev08MFMKH6")
	require.NoError(t, err)
	assert.True(t, ok, "claim expires after TTL")
}

func TestRedisClaimError(t *testing.T) {
	mr, client := setupTestRedis(t)
	d := NewRedisWithClient(client, 0)
	mr.Close()

	_, err := d.Claim(context.Background(), "Ev1")
	assert.Error(t, err)
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	d, err := NewRedis(context.Background(), "redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	defer d.Close()

	ok, err := d.Claim(context.Background(), "Ev1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = NewRedis(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}

func TestMemoryClaim(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(time.Hour)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := m.Claim(ctx, "a")
	assert.True(t, ok)
	ok, _ = m.Claim(ctx, "a")
	assert.False(t, ok)
	ok, _ = m.Claim(ctx, "b")
	assert.True(t, ok)
	assert.Equal(t, 2, m.Len())

	now = now.Add(time.Hour)
	ok, _ = m.Claim(ctx, "a")
	assert.True(t, ok, "expired claims are pruned")
	assert.Equal(t, 1, m.Len())
}

func TestMemoryPrunesOnlyExpiredPrefix(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 100 {
		ok, err := m.Claim(ctx, fmt.Sprintf("old-%d", i))
		require.NoError(t, err)
		assert.True(t, ok)
	}
	now = now.Add(30 * time.Second)
	ok, _ := m.Claim(ctx, "young")
	assert.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, _ = m.Claim(ctx, "young")
	assert.False(t, ok, "unexpired claim survives pruning")
	assert.Equal(t, 1, m.Len())
	assert.Len(t, m.order, 1)

	ok, _ = m.Claim(ctx, "old-5")
	assert.True(t, ok)
}
