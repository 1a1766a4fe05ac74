// Package dedupe suppresses redelivered chat events by claiming their delivery ids
// for a bounded time.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a delivery id stays claimed.
const DefaultTTL = time.Hour

const keyPrefix = "jobrelay:delivery:"

// Deduper claims delivery ids. Claim reports true the first time an id is seen
// within the TTL.
type Deduper interface {
	Claim(ctx context.Context, deliveryID string) (bool, error)
	Close() error
}

type redisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration) (Deduper, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisWithClient(client, ttl), nil
}

// NewRedisWithClient wraps an existing client. The deduper owns the client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) Deduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisDeduper{client: client, ttl: ttl}
}

func (r *redisDeduper) Claim(ctx context.Context, deliveryID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+deliveryID, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	return ok, nil
}

func (r *redisDeduper) Close() error {
	return r.client.Close()
}

// Memory is a single-process Deduper used when Redis is not configured.
type Memory struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
	order  []claim // expiry order, oldest first
}

type claim struct {
	id  string
	exp time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, claims: make(map[string]time.Time)}
}

func (m *Memory) Claim(_ context.Context, deliveryID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prune(now)
	if exp, ok := m.claims[deliveryID]; ok && now.Before(exp) {
		return false, nil
	}
	exp := now.Add(m.ttl)
	m.claims[deliveryID] = exp
	m.order = append(m.order, claim{id: deliveryID, exp: exp})
	return true, nil
}

// prune drops expired claims from the front of the expiry queue.
func (m *Memory) prune(now time.Time) {
	i := 0
	for i < len(m.order) && !now.Before(m.order[i].exp) {
		c := m.order[i]
		if exp, ok := m.claims[c.id]; ok && exp.Equal(c.exp) {
			delete(m.claims, c.id)
		}
		i++
	}
	if i > 0 {
		m.order = append(m.order[:0], m.order[i:]...)
	}
}

// Len returns the number of live claims.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

func (m *Memory) Close() error { return nil }
