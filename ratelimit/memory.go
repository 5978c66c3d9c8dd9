// Package ratelimit provides the attempt limiters used by the password
// strategy: an in process token bucket and a Redis fixed window shared
// by every replica.
package ratelimit

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-identity"
)

// Memory keeps one token bucket per action and key. A bucket holds
// attempts tokens and refills one token every window/attempts.
type Memory struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	stopOnce sync.Once
	stop     chan struct{}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

var _ identity.RateLimiter = (*Memory)(nil)

// NewMemory returns a limiter allowing attempts per window.
func NewMemory(attempts int, window time.Duration) (*Memory, error) {
	if attempts <= 0 || window <= 0 {
		return nil, goerrors.New("rate limit attempts and window must be positive", goerrors.CategoryBadInput)
	}
	return &Memory{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(attempts) / window.Seconds()),
		burst:   attempts,
		idleTTL: window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}, nil
}

func (m *Memory) Allow(_ context.Context, action, key string) (bool, error) {
	now := m.now()
	id := action + ":" + key

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[id]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[id] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1), nil
}

// Sweep drops buckets idle for longer than a window. A dropped bucket
// would have refilled completely anyway.
func (m *Memory) Sweep() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Start sweeps idle buckets every interval until ctx is done or Stop is
// called.
func (m *Memory) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// FromConfig returns the Redis limiter when a Redis URL is configured and
// the in process limiter otherwise.
func FromConfig(ctx context.Context, cfg identity.RateLimitConfig) (identity.RateLimiter, error) {
	if cfg.RedisURL != "" {
		return NewRedisFromURL(ctx, cfg.RedisURL, cfg.Attempts, cfg.Window)
	}
	return NewMemory(cfg.Attempts, cfg.Window)
}
