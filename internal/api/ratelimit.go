package api

import (
	"sync"
	"time"
)

// RateLimitStore counts requests per key inside a fixed window. The support
// endpoint takes it as a dependency so tests can swap in their own store.
type RateLimitStore interface {
	Allow(key string, limit int, window time.Duration) bool
}

type rateWindow struct {
	start time.Time
	count int
}

// MemoryRateLimit is the default in-process RateLimitStore.
type MemoryRateLimit struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

type RateLimitOption func(*MemoryRateLimit)

// WithRateLimitClock overrides the clock, for tests.
func WithRateLimitClock(now func() time.Time) RateLimitOption {
	return func(m *MemoryRateLimit) { m.now = now }
}

func NewMemoryRateLimit(opts ...RateLimitOption) *MemoryRateLimit {
	m := &MemoryRateLimit{
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryRateLimit) Allow(key string, limit int, window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= window {
		m.windows[key] = &rateWindow{start: now, count: 1}
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}
