// Package ratelimit throttles provider send calls per linked account using
// a sliding window. A denied check records nothing, so a burst of rejected
// attempts never extends the lockout.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates an operation for a key. Allow reports whether the call may
// proceed and, when it may, counts it against the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

const retentionPeriod = 5 * time.Minute

type windowEntry struct {
	timestamps []time.Time
	lastUsed   time.Time
}

// MemoryLimiter is the single-process sliding-window limiter. Suitable when
// the service runs as one instance; multi-instance deployments should use
// the Redis limiter so all replicas share a window.
type MemoryLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	entries     map[string]*windowEntry
	lastCleanup time.Time
	now         func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:       limit,
		window:      window,
		entries:     make(map[string]*windowEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow counts events for key within the trailing window. The attempt is
// recorded only when admitted.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()
	cutoff := now.Add(-m.window)

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastCleanup) > retentionPeriod {
		m.cleanup(now)
	}

	entry, exists := m.entries[key]
	if !exists {
		entry = &windowEntry{}
		m.entries[key] = entry
	}
	entry.lastUsed = now

	// Drop events that slid out of the window.
	kept := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	entry.timestamps = kept

	if len(entry.timestamps) >= m.limit {
		return false, nil
	}

	entry.timestamps = append(entry.timestamps, now)
	return true, nil
}

func (m *MemoryLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-retentionPeriod)
	for key, entry := range m.entries {
		if entry.lastUsed.Before(cutoff) {
			delete(m.entries, key)
		}
	}
	m.lastCleanup = now
}

// ActiveKeys reports how many keys currently hold window state.
func (m *MemoryLimiter) ActiveKeys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
