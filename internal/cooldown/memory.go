package cooldown

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. It backs tests and DSN-less runs; cooldowns
// held here do not survive a restart, so production deployments should use
// the Postgres-backed store instead.
type Memory struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemory constructs an empty in-memory cooldown store.
func NewMemory() *Memory {
	return &Memory{last: make(map[string]time.Time)}
}

// IsEligible reports whether the key is outside its cooldown window.
func (m *Memory) IsEligible(_ context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eligibleLocked(key, now, window), nil
}

// RecordAlert overwrites the last-alert timestamp for the key.
func (m *Memory) RecordAlert(_ context.Context, key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[key] = now
	return nil
}

// TryAcquire checks eligibility and records the alert under one lock hold.
func (m *Memory) TryAcquire(_ context.Context, key string, now time.Time, window time.Duration) (ReleaseFunc, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.eligibleLocked(key, now, window) {
		return nil, false, nil
	}

	prev, existed := m.last[key]
	m.last[key] = now

	release := func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.last[key] = prev
		} else {
			delete(m.last, key)
		}
		return nil
	}
	return release, true, nil
}

func (m *Memory) eligibleLocked(key string, now time.Time, window time.Duration) bool {
	last, ok := m.last[key]
	if !ok {
		return true
	}
	return now.Sub(last) >= window
}

var _ Store = (*Memory)(nil)
