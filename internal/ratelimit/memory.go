package ratelimit

import (
	"context"
	"sync"
	"time"
)

// account tracks one caller's remaining budget within a traffic class.
type account struct {
	remaining float64
	seen      time.Time
}

// MemoryLimiter is a per-caller token bucket limiter for single-instance
// deployments. Each (rule, caller) pair refills at the rule's rate up to
// its burst capacity; idle callers are reclaimed in the background.
type MemoryLimiter struct {
	defaultRate  float64 // tokens added per second
	defaultBurst float64 // bucket capacity

	mu       sync.Mutex
	accounts map[string]*account

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter whose default budget is rate
// requests per second with the given burst capacity. Rules may override
// the default per traffic class. Call Close to stop the eviction loop.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		defaultRate:  rate,
		defaultBurst: float64(burst),
		accounts:     map[string]*account{},
		done:         make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

func (m *MemoryLimiter) budget(rule Rule) (rate, burst float64) {
	rate, burst = m.defaultRate, m.defaultBurst
	if rule.Rate > 0 {
		rate = rule.Rate
	}
	if rule.Burst > 0 {
		burst = float64(rule.Burst)
	}
	return rate, burst
}

// Allow consumes one token from the caller's bucket in the rule's traffic
// class. Returns true if a token was available, false when rate limited.
func (m *MemoryLimiter) Allow(_ context.Context, rule Rule, key string) (bool, error) {
	rate, burst := m.budget(rule)
	id := rule.Name + ":" + key
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		// First request: a full bucket minus the token just spent.
		m.accounts[id] = &account{remaining: burst - 1, seen: now}
		return true, nil
	}

	a.remaining += now.Sub(a.seen).Seconds() * rate
	if a.remaining > burst {
		a.remaining = burst
	}
	a.seen = now

	if a.remaining < 1 {
		return false, nil
	}
	a.remaining--
	return true, nil
}

// Close stops the eviction loop. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

// idleTimeout is how long a caller may stay silent before its bucket is
// reclaimed. An evicted caller simply starts over with a full bucket.
const idleTimeout = 10 * time.Minute

func (m *MemoryLimiter) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle(time.Now())
		}
	}
}

func (m *MemoryLimiter) evictIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range m.accounts {
		if now.Sub(a.seen) > idleTimeout {
			delete(m.accounts, id)
		}
	}
}
