package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, rate float64, burst int) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter(rate, burst)
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close error: %v", err)
		}
	})
	return m
}

func TestDecideAllowsUpToBurst(t *testing.T) {
	m := newTestLimiter(t, 10, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, RuleDecide, "10.0.0.1")
		if err != nil {
			t.Fatalf("Allow error on request %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d should be within the decide burst", i)
		}
	}

	ok, err := m.Allow(ctx, RuleDecide, "10.0.0.1")
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if ok {
		t.Fatal("expected decide traffic to be limited after the burst")
	}
}

func TestRulesHaveIndependentBudgets(t *testing.T) {
	m := newTestLimiter(t, 10, 1)
	ctx := context.Background()

	// Exhaust the decide budget for this caller.
	if ok, _ := m.Allow(ctx, RuleDecide, "10.0.0.1"); !ok {
		t.Fatal("first decide should succeed")
	}
	if ok, _ := m.Allow(ctx, RuleDecide, "10.0.0.1"); ok {
		t.Fatal("second decide should be limited")
	}

	// Ops traffic from the same caller is untouched.
	if ok, _ := m.Allow(ctx, RuleOps, "10.0.0.1"); !ok {
		t.Fatal("ops budget must not be drained by decide traffic")
	}
}

func TestRuleOverridesDefaultBudget(t *testing.T) {
	// Generous default, tight class budget.
	m := newTestLimiter(t, 1000, 1000)
	ctx := context.Background()
	tight := Rule{Name: "export", Rate: 0.001, Burst: 2}

	for i := 0; i < 2; i++ {
		if ok, _ := m.Allow(ctx, tight, "10.0.0.1"); !ok {
			t.Fatalf("request %d should fit the class burst", i)
		}
	}
	if ok, _ := m.Allow(ctx, tight, "10.0.0.1"); ok {
		t.Fatal("class budget should cap at its own burst, not the default")
	}

	// The default budget still applies to unconfigured rules.
	if ok, _ := m.Allow(ctx, Rule{Name: "other"}, "10.0.0.1"); !ok {
		t.Fatal("default budget should be untouched")
	}
}

func TestTokensRefillOverTime(t *testing.T) {
	// 1000/s means one token per millisecond.
	m := newTestLimiter(t, 1000, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = m.Allow(ctx, RuleDecide, "10.0.0.1")
	}
	if ok, _ := m.Allow(ctx, RuleDecide, "10.0.0.1"); ok {
		t.Fatal("should be limited immediately after exhausting the burst")
	}

	time.Sleep(5 * time.Millisecond)

	ok, err := m.Allow(ctx, RuleDecide, "10.0.0.1")
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if !ok {
		t.Fatal("expected a token after the refill period")
	}
}

func TestRefillCapsAtBurst(t *testing.T) {
	m := newTestLimiter(t, 1000, 3)
	ctx := context.Background()

	_, _ = m.Allow(ctx, RuleDecide, "10.0.0.1")

	// Backdate so a huge refill would be computed.
	m.mu.Lock()
	m.accounts["decide:10.0.0.1"].seen = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	for i := 0; i < 3; i++ {
		if ok, _ := m.Allow(ctx, RuleDecide, "10.0.0.1"); !ok {
			t.Fatalf("request %d should succeed after a long idle", i)
		}
	}
	if ok, _ := m.Allow(ctx, RuleDecide, "10.0.0.1"); ok {
		t.Fatal("idle time must not grow the bucket past its burst")
	}
}

func TestCallersAreIndependent(t *testing.T) {
	m := newTestLimiter(t, 10, 1)
	ctx := context.Background()

	if ok, _ := m.Allow(ctx, RuleDecide, "10.0.0.1"); !ok {
		t.Fatal("first caller's first request should succeed")
	}
	if ok, _ := m.Allow(ctx, RuleDecide, "10.0.0.1"); ok {
		t.Fatal("first caller should be limited")
	}
	if ok, _ := m.Allow(ctx, RuleDecide, "10.0.0.2"); !ok {
		t.Fatal("second caller must not share the first caller's bucket")
	}
}

func TestConcurrentCallersSameKey(t *testing.T) {
	m := newTestLimiter(t, 100, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	allowed := make([]int, 10)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ok, err := m.Allow(ctx, RuleDecide, "shared")
				if err != nil {
					t.Errorf("goroutine %d: Allow error: %v", idx, err)
					return
				}
				if ok {
					allowed[idx]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, c := range allowed {
		total += c
	}
	if total < 1 || total > 50 {
		t.Fatalf("burst 50 should admit between 1 and 50 of 100 requests, got %d", total)
	}
}

func TestEvictIdleReclaimsSilentCallers(t *testing.T) {
	m := newTestLimiter(t, 10, 5)
	ctx := context.Background()

	_, _ = m.Allow(ctx, RuleDecide, "idle")
	_, _ = m.Allow(ctx, RuleOps, "busy")

	m.evictIdle(time.Now().Add(idleTimeout + time.Minute))

	m.mu.Lock()
	_, idleExists := m.accounts["decide:idle"]
	m.mu.Unlock()
	if idleExists {
		t.Fatal("expected the idle caller to be reclaimed")
	}

	// A sweep at the present keeps recent callers.
	_, _ = m.Allow(ctx, RuleOps, "busy")
	m.evictIdle(time.Now())
	m.mu.Lock()
	_, busyExists := m.accounts["ops:busy"]
	m.mu.Unlock()
	if !busyExists {
		t.Fatal("expected the recent caller to survive the sweep")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	if err := m.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}
