// Package ratelimit budgets inbound traffic per caller and per traffic
// class. The decide hot path and the governance/ops surface get
// independent budgets, so a burst of decision requests cannot starve
// audit reads and an expensive export cannot crowd out decides.
//
// A single-instance gateway ships the in-memory token bucket
// (MemoryLimiter). Multi-instance deployments can substitute a
// Redis-backed implementation; the Limiter interface is the contract.
package ratelimit

import "context"

// Rule names a traffic class and optionally overrides the limiter's
// default budget for it. Callers hitting different rules never share a
// bucket.
type Rule struct {
	Name string
	// Rate is the sustained requests per second per caller.
	// Zero uses the limiter's default.
	Rate float64
	// Burst is the bucket capacity. Zero uses the limiter's default.
	Burst int
}

// RuleDecide guards POST /v1/decide, the request hot path. It runs on
// the limiter's configured default budget.
var RuleDecide = Rule{Name: "decide"}

// RuleOps covers the governance and audit surface: policy loads, chain
// verification, exports. These cost far more per request than a decide,
// so the class carries its own small budget.
var RuleOps = Rule{Name: "ops", Rate: 10, Burst: 20}

// Limiter decides whether a request identified by (rule, key) may
// proceed. Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. key identifies
	// the caller (e.g. client IP); rule selects the traffic class.
	// Returning an error signals a limiter malfunction; callers should
	// treat errors as fail-open (permit the request) rather than
	// blocking traffic.
	Allow(ctx context.Context, rule Rule, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, Rule, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
