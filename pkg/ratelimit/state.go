// Package ratelimit implements the request gates used by the gated HTTP client:
// a token bucket Limiter whose ledger is owned by a single goroutine, cloneable
// Handles that talk to it over a channel, and a simple one-call-per-interval gate.
package ratelimit

import (
	"time"
)

// Redis keys for published ledger snapshots. Each key is prefixed with the
// publisher's namespace.
const (
	RedisKeyAvailable     = "limiter:available"
	RedisKeyCapacity      = "limiter:capacity"
	RedisKeyInterval      = "limiter:interval_ms"
	RedisKeyReplenishedAt = "limiter:replenished_at"
)

// State is a point-in-time copy of a Limiter's token ledger.
// It is produced by the owning goroutine and is never written back.
type State struct {
	// Capacity is the maximum number of tokens the bucket can hold.
	Capacity int `json:"capacity"`

	// Available is the current token balance. Negative values are debt
	// granted ahead of replenishment.
	Available int `json:"available"`

	// Interval is the replenishment period for a single token.
	Interval time.Duration `json:"interval"`

	// ReplenishedAt is the time of the last replenishment tick.
	ReplenishedAt time.Time `json:"replenished_at"`
}

// InDebt reports whether tokens have been granted ahead of availability.
func (s State) InDebt() bool {
	return s.Available < 0
}

// Debt returns the number of tokens owed, or 0 if the balance is non-negative.
func (s State) Debt() int {
	if s.Available < 0 {
		return -s.Available
	}
	return 0
}

// TimeUntilSettled returns how long, from now, until the current debt is
// repaid by replenishment ticks. Returns 0 if there is no debt.
func (s State) TimeUntilSettled(now time.Time) time.Duration {
	return waitFor(s.Available, s.Interval, now.Sub(s.ReplenishedAt))
}

// IsStale returns true if the snapshot is older than maxAge.
func (s State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.ReplenishedAt) > maxAge
}
