package ratelimit

import "time"

// ledger is the token bucket state. Only the Limiter's run loop touches it.
type ledger struct {
	capacity      int
	available     int
	interval      time.Duration
	replenishedAt time.Time
}

func newLedger(capacity int, interval time.Duration, now time.Time) *ledger {
	return &ledger{
		capacity:      capacity,
		available:     capacity,
		interval:      interval,
		replenishedAt: now,
	}
}

// take debits count tokens and returns how long the caller must sleep
// before they are covered.
func (l *ledger) take(count int, now time.Time) time.Duration {
	l.available -= count
	return waitFor(l.available, l.interval, now.Sub(l.replenishedAt))
}

// replenish adds one token, capped at capacity.
func (l *ledger) replenish(now time.Time) {
	l.available = min(l.available+1, l.capacity)
	l.replenishedAt = now
}

func (l *ledger) snapshot() State {
	return State{
		Capacity:      l.capacity,
		Available:     l.available,
		Interval:      l.interval,
		ReplenishedAt: l.replenishedAt,
	}
}

// waitFor computes interval × debt minus the time already spent towards the
// next tick. Never negative.
func waitFor(available int, interval, elapsed time.Duration) time.Duration {
	if available >= 0 {
		return 0
	}
	d := interval*time.Duration(-available) - elapsed
	if d < 0 {
		return 0
	}
	return d
}
