package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Gate is invoked once before every outbound request and blocks until the
// request may proceed.
type Gate interface {
	Wait()
}

var (
	_ Gate = (*Limiter)(nil)
	_ Gate = Handle{}
	_ Gate = (*SimpleGate)(nil)
	_ Gate = Unlimited{}
)

// Strategy selects the gate a client builds for itself.
type Strategy string

const (
	// StrategyNone sends requests without any gating.
	StrategyNone Strategy = "none"

	// StrategySimple allows at most one request per interval with no burst.
	StrategySimple Strategy = "simple"

	// StrategyTokenBucket uses a Limiter with a configurable capacity.
	StrategyTokenBucket Strategy = "token_bucket"
)

// ParseStrategy converts a string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyNone, "":
		return StrategyNone, nil
	case StrategySimple:
		return StrategySimple, nil
	case StrategyTokenBucket, "token-bucket", "tokenbucket":
		return StrategyTokenBucket, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, s)
	}
}

// Unlimited is a Gate that never blocks.
type Unlimited struct{}

// Wait returns immediately.
func (Unlimited) Wait() {}

// SimpleGate grants at most one call per interval. Calls are serialized on a
// single reservation timeline; there is no burst capacity.
//
// Suitable for one client on one goroutine. Use a Limiter and Handles to share
// a rate across goroutines.
type SimpleGate struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewSimpleGate returns a gate that spaces calls by interval. The first call
// passes immediately.
func NewSimpleGate(interval time.Duration) *SimpleGate {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &SimpleGate{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
	}
}

// Wait blocks until interval has passed since the previous call was granted.
func (g *SimpleGate) Wait() {
	r := g.limiter.Reserve()
	if d := r.Delay(); d > 0 {
		time.Sleep(d)
	}
}

// Interval returns the configured spacing between calls.
func (g *SimpleGate) Interval() time.Duration {
	return g.interval
}
