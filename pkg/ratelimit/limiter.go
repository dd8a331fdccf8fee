package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for the token bucket limiter.
var (
	limiterAvailableTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatedfetch_limiter_available_tokens",
		Help: "Token balance of the most recently updated limiter (negative while in debt)",
	})

	limiterGrantsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatedfetch_limiter_grants_total",
		Help: "Total number of tokens granted by token bucket limiters",
	})

	limiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gatedfetch_limiter_wait_seconds",
		Help:    "Wait durations handed out by token bucket limiters",
		Buckets: []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

var (
	// ErrLimiterStopped is the panic value raised when a Handle is used after
	// its Limiter has stopped.
	ErrLimiterStopped = errors.New("ratelimit: limiter stopped")

	// ErrInvalidConfig is returned for a Config that cannot build a Limiter.
	ErrInvalidConfig = errors.New("ratelimit: invalid config")
)

const (
	// DefaultInterval is the replenishment interval used by the client defaults.
	DefaultInterval = 100 * time.Millisecond

	publishTimeout = 2 * time.Second
)

// Config holds the limiter configuration.
type Config struct {
	// Interval between token replenishments. Must be > 0.
	Interval time.Duration

	// Capacity caps the number of idle tokens and therefore the burst size.
	// Must be >= 1.
	Capacity int

	// Publisher optionally receives ledger snapshots. Publishing runs on its
	// own goroutine and never blocks the run loop.
	Publisher Publisher

	// Logger defaults to the global logger with component=ratelimit.
	Logger *zerolog.Logger
}

// DefaultConfig returns a single-token configuration for interval.
func DefaultConfig(interval time.Duration) Config {
	return Config{
		Interval: interval,
		Capacity: 1,
	}
}

type request struct {
	count int
	reply chan time.Duration
}

// Limiter is a token bucket whose ledger is owned by one goroutine.
// All callers, including the Limiter's own Wait methods, reach the ledger
// through a channel, so token grants are strictly serialized.
type Limiter struct {
	config Config
	logger zerolog.Logger

	requests  chan request
	snapshots chan State
	done      chan struct{}
	stopOnce  sync.Once

	running    sync.WaitGroup
	publishing sync.WaitGroup
}

// New creates and starts a Limiter with capacity 1.
func New(interval time.Duration) *Limiter {
	l, err := NewWithConfig(DefaultConfig(interval))
	if err != nil {
		panic(err)
	}
	return l
}

// NewWithConfig creates and starts a Limiter. Call Stop to release its goroutines.
func NewWithConfig(cfg Config) (*Limiter, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be > 0 (got %s)", ErrInvalidConfig, cfg.Interval)
	}
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("%w: capacity must be >= 1 (got %d)", ErrInvalidConfig, cfg.Capacity)
	}

	logger := log.With().Str("component", "ratelimit").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	l := &Limiter{
		config:   cfg,
		logger:   logger,
		requests: make(chan request),
		done:     make(chan struct{}),
	}

	led := newLedger(cfg.Capacity, cfg.Interval, time.Now())

	if cfg.Publisher != nil {
		l.snapshots = make(chan State, 1)
		l.publishing.Add(1)
		go l.publishLoop()
	}

	l.running.Add(1)
	go l.run(led)

	l.logger.Debug().
		Int("capacity", cfg.Capacity).
		Dur("interval", cfg.Interval).
		Msg("Limiter started")

	return l, nil
}

// Wait blocks until one token is available.
func (l *Limiter) Wait() {
	l.WaitFor(1)
}

// WaitFor blocks until count tokens are available.
func (l *Limiter) WaitFor(count int) {
	l.Handle().WaitFor(count)
}

// Handle returns a Handle bound to this limiter. Handles are cheap to copy
// and safe to share between goroutines.
func (l *Limiter) Handle() Handle {
	return Handle{requests: l.requests, done: l.done}
}

// Stop terminates the run loop and waits for it to exit. A pending snapshot
// is still handed to the Publisher before Stop returns. Subsequent use of
// any Handle panics with ErrLimiterStopped. Stop is idempotent.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.running.Wait()
		if l.snapshots != nil {
			close(l.snapshots)
			l.publishing.Wait()
		}
		l.logger.Debug().Msg("Limiter stopped")
	})
}

// run is the single writer of the ledger.
func (l *Limiter) run(led *ledger) {
	defer l.running.Done()

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return

		case req := <-l.requests:
			wait := led.take(req.count, time.Now())
			req.reply <- wait

			limiterGrantsTotal.Add(float64(req.count))
			limiterWaitSeconds.Observe(wait.Seconds())
			l.publish(led.snapshot())

		case now := <-ticker.C:
			before := led.available
			led.replenish(now)
			if led.available != before {
				l.publish(led.snapshot())
			}
		}
	}
}

// publish hands the latest snapshot to the publisher goroutine, replacing
// any snapshot it has not picked up yet.
func (l *Limiter) publish(s State) {
	limiterAvailableTokens.Set(float64(s.Available))

	if l.snapshots == nil {
		return
	}
	select {
	case l.snapshots <- s:
		return
	default:
	}
	select {
	case <-l.snapshots:
	default:
	}
	select {
	case l.snapshots <- s:
	default:
	}
}

// publishLoop runs until Stop closes the snapshot channel.
func (l *Limiter) publishLoop() {
	defer l.publishing.Done()

	for s := range l.snapshots {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := l.config.Publisher.Publish(ctx, s)
		cancel()
		if err != nil {
			l.logger.Warn().Err(err).Msg("Failed to publish limiter state")
		}
	}
}
