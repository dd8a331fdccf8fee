package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Publisher receives ledger snapshots from a Limiter's run loop.
// Implementations are called from a dedicated goroutine, one snapshot at a time.
type Publisher interface {
	Publish(ctx context.Context, s State) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, s State) error

// Publish calls f(ctx, s).
func (f PublisherFunc) Publish(ctx context.Context, s State) error {
	return f(ctx, s)
}

// RedisPublisher mirrors ledger snapshots into Redis so that other processes
// can observe a limiter. Redis is a read-only view: the ledger itself is never
// loaded back into a Limiter.
type RedisPublisher struct {
	redis     *redis.Client
	namespace string
	logger    zerolog.Logger
}

// NewRedisPublisher creates a publisher writing keys under namespace
// (for example "gatedfetch:api.example.com").
func NewRedisPublisher(redisClient *redis.Client, namespace string, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		redis:     redisClient,
		namespace: namespace,
		logger:    logger,
	}
}

func (p *RedisPublisher) key(k string) string {
	if p.namespace == "" {
		return k
	}
	return p.namespace + ":" + k
}

// Publish writes the snapshot atomically.
func (p *RedisPublisher) Publish(ctx context.Context, s State) error {
	replenishedAt, err := json.Marshal(s.ReplenishedAt)
	if err != nil {
		return fmt.Errorf("marshal replenished_at: %w", err)
	}

	pipe := p.redis.TxPipeline()
	pipe.Set(ctx, p.key(RedisKeyAvailable), s.Available, 0)
	pipe.Set(ctx, p.key(RedisKeyCapacity), s.Capacity, 0)
	pipe.Set(ctx, p.key(RedisKeyInterval), s.Interval.Milliseconds(), 0)
	pipe.Set(ctx, p.key(RedisKeyReplenishedAt), replenishedAt, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store limiter state in redis: %w", err)
	}

	p.logger.Debug().
		Int("available", s.Available).
		Int("capacity", s.Capacity).
		Msg("Limiter state published")

	return nil
}

// LoadState reads the last published snapshot.
// Returns redis.Nil if nothing has been published under the namespace.
func (p *RedisPublisher) LoadState(ctx context.Context) (*State, error) {
	available, err := p.redis.Get(ctx, p.key(RedisKeyAvailable)).Int()
	if err != nil {
		if err == redis.Nil {
			return nil, err
		}
		return nil, fmt.Errorf("get available: %w", err)
	}

	capacity, err := p.redis.Get(ctx, p.key(RedisKeyCapacity)).Int()
	if err != nil {
		return nil, fmt.Errorf("get capacity: %w", err)
	}

	intervalMs, err := p.redis.Get(ctx, p.key(RedisKeyInterval)).Int64()
	if err != nil {
		return nil, fmt.Errorf("get interval: %w", err)
	}

	raw, err := p.redis.Get(ctx, p.key(RedisKeyReplenishedAt)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("get replenished_at: %w", err)
	}

	var replenishedAt time.Time
	if err := json.Unmarshal(raw, &replenishedAt); err != nil {
		return nil, fmt.Errorf("parse replenished_at: %w", err)
	}

	return &State{
		Capacity:      capacity,
		Available:     available,
		Interval:      time.Duration(intervalMs) * time.Millisecond,
		ReplenishedAt: replenishedAt,
	}, nil
}
