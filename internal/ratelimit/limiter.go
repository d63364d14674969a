package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "ratelimit:"
	dailyKeyPrefix = "api-calls-daily:"

	// dailyCounterTTL keeps the usage counter around long enough for the
	// governor limits dashboard to read yesterday's value.
	dailyCounterTTL = 48 * time.Hour
)

// Store is the narrow contract the limiter needs from the shared counter
// store: an atomic increment and a conditional expiry set.
type Store interface {
	// Incr atomically increments the counter and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the key's TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps the given Redis client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Incr atomically increments the counter and returns the new value.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

// Expire sets the key's TTL.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// Limiter implements fixed-window rate limiting on a shared counter store.
// The store's atomic increment is the linearization point; no lock is held
// across processes.
//
// Known limitation: the increment and the expiry set on the window's first
// request are two calls. Under a concurrent first burst the expiry can be
// attempted by several callers (harmless, last write wins), and if the
// process dies between the two calls the key keeps counting without a TTL
// until the next window's first request lands. An increment-with-TTL store
// primitive would close this; plain INCR/EXPIRE is what the store offers.
type Limiter struct {
	store  Store
	logger *slog.Logger
}

// NewLimiter creates a limiter on top of the given store.
func NewLimiter(store Store, logger *slog.Logger) *Limiter {
	return &Limiter{store: store, logger: logger}
}

// Check counts the request against the tenant's window and decides
// allow/deny. If the store is unreachable the request is allowed with a
// full window remaining — availability of the platform outweighs precise
// quota enforcement during a counter store outage.
func (l *Limiter) Check(ctx context.Context, tenantID string, cfg Config) Result {
	key := keyPrefix + tenantID

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		l.logger.Warn("counter store unreachable, allowing request",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return Result{Allowed: true, RemainingRequests: cfg.RequestsPerWindow}
	}

	if count == 1 {
		if err := l.store.Expire(ctx, key, cfg.Window); err != nil {
			l.logger.Warn("failed to set window expiry",
				slog.String("tenant_id", tenantID),
				slog.String("error", err.Error()),
			)
		}
	}

	if count > cfg.RequestsPerWindow {
		l.logger.Debug("rate limit exceeded",
			slog.String("tenant_id", tenantID),
			slog.Int64("count", count),
			slog.Int64("limit", cfg.RequestsPerWindow),
		)
		return Result{Allowed: false, RetryAfter: cfg.Window}
	}

	return Result{Allowed: true, RemainingRequests: cfg.RequestsPerWindow - count}
}

// IncrementDailyCounter bumps the tenant's daily usage counter read by the
// governor limits dashboard. Keyed by UTC date; errors are logged and
// swallowed — usage accounting must never affect the allow/deny decision.
func (l *Limiter) IncrementDailyCounter(ctx context.Context, tenantID string) {
	today := time.Now().UTC().Format("2006-01-02")
	key := dailyKeyPrefix + tenantID + ":" + today

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		l.logger.Warn("failed to increment daily usage counter",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return
	}
	if count == 1 {
		if err := l.store.Expire(ctx, key, dailyCounterTTL); err != nil {
			l.logger.Warn("failed to set daily counter expiry",
				slog.String("tenant_id", tenantID),
				slog.String("error", err.Error()),
			)
		}
	}
}
