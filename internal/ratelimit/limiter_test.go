package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeStore is an in-memory counter store.
type fakeStore struct {
	counts  map[string]int64
	expires map[string]time.Duration
	incrErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Duration),
	}
}

func (s *fakeStore) Incr(_ context.Context, key string) (int64, error) {
	if s.incrErr != nil {
		return 0, s.incrErr
	}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *fakeStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.expires[key] = ttl
	return nil
}

func TestLimiter_AllowsWithinBudget(t *testing.T) {
	store := newFakeStore()
	limiter := NewLimiter(store, testLogger())
	cfg := Config{RequestsPerWindow: 69, Window: time.Minute}

	for i := int64(1); i <= 69; i++ {
		result := limiter.Check(context.Background(), "tid-1", cfg)
		assert.True(t, result.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 69-i, result.RemainingRequests)
	}
}

func TestLimiter_DeniesOverBudget(t *testing.T) {
	store := newFakeStore()
	limiter := NewLimiter(store, testLogger())
	cfg := Config{RequestsPerWindow: 69, Window: time.Minute}

	for i := 0; i < 69; i++ {
		limiter.Check(context.Background(), "tid-1", cfg)
	}

	result := limiter.Check(context.Background(), "tid-1", cfg)
	assert.False(t, result.Allowed)
	assert.Equal(t, time.Minute, result.RetryAfter)
}

func TestLimiter_WindowExpirySetOnFirstRequest(t *testing.T) {
	store := newFakeStore()
	limiter := NewLimiter(store, testLogger())
	cfg := Config{RequestsPerWindow: 10, Window: time.Minute}

	limiter.Check(context.Background(), "tid-1", cfg)
	assert.Equal(t, time.Minute, store.expires["ratelimit:tid-1"])

	// Later requests in the same window do not reset the expiry.
	delete(store.expires, "ratelimit:tid-1")
	limiter.Check(context.Background(), "tid-1", cfg)
	assert.NotContains(t, store.expires, "ratelimit:tid-1")
}

func TestLimiter_FailOpenOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.incrErr = errors.New("connection refused")
	limiter := NewLimiter(store, testLogger())
	cfg := Config{RequestsPerWindow: 5, Window: time.Minute}

	result := limiter.Check(context.Background(), "tid-1", cfg)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(5), result.RemainingRequests)
}

func TestLimiter_TenantsAreIsolated(t *testing.T) {
	store := newFakeStore()
	limiter := NewLimiter(store, testLogger())
	cfg := Config{RequestsPerWindow: 1, Window: time.Minute}

	assert.True(t, limiter.Check(context.Background(), "tid-1", cfg).Allowed)
	assert.False(t, limiter.Check(context.Background(), "tid-1", cfg).Allowed)

	// A different tenant counts against its own key.
	assert.True(t, limiter.Check(context.Background(), "tid-2", cfg).Allowed)
}

func TestIncrementDailyCounter(t *testing.T) {
	store := newFakeStore()
	limiter := NewLimiter(store, testLogger())

	limiter.IncrementDailyCounter(context.Background(), "tid-1")
	limiter.IncrementDailyCounter(context.Background(), "tid-1")

	var key string
	for k := range store.counts {
		key = k
	}
	assert.True(t, strings.HasPrefix(key, "api-calls-daily:tid-1:"))
	assert.Equal(t, int64(2), store.counts[key])
	// TTL set once, when the key is created.
	assert.Equal(t, dailyCounterTTL, store.expires[key])
}

func TestIncrementDailyCounter_SwallowsErrors(t *testing.T) {
	store := newFakeStore()
	store.incrErr = errors.New("connection refused")
	limiter := NewLimiter(store, testLogger())

	// Must not panic or surface the failure.
	limiter.IncrementDailyCounter(context.Background(), "tid-1")
}
