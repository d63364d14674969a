// Package ratelimit enforces per-tenant request budgets derived from
// governor limits, backed by a shared atomic counter store.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultAPICallsPerDay applies to tenants without a cached governor limit.
const DefaultAPICallsPerDay int64 = 100_000

// DefaultWindow is the fixed counting window the daily budget is split into.
const DefaultWindow = time.Minute

// Config is a per-window quota derived from a tenant's daily budget.
type Config struct {
	RequestsPerWindow int64
	Window            time.Duration
}

// Result is the outcome of a rate limit check. RetryAfter is meaningful
// only when Allowed is false and is a conservative upper bound (the full
// window), not the exact time left in it.
type Result struct {
	Allowed           bool
	RemainingRequests int64
	RetryAfter        time.Duration
}

// GovernorLimitCache holds per-tenant daily API call budgets. The derived
// per-window quota is never stored, only recomputed on lookup, so a limit
// change takes effect on the very next request.
type GovernorLimitCache struct {
	defaultDaily int64
	window       time.Duration
	logger       *slog.Logger

	mu     sync.RWMutex
	limits map[string]int64
}

// NewGovernorLimitCache creates an empty cache. defaultDaily <= 0 selects
// DefaultAPICallsPerDay; window <= 0 selects DefaultWindow.
func NewGovernorLimitCache(defaultDaily int64, window time.Duration, logger *slog.Logger) *GovernorLimitCache {
	if defaultDaily <= 0 {
		defaultDaily = DefaultAPICallsPerDay
	}
	if window <= 0 {
		window = DefaultWindow
	}
	// A window longer than a day would make windows-per-day zero and the
	// quota derivation divide by zero.
	if window > 24*time.Hour {
		window = 24 * time.Hour
	}
	return &GovernorLimitCache{
		defaultDaily: defaultDaily,
		window:       window,
		logger:       logger,
		limits:       make(map[string]int64),
	}
}

// UpdateTenantLimit sets a tenant's daily budget. Called on configuration
// change events and periodic refresh.
func (c *GovernorLimitCache) UpdateTenantLimit(tenantID string, apiCallsPerDay int64) {
	if tenantID == "" {
		return
	}
	c.mu.Lock()
	c.limits[tenantID] = apiCallsPerDay
	c.mu.Unlock()

	c.logger.Debug("governor limit updated",
		slog.String("tenant_id", tenantID),
		slog.Int64("api_calls_per_day", apiCallsPerDay),
	)
}

// ReplaceAll swaps the whole limit table, used by the periodic refresh.
func (c *GovernorLimitCache) ReplaceAll(limits map[string]int64) {
	fresh := make(map[string]int64, len(limits))
	for id, daily := range limits {
		if id != "" {
			fresh[id] = daily
		}
	}
	c.mu.Lock()
	c.limits = fresh
	c.mu.Unlock()

	c.logger.Info("governor limits replaced", slog.Int("tenants", len(fresh)))
}

// RateLimitForTenant derives the per-window quota from the tenant's daily
// budget: dailyLimit / windows-per-day, floor-divided, minimum 1. Tenants
// absent from the cache use the configured default budget.
func (c *GovernorLimitCache) RateLimitForTenant(tenantID string) Config {
	c.mu.RLock()
	daily, ok := c.limits[tenantID]
	c.mu.RUnlock()
	if !ok {
		daily = c.defaultDaily
	}

	windowsPerDay := int64(24 * time.Hour / c.window)
	perWindow := daily / windowsPerDay
	if perWindow < 1 {
		perWindow = 1
	}
	return Config{RequestsPerWindow: perWindow, Window: c.window}
}
