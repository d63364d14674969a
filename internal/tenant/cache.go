// Package tenant resolves URL slugs to internal tenant IDs using a
// read-mostly cache fed by the control plane.
package tenant

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// SlugSource fetches the full slug to tenant ID mapping.
type SlugSource interface {
	FetchSlugMap(ctx context.Context) (map[string]string, error)
}

// SlugCache maps tenant slugs to tenant IDs. Lookups read an immutable
// snapshot; Refresh swaps the whole map atomically and never merges old and
// new entries. A failed refresh keeps the previous mapping — slugs change
// rarely, so availability wins over freshness here.
type SlugCache struct {
	source  SlugSource
	logger  *slog.Logger
	entries atomic.Value // map[string]string
}

// NewSlugCache creates an empty slug cache backed by the given source.
func NewSlugCache(source SlugSource, logger *slog.Logger) *SlugCache {
	c := &SlugCache{source: source, logger: logger}
	c.entries.Store(map[string]string{})
	return c
}

// Resolve returns the tenant ID for a slug, if known.
func (c *SlugCache) Resolve(slug string) (string, bool) {
	if slug == "" {
		return "", false
	}
	id, ok := c.snapshot()[slug]
	return id, ok
}

// IsKnownSlug reports whether the slug is present in the cache.
func (c *SlugCache) IsKnownSlug(slug string) bool {
	_, ok := c.Resolve(slug)
	return ok
}

// Size returns the number of cached slugs.
func (c *SlugCache) Size() int {
	return len(c.snapshot())
}

// Refresh fetches the full slug map and replaces the cache contents
// atomically. On fetch failure the previous mapping is retained.
func (c *SlugCache) Refresh(ctx context.Context) error {
	slugMap, err := c.source.FetchSlugMap(ctx)
	if err != nil {
		c.logger.Warn("tenant slug map refresh failed, retaining previous mapping",
			slog.Int("cached", c.Size()),
			slog.String("error", err.Error()),
		)
		return err
	}

	fresh := make(map[string]string, len(slugMap))
	for slug, id := range slugMap {
		if slug == "" || id == "" {
			continue
		}
		fresh[slug] = id
	}

	c.entries.Store(fresh)
	c.logger.Info("tenant slug map refreshed", slog.Int("entries", len(fresh)))
	return nil
}

func (c *SlugCache) snapshot() map[string]string {
	return c.entries.Load().(map[string]string)
}
