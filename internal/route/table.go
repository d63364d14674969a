// Package route holds the gateway's routing table: path patterns mapped to
// backend targets, published by the control plane.
package route

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/atlas-platform/edge-gateway/internal/controlplane"
)

// Definition is an immutable route entry. RequestsPerWindow > 0 overrides
// the tenant's governor-derived quota for requests matching this route.
type Definition struct {
	ID                string
	TargetServiceName string
	PathPattern       string
	TargetBaseURL     string
	CollectionName    string
	RequestsPerWindow int64
	Window            time.Duration
}

// Source fetches the active route set.
type Source interface {
	FetchRoutes(ctx context.Context) ([]controlplane.RouteConfig, error)
}

// Table answers routing queries against an immutable snapshot. Refresh
// swaps the whole snapshot atomically so a concurrent lookup never observes
// a half-updated table; lookups take no lock. A failed refresh retains the
// previous snapshot.
type Table struct {
	source   Source
	logger   *slog.Logger
	snapshot atomic.Value // []Definition
}

// NewTable creates an empty table backed by the given source.
func NewTable(source Source, logger *slog.Logger) *Table {
	t := &Table{source: source, logger: logger}
	t.snapshot.Store([]Definition{})
	return t
}

// FindByPath returns the most specific route whose pattern matches the
// path. Patterns are glob-style: `*` matches one path segment, a trailing
// `**` matches any remainder. Longest pattern wins on multiple matches.
func (t *Table) FindByPath(path string) (Definition, bool) {
	var best Definition
	found := false
	for _, def := range t.routes() {
		if !MatchPattern(def.PathPattern, path) {
			continue
		}
		if !found || len(def.PathPattern) > len(best.PathPattern) {
			best = def
			found = true
		}
	}
	return best, found
}

// Size returns the number of published routes.
func (t *Table) Size() int {
	return len(t.routes())
}

// Refresh fetches the full route set and publishes it as a new snapshot.
func (t *Table) Refresh(ctx context.Context) error {
	configs, err := t.source.FetchRoutes(ctx)
	if err != nil {
		t.logger.Warn("route refresh failed, retaining previous table",
			slog.Int("routes", t.Size()),
			slog.String("error", err.Error()),
		)
		return err
	}

	fresh := make([]Definition, 0, len(configs))
	for _, rc := range configs {
		if rc.PathPattern == "" || rc.TargetBaseURL == "" {
			t.logger.Warn("skipping route with missing pattern or target",
				slog.String("route_id", rc.ID),
			)
			continue
		}
		fresh = append(fresh, Definition{
			ID:                rc.ID,
			TargetServiceName: rc.TargetServiceName,
			PathPattern:       rc.PathPattern,
			TargetBaseURL:     strings.TrimSuffix(rc.TargetBaseURL, "/"),
			CollectionName:    rc.CollectionName,
			RequestsPerWindow: rc.RequestsPerWindow,
		})
	}

	t.snapshot.Store(fresh)
	t.logger.Info("route table refreshed", slog.Int("routes", len(fresh)))
	return nil
}

func (t *Table) routes() []Definition {
	return t.snapshot.Load().([]Definition)
}

// MatchPattern reports whether a glob-style pattern matches a path.
// Supported forms: exact segments, `*` for exactly one segment, and a
// trailing `**` for zero or more remaining segments.
func MatchPattern(pattern, path string) bool {
	p := splitSegments(pattern)
	s := splitSegments(path)

	for i, seg := range p {
		if seg == "**" && i == len(p)-1 {
			return true
		}
		if i >= len(s) {
			return false
		}
		if seg == "*" {
			continue
		}
		if seg != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}

func splitSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
