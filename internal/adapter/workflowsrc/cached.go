package workflowsrc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain/workflow"
	"github.com/arbiterhq/arbiter/internal/port/cache"
	"github.com/arbiterhq/arbiter/internal/port/workflows"
)

const cacheKeyPrefix = "workflow:"

// CachedSource wraps a Source with a TTL cache so trigger-time lookups do
// not re-read the config file on every call. Lookup failures are never
// cached.
type CachedSource struct {
	inner workflows.Source
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedSource wraps inner with the given cache and TTL.
func NewCachedSource(inner workflows.Source, c cache.Cache, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSource{inner: inner, cache: c, ttl: ttl}
}

// Get returns the named workflow, from cache when possible.
func (s *CachedSource) Get(ctx context.Context, name string) (*workflow.OversightWorkflow, error) {
	key := cacheKeyPrefix + name

	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var wf workflow.OversightWorkflow
		if err := json.Unmarshal(data, &wf); err == nil {
			return &wf, nil
		}
		// Corrupt entry: fall through to the source.
		_ = s.cache.Delete(ctx, key)
	}

	wf, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(wf); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			slog.Debug("workflow cache set failed", "workflow", name, "error", err)
		}
	}
	return wf, nil
}
