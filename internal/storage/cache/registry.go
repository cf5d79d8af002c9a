// --- File: internal/storage/cache/registry.go ---
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// ErrCacheMiss is returned by CacheClient.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// CacheClient defines the subset of cache commands we need.
type CacheClient interface {
	// Get returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the keys.
	Del(ctx context.Context, keys ...string) error
}

// CachedRegistry is a Decorator that adds Read-Aside caching to any TokenRegistry.
type CachedRegistry struct {
	real   fanout.TokenRegistry
	cache  CacheClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedRegistry(real fanout.TokenRegistry, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedRegistry {
	return &CachedRegistry{
		real:   real,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "CachedTokenRegistry"),
	}
}

// Snapshot serves from cache when possible and refills it on a miss.
func (r *CachedRegistry) Snapshot(ctx context.Context, target fanout.Target) (fanout.TokensByPlatform, error) {
	key := cacheKey(target)

	var cached fanout.TokensByPlatform
	err := r.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		r.logger.Warn("Cache read failed, falling back to registry", "key", key, "err", err)
	}

	fresh, err := r.real.Snapshot(ctx, target)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a failed Set still serves from the registry.
	if err := r.cache.Set(ctx, key, fresh, r.ttl); err != nil {
		r.logger.Warn("Cache write failed", "key", key, "err", err)
	}
	return fresh, nil
}

// Invalidate drops every cached snapshot so the next read sees registry changes,
// e.g. after dead tokens were reported for deactivation.
func (r *CachedRegistry) Invalidate(ctx context.Context) error {
	return r.cache.Del(ctx,
		cacheKey(fanout.TargetAll),
		cacheKey(fanout.TargetIOS),
		cacheKey(fanout.TargetAndroid),
	)
}

func cacheKey(target fanout.Target) string {
	return fmt.Sprintf("fanout:tokens:%s", target)
}
