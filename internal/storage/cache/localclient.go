// --- File: internal/storage/cache/localclient.go ---
package cache

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalClient is an in-process CacheClient for single-instance deployments.
// Values are stored JSON-encoded so callers get copies, as with Redis.
type LocalClient struct {
	c *gocache.Cache
}

func NewLocalClient(defaultTTL, cleanupInterval time.Duration) *LocalClient {
	return &LocalClient{c: gocache.New(defaultTTL, cleanupInterval)}
}

func (l *LocalClient) Get(_ context.Context, key string, dest any) error {
	v, ok := l.c.Get(key)
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(v.([]byte), dest)
}

func (l *LocalClient) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	l.c.Set(key, b, ttl)
	return nil
}

func (l *LocalClient) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		l.c.Delete(k)
	}
	return nil
}
