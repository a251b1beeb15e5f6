// Package cache provides the process-local/Redis-backed memoization cache
// shared by the sport normalizer and OCR engine. It mirrors the teacher's
// approach of constructing a redis.Client directly from an address
// (core/pkg/kernel/limiter_redis.go) but degrades to an in-process map
// when REDIS_ADDR is unset, so neither caller needs two code paths.
package cache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Cache is the narrow contract both the local and Redis-backed
// implementations satisfy.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any)
	Clear(ctx context.Context)
}

// localCache is an in-process map guarded by a sync.RWMutex, used when no Redis
// address is configured. Lookups never fail.
type localCache struct {
	mu    sync.RWMutex
	items map[string]any
}

// NewLocal returns a process-local cache.
func NewLocal() Cache {
	return &localCache{items: make(map[string]any)}
}

func (c *localCache) Get(_ context.Context, key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *localCache) Set(_ context.Context, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

func (c *localCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]any)
}

// redisCache stores JSON-encoded values in Redis. Values are decoded into
// generic JSON values (map[string]any for objects) on Get, so a caller that
// type-asserts a concrete type, as sportnorm and ocrengine do with their
// Result types, gets a failed assertion and recomputes.
type redisCache struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a cache backed by the given Redis address. Connection
// errors surface lazily on the first Get/Set, at which point callers fall
// back to recomputing rather than failing.
func NewRedis(addr string) Cache {
	return &redisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: "sportrank:cache:",
	}
}

func (c *redisCache) Get(ctx context.Context, key string) (any, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (c *redisCache) Set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+key, raw, 0).Err()
}

func (c *redisCache) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		_ = c.client.Del(ctx, iter.Val()).Err()
	}
}
