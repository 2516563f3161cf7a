package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCache is an in-process ResultCache for tests and development.
type MemoryCache struct {
	mu      sync.Mutex
	results map[string]Result
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{results: make(map[string]Result)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.results[key]
	return res, ok, nil
}

func (c *MemoryCache) Put(ctx context.Context, key string, res Result) error {
	c.mu.Lock()
	c.results[key] = res
	c.mu.Unlock()
	return nil
}

// RedisCache stores settled results in Redis with a retention window long
// enough to outlive any plausible job redelivery.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) key(k string) string {
	return "payment:result:" + k
}

func (c *RedisCache) Get(ctx context.Context, key string) (Result, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("reading payment result: %w", err)
	}

	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Result{}, false, fmt.Errorf("decoding payment result: %w", err)
	}
	return res, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding payment result: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("storing payment result: %w", err)
	}
	return nil
}
