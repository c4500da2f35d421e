package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"ticketing-escrow/internal/logger"
)

const quoteCacheKey = "oracle:last_rate"

// QuoteCache holds the last known good rate so a transient feed outage does
// not fail purchases while the rate is still within the freshness bound.
type QuoteCache interface {
	Get(ctx context.Context) (Rate, bool)
	Put(ctx context.Context, rate Rate)
}

// RedisQuoteCache stores the last rate in Redis with a TTL equal to the
// freshness bound, so an expired key and a stale rate mean the same thing.
type RedisQuoteCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

func NewRedisQuoteCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisQuoteCache {
	return &RedisQuoteCache{client: client, ttl: ttl, logger: log}
}

func (c *RedisQuoteCache) Get(ctx context.Context) (Rate, bool) {
	val, err := c.client.Get(ctx, quoteCacheKey).Result()
	if err == redis.Nil {
		return Rate{}, false
	}
	if err != nil {
		c.logger.Error("ORACLE", fmt.Sprintf("Quote cache read error: %v", err))
		return Rate{}, false
	}
	var rate Rate
	if err := json.Unmarshal([]byte(val), &rate); err != nil {
		c.logger.Error("ORACLE", fmt.Sprintf("Quote cache decode error: %v", err))
		return Rate{}, false
	}
	return rate, true
}

func (c *RedisQuoteCache) Put(ctx context.Context, rate Rate) {
	data, err := json.Marshal(rate)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, quoteCacheKey, data, c.ttl).Err(); err != nil {
		c.logger.Error("ORACLE", fmt.Sprintf("Quote cache write error: %v", err))
	}
}

// MemoryQuoteCache is the in-process fallback used when Redis is not
// configured, and in tests.
type MemoryQuoteCache struct {
	mu   sync.Mutex
	rate Rate
	set  bool
}

func NewMemoryQuoteCache() *MemoryQuoteCache {
	return &MemoryQuoteCache{}
}

func (c *MemoryQuoteCache) Get(ctx context.Context) (Rate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate, c.set
}

func (c *MemoryQuoteCache) Put(ctx context.Context, rate Rate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
	c.set = true
}
