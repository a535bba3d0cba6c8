// SPDX-License-Identifier: MIT

package respcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/danielliaow/assistant-stream/internal/assistant"
	"github.com/danielliaow/assistant-stream/internal/log"
	"github.com/danielliaow/assistant-stream/internal/metrics"
)

const redisKeyPrefix = "assistant:response:"

// Redis is a Redis-backed Cache for deployments that share the response
// cache across processes. Expiry is enforced server-side via key TTLs, so
// the memory implementation's size-triggered sweep has no equivalent here.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
	stats  struct {
		hits   atomic.Int64
		misses atomic.Int64
		sets   atomic.Int64
	}
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string // host:port
	Password string
	DB       int
}

// NewRedis creates a Redis-backed cache and verifies the connection.
func NewRedis(cfg RedisConfig, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("respcache: redis connection failed: %w", err)
	}

	logger := log.WithComponent("respcache")
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis response cache")
	return &Redis{client: client, ttl: ttl, logger: logger}, nil
}

// Get retrieves a cached result. Transport and decode failures degrade to
// misses; a corrupt entry is dropped so the next Set replaces it.
func (c *Redis) Get(query string) (assistant.QueryResult, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := redisKeyPrefix + Normalize(query)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.miss()
		return assistant.QueryResult{}, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("redis get failed")
		c.miss()
		return assistant.QueryResult{}, false
	}

	var result assistant.QueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("dropping undecodable cache entry")
		c.client.Del(ctx, key)
		c.miss()
		return assistant.QueryResult{}, false
	}

	c.stats.hits.Add(1)
	metrics.IncCacheOp(metrics.CacheOpHit)
	return result, true
}

func (c *Redis) miss() {
	c.stats.misses.Add(1)
	metrics.IncCacheOp(metrics.CacheOpMiss)
}

// Set stores a result with the cache TTL.
func (c *Redis) Set(query string, value assistant.QueryResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := redisKeyPrefix + Normalize(query)
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("json marshal failed")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("redis set failed")
		return
	}
	c.stats.sets.Add(1)
	metrics.IncCacheOp(metrics.CacheOpSet)
}

// Size reports the number of response keys currently stored.
func (c *Redis) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var count int
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis scan failed")
	}
	return count
}

// Stats returns a copy of the performance counters. Evictions are handled
// server-side and always report zero.
func (c *Redis) Stats() Stats {
	return Stats{
		Hits:   c.stats.hits.Load(),
		Misses: c.stats.misses.Load(),
		Sets:   c.stats.sets.Load(),
	}
}

// Close releases the underlying connection.
func (c *Redis) Close() error {
	return c.client.Close()
}
