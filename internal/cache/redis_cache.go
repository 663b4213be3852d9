package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"go-branch-transfer/internal/model"

	"github.com/redis/go-redis/v9"
)

const statsKeyPrefix = "transfer_stats:"

// RedisTransferStatsCache caches transfer aggregates in redis with a short
// TTL. Every mutating transition bumps a generation counter instead of
// scanning for keys, so invalidation is a single INCR.
type RedisTransferStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTransferStatsCache(client *redis.Client, ttl time.Duration) *RedisTransferStatsCache {
	return &RedisTransferStatsCache{client: client, ttl: ttl}
}

func (c *RedisTransferStatsCache) generation(ctx context.Context) string {
	gen, err := c.client.Get(ctx, statsKeyPrefix+"gen").Result()
	if err != nil {
		return "0"
	}
	return gen
}

func (c *RedisTransferStatsCache) Get(key string) (*model.TransferStats, bool) {
	ctx := context.Background()
	raw, err := c.client.Get(ctx, statsKeyPrefix+c.generation(ctx)+":"+key).Bytes()
	if err != nil {
		return nil, false
	}
	var stats model.TransferStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, false
	}
	return &stats, true
}

func (c *RedisTransferStatsCache) Set(key string, stats *model.TransferStats) {
	ctx := context.Background()
	raw, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, statsKeyPrefix+c.generation(ctx)+":"+key, raw, c.ttl).Err(); err != nil {
		log.Printf("Warning: failed to cache transfer stats: %v", err)
	}
}

func (c *RedisTransferStatsCache) Invalidate() {
	if err := c.client.Incr(context.Background(), statsKeyPrefix+"gen").Err(); err != nil {
		log.Printf("Warning: failed to invalidate transfer stats cache: %v", err)
	}
}
