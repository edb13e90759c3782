package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"shopsync/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const scanBatch = 200

// RedisConfig holds configuration for the shared Redis cache tier.
type RedisConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// RedisCache shares cache entries between nodes through Redis. Entries are
// JSON documents written with SETEX so Redis enforces the TTL.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    zerolog.Logger
}

var _ RecordCache = (*RedisCache)(nil)

// NewRedisCache creates a Redis cache tier on an existing client.
func NewRedisCache(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *RedisCache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "shopsync:cache"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	return &RedisCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		logger:    logger,
	}
}

func (c *RedisCache) entryKey(kind Kind, key model.ProductKey) string {
	return c.keyPrefix + ":" + string(kind) + ":" + key.String()
}

func (c *RedisCache) get(ctx context.Context, redisKey string, dst any) bool {
	data, err := c.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", redisKey).Msg("redis cache get failed")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn().Err(err).Str("key", redisKey).Msg("dropping undecodable cache entry")
		c.client.Del(ctx, redisKey)
		return false
	}
	return true
}

func (c *RedisCache) set(ctx context.Context, redisKey string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", redisKey).Msg("failed to encode cache entry")
		return
	}
	if err := c.client.Set(ctx, redisKey, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", redisKey).Msg("redis cache set failed")
	}
}

func (c *RedisCache) GetPrice(ctx context.Context, key model.ProductKey) (model.PriceRecord, bool) {
	var rec model.PriceRecord
	ok := c.get(ctx, c.entryKey(KindPrice, key), &rec)
	return rec, ok
}

func (c *RedisCache) PutPrice(ctx context.Context, rec model.PriceRecord) {
	c.set(ctx, c.entryKey(KindPrice, rec.Key()), rec)
}

func (c *RedisCache) GetStock(ctx context.Context, key model.ProductKey) (model.StockRecord, bool) {
	var rec model.StockRecord
	ok := c.get(ctx, c.entryKey(KindStock, key), &rec)
	return rec, ok
}

func (c *RedisCache) PutStock(ctx context.Context, rec model.StockRecord) {
	c.set(ctx, c.entryKey(KindStock, rec.Key()), rec)
}

func (c *RedisCache) EvictShop(ctx context.Context, shopID string) {
	shop := escapeGlob(strings.ToLower(shopID))
	c.deleteMatching(ctx, c.keyPrefix+":*:"+shop+":*")
}

func (c *RedisCache) EvictProduct(ctx context.Context, shopID, productID string) {
	shop := escapeGlob(strings.ToLower(shopID))
	product := escapeGlob(strings.ToLower(productID))
	c.deleteMatching(ctx, c.keyPrefix+":*:"+shop+":"+product+":*")
}

func (c *RedisCache) Clear(ctx context.Context) {
	c.deleteMatching(ctx, c.keyPrefix+":*")
}

// Len reports zero: entries live in Redis, not in this process.
func (c *RedisCache) Len() int { return 0 }

// deleteMatching removes keys matching pattern using SCAN so Redis is never
// blocked by a KEYS call.
func (c *RedisCache) deleteMatching(ctx context.Context, pattern string) {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			c.logger.Warn().Err(err).Str("pattern", pattern).Msg("redis cache scan failed")
			return
		}
		if len(keys) > 0 {
			pipe := c.client.Pipeline()
			pipe.Del(ctx, keys...)
			if _, err := pipe.Exec(ctx); err != nil {
				c.logger.Warn().Err(err).Str("pattern", pattern).Msg("redis cache delete failed")
				return
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if deleted > 0 {
		c.logger.Debug().Int("deleted", deleted).Str("pattern", pattern).Msg("evicted shared cache entries")
	}
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
