package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fleetpay/treasury/internal/models"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ClosingCache keeps recently read closings. Lifecycle changes must invalidate.
type ClosingCache interface {
	Get(ctx context.Context, id int64) (*models.Closing, bool)
	Set(ctx context.Context, closing *models.Closing)
	Invalidate(ctx context.Context, id int64)
}

type RedisClosingCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewClosingCache returns a Redis-backed cache, or a no-op one when Redis is unavailable.
func NewClosingCache(client *redis.Client, ttl time.Duration, log *zap.Logger) ClosingCache {
	if client == nil {
		return noopClosingCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisClosingCache{client: client, ttl: ttl, log: log}
}

func closingCacheKey(id int64) string {
	return fmt.Sprintf("closing:%d", id)
}

func (c *RedisClosingCache) Get(ctx context.Context, id int64) (*models.Closing, bool) {
	data, err := c.client.Get(ctx, closingCacheKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn("closing cache read failed", zap.Int64("closing_id", id), zap.Error(err))
		return nil, false
	}

	var closing models.Closing
	if err := json.Unmarshal([]byte(data), &closing); err != nil {
		c.log.Warn("closing cache entry corrupt", zap.Int64("closing_id", id), zap.Error(err))
		return nil, false
	}
	return &closing, true
}

func (c *RedisClosingCache) Set(ctx context.Context, closing *models.Closing) {
	data, err := json.Marshal(closing)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, closingCacheKey(closing.ID), string(data), c.ttl).Err(); err != nil {
		c.log.Warn("closing cache write failed", zap.Int64("closing_id", closing.ID), zap.Error(err))
	}
}

func (c *RedisClosingCache) Invalidate(ctx context.Context, id int64) {
	if err := c.client.Del(ctx, closingCacheKey(id)).Err(); err != nil {
		c.log.Warn("closing cache invalidate failed", zap.Int64("closing_id", id), zap.Error(err))
	}
}

type noopClosingCache struct{}

func (noopClosingCache) Get(ctx context.Context, id int64) (*models.Closing, bool) { return nil, false }

func (noopClosingCache) Set(ctx context.Context, closing *models.Closing) {}

func (noopClosingCache) Invalidate(ctx context.Context, id int64) {}
