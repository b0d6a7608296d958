package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// RedisCache is a TTL-bound SharedCache backed by Redis via rueidis.
// Errors are logged and never returned: durability lives in the Store, not here.
type RedisCache struct {
	client rueidis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to the configured Redis addresses.
func NewRedisCache(cfg config.RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Password:     cfg.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisCacheWithClient(client, cfg.KeyPrefix, cfg.TTL, logger), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client rueidis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, logger: utils.OrNop(logger)}
}

func (c *RedisCache) key(id string) string {
	return c.prefix + id
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Do(ctx, c.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Get returns the cached document, treating any failure as a miss.
func (c *RedisCache) Get(ctx context.Context, id string) (*models.Document, bool) {
	data, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(id)).Build()).AsBytes()
	if err != nil {
		if !rueidis.IsRedisNil(err) {
			c.logger.Warn("redis cache get failed", zap.String("doc_id", id), zap.Error(err))
		}
		return nil, false
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		c.logger.Warn("redis cache entry undecodable", zap.String("doc_id", id), zap.Error(err))
		return nil, false
	}
	return &doc, true
}

// Set stores doc with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, doc *models.Document) {
	data, err := json.Marshal(doc)
	if err != nil {
		c.logger.Warn("redis cache encode failed", zap.String("doc_id", doc.ID), zap.Error(err))
		return
	}
	cmd := c.client.B().Set().Key(c.key(doc.ID)).Value(string(data)).Ex(c.ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		c.logger.Warn("redis cache set failed", zap.String("doc_id", doc.ID), zap.Error(err))
	}
}

// Delete drops the cached entry.
func (c *RedisCache) Delete(ctx context.Context, id string) {
	if err := c.client.Do(ctx, c.client.B().Del().Key(c.key(id)).Build()).Error(); err != nil {
		c.logger.Warn("redis cache delete failed", zap.String("doc_id", id), zap.Error(err))
	}
}

// Close shuts down the client.
func (c *RedisCache) Close() {
	c.client.Close()
}
