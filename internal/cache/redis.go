package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

const listingPrefix = "docingest:listing:"

type Cache struct {
	client *redis.Client
}

// NewClient builds a go-redis client from cfg without connecting.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// ListingCache stores document listings per tenant. Redis failures are
// logged and behave as misses.
type ListingCache struct {
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewListingCache(c *Cache, ttl time.Duration, logger *slog.Logger) *ListingCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ListingCache{cache: c, ttl: ttl, logger: logger}
}

func ListingKey(tenantID string) string {
	return listingPrefix + tenantID
}

func (l *ListingCache) GetListing(ctx context.Context, tenantID string) (*models.DocumentListing, bool) {
	var listing models.DocumentListing
	err := l.cache.Get(ctx, ListingKey(tenantID), &listing)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			l.logger.Warn("listing cache read failed", "tenant_id", tenantID, "error", err)
		}
		return nil, false
	}
	return &listing, true
}

func (l *ListingCache) SetListing(ctx context.Context, listing *models.DocumentListing) {
	if err := l.cache.Set(ctx, ListingKey(listing.TenantID), listing, l.ttl); err != nil {
		l.logger.Warn("listing cache write failed", "tenant_id", listing.TenantID, "error", err)
	}
}

func (l *ListingCache) InvalidateListing(ctx context.Context, tenantID string) {
	if err := l.cache.Delete(ctx, ListingKey(tenantID)); err != nil {
		l.logger.Warn("listing cache invalidation failed", "tenant_id", tenantID, "error", err)
	}
}
