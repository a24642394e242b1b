package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ProductCache caches per-tenant product listings in Redis. Keys carry a
// tenant version; invalidation bumps the version instead of deleting, so a
// racing reader can never resurrect stale data.
type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewProductCache builds ProductCache.
func NewProductCache(client *redis.Client, ttl time.Duration) *ProductCache {
	return &ProductCache{client: client, ttl: ttl}
}

func productVersionKey(tenantID int64) string {
	return "catalog:products:ver:" + strconv.FormatInt(tenantID, 10)
}

func productDataKey(tenantID, version int64) string {
	return "catalog:products:" + strconv.FormatInt(tenantID, 10) + ":v" + strconv.FormatInt(version, 10)
}

// Products returns the cached listing, filling it through fill on a miss.
// Concurrent misses for the same tenant share one fill. A nil cache or an
// unreachable Redis degrades to calling fill directly.
func (c *ProductCache) Products(ctx context.Context, tenantID int64, fill func(context.Context) ([]Product, error)) ([]Product, error) {
	if c == nil || c.client == nil {
		return fill(ctx)
	}
	version, err := c.version(ctx, tenantID)
	if err != nil {
		return fill(ctx)
	}
	key := productDataKey(tenantID, version)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var products []Product
		if err := json.Unmarshal(raw, &products); err == nil {
			return products, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return fill(ctx)
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		products, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(products); err == nil {
			c.client.Set(ctx, key, payload, c.ttl)
		}
		return products, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Product), nil
}

// Invalidate bumps the tenant's cache version. Safe to call on a nil cache.
func (c *ProductCache) Invalidate(ctx context.Context, tenantID int64) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Incr(ctx, productVersionKey(tenantID))
}

func (c *ProductCache) version(ctx context.Context, tenantID int64) (int64, error) {
	raw, err := c.client.Get(ctx, productVersionKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}
