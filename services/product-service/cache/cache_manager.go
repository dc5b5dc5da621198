package cache

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
)

const (
	ProductCachePrefix  = "product:"
	AllProductsCacheKey = "products:all"

	DefaultTTL       = 300 * time.Second
	DefaultOpTimeout = 500 * time.Millisecond
)

// ProductKey is the cache key of a single record.
func ProductKey(id string) string {
	return ProductCachePrefix + id
}

// CacheManager is a read-through, write-invalidate cache over Redis. It never
// holds authoritative data. Every backend failure is returned as a cache
// fault and logged; callers treat a fault as a miss or a no-op.
type CacheManager struct {
	redis     redis.Cmdable
	ttl       time.Duration
	opTimeout time.Duration
}

func NewCacheManager(rdb redis.Cmdable, ttl, opTimeout time.Duration) *CacheManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &CacheManager{redis: rdb, ttl: ttl, opTimeout: opTimeout}
}

func (cm *CacheManager) TTL() time.Duration { return cm.ttl }

// Get returns the raw entry under key. A missing key is (nil, false, nil).
func (cm *CacheManager) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, cm.opTimeout)
	defer cancel()

	val, err := cm.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		zap.L().Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false, apperrors.CacheFault("get", err)
	}
	return val, true, nil
}

// Set stores value under key with ttl, or the default TTL when ttl is zero.
func (cm *CacheManager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cm.ttl
	}
	ctx, cancel := context.WithTimeout(ctx, cm.opTimeout)
	defer cancel()

	if err := cm.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		zap.L().Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return apperrors.CacheFault("set", err)
	}
	return nil
}

// Invalidate removes keys. Removing an absent key is not an error.
func (cm *CacheManager) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, cm.opTimeout)
	defer cancel()

	if err := cm.redis.Del(ctx, keys...).Err(); err != nil {
		zap.L().Warn("cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
		return apperrors.CacheFault("invalidate", err)
	}
	return nil
}

// GetProduct reads a cached record. An undecodable entry is reported as a
// fault and treated as a miss.
func (cm *CacheManager) GetProduct(ctx context.Context, id string) (*models.Product, bool, error) {
	raw, ok, err := cm.Get(ctx, ProductKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	var p models.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		zap.L().Warn("discarding undecodable cache entry", zap.String("product_id", id), zap.Error(err))
		return nil, false, apperrors.CacheFault("decode", err)
	}
	return &p, true, nil
}

func (cm *CacheManager) SetProduct(ctx context.Context, p *models.Product) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return apperrors.CacheFault("encode", err)
	}
	return cm.Set(ctx, ProductKey(p.ID), raw, 0)
}

// listEntry is the value under AllProductsCacheKey. The window it was built
// for is stored with it; a read for another window is a miss.
type listEntry struct {
	Skip  int               `json:"skip"`
	Limit int               `json:"limit"`
	Items []*models.Product `json:"items"`
}

func (cm *CacheManager) GetProductList(ctx context.Context, skip, limit int) ([]*models.Product, bool, error) {
	raw, ok, err := cm.Get(ctx, AllProductsCacheKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var entry listEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		zap.L().Warn("discarding undecodable listing cache entry", zap.Error(err))
		return nil, false, apperrors.CacheFault("decode", err)
	}
	if entry.Skip != skip || entry.Limit != limit {
		return nil, false, nil
	}
	if entry.Items == nil {
		entry.Items = []*models.Product{}
	}
	return entry.Items, true, nil
}

func (cm *CacheManager) SetProductList(ctx context.Context, skip, limit int, items []*models.Product) error {
	raw, err := json.Marshal(listEntry{Skip: skip, Limit: limit, Items: items})
	if err != nil {
		return apperrors.CacheFault("encode", err)
	}
	return cm.Set(ctx, AllProductsCacheKey, raw, 0)
}
