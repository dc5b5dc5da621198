package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
)

func newTestCache(t *testing.T) (*CacheManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCacheManager(rdb, DefaultTTL, time.Second), mr
}

func product(id string) *models.Product {
	now := models.Now()
	return &models.Product{ID: id, Name: "p" + id, Price: decimal.RequireFromString("10.99"), Stock: 1, CreatedAt: now, UpdatedAt: now}
}

func TestCacheManager_ProductRoundTrip(t *testing.T) {
	cm, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := cm.GetProduct(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok)

	p := product("1")
	require.NoError(t, cm.SetProduct(ctx, p))
	assert.Equal(t, DefaultTTL, mr.TTL(ProductKey("1")))

	got, ok, err := cm.GetProduct(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.99", got.Price.String())
	assert.True(t, p.UpdatedAt.Equal(got.UpdatedAt))
}

func TestCacheManager_EntriesExpire(t *testing.T) {
	cm, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cm.SetProduct(ctx, product("1")))
	mr.FastForward(DefaultTTL + time.Second)

	_, ok, err := cm.GetProduct(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheManager_InvalidateAbsentKeyIsNoError(t *testing.T) {
	cm, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cm.SetProduct(ctx, product("1")))
	require.NoError(t, cm.Invalidate(ctx, ProductKey("1"), AllProductsCacheKey))
	assert.False(t, mr.Exists(ProductKey("1")))
	assert.NoError(t, cm.Invalidate(ctx, ProductKey("missing")))
	assert.NoError(t, cm.Invalidate(ctx))
}

func TestCacheManager_ListingWindow(t *testing.T) {
	cm, _ := newTestCache(t)
	ctx := context.Background()

	items := []*models.Product{product("1"), product("2")}
	require.NoError(t, cm.SetProductList(ctx, 0, 100, items))

	got, ok, err := cm.GetProductList(ctx, 0, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got, 2)

	_, ok, err = cm.GetProductList(ctx, 1, 100)
	require.NoError(t, err)
	assert.False(t, ok, "different window is a miss")

	require.NoError(t, cm.SetProductList(ctx, 0, 10, []*models.Product{}))
	got, ok, err = cm.GetProductList(ctx, 0, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestCacheManager_CorruptEntryIsFaultAndMiss(t *testing.T) {
	cm, mr := newTestCache(t)
	require.NoError(t, mr.Set(ProductKey("1"), "{not json"))

	_, ok, err := cm.GetProduct(context.Background(), "1")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, apperrors.ErrCacheFault))
}

func TestCacheManager_BackendDownIsFault(t *testing.T) {
	cm, mr := newTestCache(t)
	mr.Close()
	ctx := context.Background()

	_, ok, err := cm.GetProduct(ctx, "1")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, apperrors.ErrCacheFault))

	assert.True(t, errors.Is(cm.SetProduct(ctx, product("1")), apperrors.ErrCacheFault))
	assert.True(t, errors.Is(cm.Invalidate(ctx, AllProductsCacheKey), apperrors.ErrCacheFault))
}
