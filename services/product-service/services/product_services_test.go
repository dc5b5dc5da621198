package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/cache"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
	"github.com/kevin-soria/system-design-playground/services/product-service/repository"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
	err    error
	before func(models.Event)
}

func (p *recordingPublisher) Publish(_ context.Context, e models.Event) error {
	if p.before != nil {
		p.before(e)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) kinds() []models.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.EventKind
	for _, e := range p.events {
		out = append(out, e.Kind())
	}
	return out
}

// failingRepo fails every mutation and lookup with err.
type failingRepo struct {
	repository.ProductRepo
	err   error
	calls int
}

func (f *failingRepo) Create(context.Context, models.ProductInput) (*models.Product, error) {
	f.calls++
	return nil, f.err
}

func (f *failingRepo) FindByID(context.Context, string) (*models.Product, error) {
	f.calls++
	return nil, f.err
}

type fixture struct {
	svc  *ProductService
	repo *repository.MemoryRepository
	pub  *recordingPublisher
	mr   *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := repository.NewMemoryRepository()
	pub := &recordingPublisher{}
	cm := cache.NewCacheManager(rdb, cache.DefaultTTL, 200*time.Millisecond)
	return &fixture{svc: NewProductService(repo, cm, pub), repo: repo, pub: pub, mr: mr}
}

func widget() models.ProductInput {
	return models.ProductInput{Name: "Widget", Price: decimal.RequireFromString("10.99"), Stock: 5}
}

func TestCreateProduct_RefetchableAndListingInvalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.ListProducts(ctx, 0, 100)
	require.NoError(t, err)
	assert.True(t, f.mr.Exists(cache.AllProductsCacheKey))

	p, fx, err := f.svc.CreateProduct(ctx, widget())
	require.NoError(t, err)
	assert.False(t, fx.Degraded())
	assert.False(t, f.mr.Exists(cache.AllProductsCacheKey))
	assert.Equal(t, []models.EventKind{models.EventCreated}, f.pub.kinds())

	got, _, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "10.99", got.Price.String())
	assert.True(t, !p.CreatedAt.After(p.UpdatedAt))
}

func TestGetProduct_ReadThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, err := f.svc.CreateProduct(ctx, widget())
	require.NoError(t, err)

	_, fx, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, fx.CacheHit)
	assert.True(t, f.mr.Exists(cache.ProductKey(p.ID)))
	assert.Equal(t, cache.DefaultTTL, f.mr.TTL(cache.ProductKey(p.ID)))

	got, fx, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, fx.CacheHit)
	assert.Equal(t, "10.99", got.Price.String())
	assert.True(t, p.UpdatedAt.Equal(got.UpdatedAt))
}

func TestGetProduct_NotFoundNotCached(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.GetProduct(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
	assert.False(t, f.mr.Exists(cache.ProductKey("missing")))
}

func TestUpdateProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, err := f.svc.CreateProduct(ctx, widget())
	require.NoError(t, err)

	_, _, _ = f.svc.GetProduct(ctx, p.ID)
	_, _, _ = f.svc.ListProducts(ctx, 0, 100)
	require.True(t, f.mr.Exists(cache.ProductKey(p.ID)))

	time.Sleep(2 * time.Millisecond)
	stock := 3
	updated, fx, err := f.svc.UpdateProduct(ctx, p.ID, models.ProductPatch{Stock: &stock})
	require.NoError(t, err)
	assert.False(t, fx.Degraded())
	assert.Equal(t, 3, updated.Stock)
	assert.Equal(t, "Widget", updated.Name)
	assert.True(t, updated.UpdatedAt.After(p.UpdatedAt))
	assert.False(t, f.mr.Exists(cache.ProductKey(p.ID)))
	assert.False(t, f.mr.Exists(cache.AllProductsCacheKey))
	assert.Equal(t, []models.EventKind{models.EventCreated, models.EventUpdated}, f.pub.kinds())

	got, fx, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, fx.CacheHit)
	assert.Equal(t, 3, got.Stock)
}

func TestUpdateProduct_EmptyPatchIsIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, err := f.svc.CreateProduct(ctx, widget())
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	same, _, err := f.svc.UpdateProduct(ctx, p.ID, models.ProductPatch{})
	require.NoError(t, err)
	assert.Equal(t, *p, *same)
	assert.Equal(t, []models.EventKind{models.EventCreated}, f.pub.kinds())
}

func TestUpdateProduct_NotFoundHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, _ = f.svc.ListProducts(ctx, 0, 100)

	stock := 1
	_, _, err := f.svc.UpdateProduct(ctx, "missing", models.ProductPatch{Stock: &stock})
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, f.mr.Exists(cache.AllProductsCacheKey))
	assert.Empty(t, f.pub.kinds())
}

func TestUpdateProduct_ValidationBeforeStore(t *testing.T) {
	f := newFixture(t)
	p, _, err := f.svc.CreateProduct(context.Background(), widget())
	require.NoError(t, err)

	neg := -1
	_, _, err = f.svc.UpdateProduct(context.Background(), p.ID, models.ProductPatch{Stock: &neg})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	stored, err := f.repo.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Stock)
	assert.Len(t, f.pub.kinds(), 1)
}

func TestDeleteProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, err := f.svc.CreateProduct(ctx, widget())
	require.NoError(t, err)
	_, _, _ = f.svc.GetProduct(ctx, p.ID)
	_, _, _ = f.svc.ListProducts(ctx, 0, 100)

	_, err = f.svc.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, f.mr.Exists(cache.ProductKey(p.ID)))
	assert.False(t, f.mr.Exists(cache.AllProductsCacheKey))

	kinds := f.pub.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, models.EventDeleted, kinds[1])
	deleted := f.pub.events[1].(models.ProductDeleted)
	assert.Equal(t, p.ID, deleted.ID)

	_, err = f.svc.DeleteProduct(ctx, p.ID)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Len(t, f.pub.kinds(), 2)
}

func TestCreateProduct_StoreFailureAbortsBeforeSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, _ = f.svc.ListProducts(ctx, 0, 100)

	broken := &failingRepo{ProductRepo: f.repo, err: apperrors.Persistence("insert failed", errors.New("disk full"))}
	f.svc.repo = broken

	_, _, err := f.svc.CreateProduct(ctx, widget())
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	assert.Equal(t, 1, broken.calls)
	assert.True(t, f.mr.Exists(cache.AllProductsCacheKey))
	assert.Empty(t, f.pub.kinds())
}

func TestCreateProduct_ValidationRejectsBeforeStore(t *testing.T) {
	f := newFixture(t)
	broken := &failingRepo{ProductRepo: f.repo, err: errors.New("must not be called")}
	f.svc.repo = broken

	_, _, err := f.svc.CreateProduct(context.Background(), models.ProductInput{Name: "", Price: decimal.Zero})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Zero(t, broken.calls)
}

func TestListProducts_RejectsNegativeWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.CreateProduct(ctx, widget())
	require.NoError(t, err)

	_, _, err = f.svc.ListProducts(ctx, -1, 0)
	require.ErrorIs(t, err, apperrors.ErrValidation)
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Fields, "skip")
	assert.Contains(t, appErr.Fields, "limit")
	assert.Empty(t, f.mr.Keys())
}

func TestPublishFailureDoesNotChangeResult(t *testing.T) {
	f := newFixture(t)
	f.pub.err = apperrors.BrokerFault("publish", errors.New("connection closed"))

	p, fx, err := f.svc.CreateProduct(context.Background(), widget())
	require.NoError(t, err)
	assert.ErrorIs(t, fx.PublishFault, apperrors.ErrBrokerFault)

	stored, err := f.repo.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.ID)
}

func TestWriteOrdering_StoreThenInvalidateThenPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, err := f.svc.CreateProduct(ctx, widget())
	require.NoError(t, err)
	_, _, _ = f.svc.GetProduct(ctx, p.ID)
	_, _, _ = f.svc.ListProducts(ctx, 0, 100)

	var checked bool
	f.pub.before = func(e models.Event) {
		checked = true
		stored, err := f.repo.FindByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 9, stored.Stock, "store committed before publish")
		assert.False(t, f.mr.Exists(cache.ProductKey(p.ID)), "cache invalidated before publish")
		assert.False(t, f.mr.Exists(cache.AllProductsCacheKey))
	}

	stock := 9
	_, _, err = f.svc.UpdateProduct(ctx, p.ID, models.ProductPatch{Stock: &stock})
	require.NoError(t, err)
	assert.True(t, checked)
}

func TestCacheDown_ResultsUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mr.Close()

	p, fx, err := f.svc.CreateProduct(ctx, widget())
	require.NoError(t, err)
	assert.NotEmpty(t, fx.CacheFaults)

	got, fx, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, fx.CacheHit)
	assert.NotEmpty(t, fx.CacheFaults)
	assert.Equal(t, p.ID, got.ID)

	items, _, err := f.svc.ListProducts(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	stock := 3
	updated, _, err := f.svc.UpdateProduct(ctx, p.ID, models.ProductPatch{Stock: &stock})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Stock)

	_, err = f.svc.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)

	_, _, err = f.svc.GetProduct(ctx, p.ID)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, []models.EventKind{models.EventCreated, models.EventUpdated, models.EventDeleted}, f.pub.kinds())
}

func TestListing_ExternalWriteStaleUntilTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	items, _, err := f.svc.ListProducts(ctx, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = f.repo.Create(ctx, widget())
	require.NoError(t, err)

	items, fx, err := f.svc.ListProducts(ctx, 0, 100)
	require.NoError(t, err)
	assert.True(t, fx.CacheHit)
	assert.Empty(t, items)

	f.mr.FastForward(cache.DefaultTTL + time.Second)
	items, fx, err = f.svc.ListProducts(ctx, 0, 100)
	require.NoError(t, err)
	assert.False(t, fx.CacheHit)
	assert.Len(t, items, 1)
}

func TestListing_DifferentWindowIsMiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := f.svc.CreateProduct(ctx, widget())
		require.NoError(t, err)
	}

	all, _, err := f.svc.ListProducts(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, fx, err := f.svc.ListProducts(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, fx.CacheHit)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)
}

func TestWriteSurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _, err := f.svc.CreateProduct(ctx, widget())
	require.NoError(t, err)
	_, err = f.repo.FindByID(context.Background(), p.ID)
	assert.NoError(t, err)
	assert.Len(t, f.pub.kinds(), 1)
}

func TestEndToEndLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, _, err := f.svc.CreateProduct(ctx, models.ProductInput{Name: "Widget", Price: decimal.RequireFromString("10.99"), Stock: 5})
	require.NoError(t, err)

	got, _, err := f.svc.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.99", got.Price.String())
	assert.Equal(t, 5, got.Stock)

	stock := 3
	updated, _, err := f.svc.UpdateProduct(ctx, created.ID, models.ProductPatch{Stock: &stock})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Stock)
	assert.Equal(t, "10.99", updated.Price.String())

	_, err = f.svc.DeleteProduct(ctx, created.ID)
	require.NoError(t, err)

	_, _, err = f.svc.GetProduct(ctx, created.ID)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, []models.EventKind{models.EventCreated, models.EventUpdated, models.EventDeleted}, f.pub.kinds())
}

func TestSeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.Seed(ctx, SeedProducts)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.svc.Seed(ctx, SeedProducts)
	require.NoError(t, err)
	assert.Zero(t, n)

	items, _, err := f.svc.ListProducts(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "20.5", items[1].Price.String())
	assert.Len(t, f.pub.kinds(), 3)
}
