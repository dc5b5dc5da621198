package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	awspkg "github.com/kevin-soria/system-design-playground/pkg/aws"
	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/cache"
	"github.com/kevin-soria/system-design-playground/services/product-service/events"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
	"github.com/kevin-soria/system-design-playground/services/product-service/repository"
)

const DefaultWriteTimeout = 10 * time.Second

// ProductService coordinates the store, the cache and the event publisher.
//
// Reads go cache first and fall back to the store, populating the cache on a
// miss. Writes commit to the store, then invalidate the affected cache keys,
// then publish an event. Cache and publish failures are absorbed into
// SideEffects; only store outcomes decide the result.
type ProductService struct {
	repo         repository.ProductRepo
	cache        *cache.CacheManager
	publisher    events.Publisher
	metrics      *awspkg.MetricsClient
	writeTimeout time.Duration
}

type Option func(*ProductService)

func WithMetrics(m *awspkg.MetricsClient) Option {
	return func(s *ProductService) { s.metrics = m }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *ProductService) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

func NewProductService(repo repository.ProductRepo, cm *cache.CacheManager, pub events.Publisher, opts ...Option) *ProductService {
	s := &ProductService{
		repo:         repo,
		cache:        cm,
		publisher:    pub,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// writeContext detaches a write from the caller's cancellation. Once a
// mutation is dispatched, it and its invalidation and publish steps run to
// completion even if the client goes away.
func (s *ProductService) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
}

func (s *ProductService) GetProduct(ctx context.Context, id string) (*models.Product, SideEffects, error) {
	var fx SideEffects
	p, hit, err := s.cache.GetProduct(ctx, id)
	s.noteCache(&fx, err)
	if hit {
		fx.CacheHit = true
		s.count(awspkg.MetricCacheHits, "get")
		return p, fx, nil
	}
	s.count(awspkg.MetricCacheMisses, "get")

	start := time.Now()
	p, err = s.repo.FindByID(ctx, id)
	s.storeLatency("get", start)
	if err != nil {
		return nil, fx, err
	}
	s.noteCache(&fx, s.cache.SetProduct(ctx, p))
	return p, fx, nil
}

func (s *ProductService) ListProducts(ctx context.Context, skip, limit int) ([]*models.Product, SideEffects, error) {
	var fx SideEffects
	if skip < 0 || limit < 1 {
		fields := map[string]string{}
		if skip < 0 {
			fields["skip"] = "must be a non-negative integer"
		}
		if limit < 1 {
			fields["limit"] = "must be a positive integer"
		}
		return nil, fx, apperrors.Validation("invalid pagination", fields)
	}
	items, hit, err := s.cache.GetProductList(ctx, skip, limit)
	s.noteCache(&fx, err)
	if hit {
		fx.CacheHit = true
		s.count(awspkg.MetricCacheHits, "list")
		return items, fx, nil
	}
	s.count(awspkg.MetricCacheMisses, "list")

	start := time.Now()
	items, err = s.repo.Find(ctx, skip, limit)
	s.storeLatency("list", start)
	if err != nil {
		return nil, fx, err
	}
	if items == nil {
		items = []*models.Product{}
	}
	s.noteCache(&fx, s.cache.SetProductList(ctx, skip, limit, items))
	return items, fx, nil
}

func (s *ProductService) CreateProduct(ctx context.Context, in models.ProductInput) (*models.Product, SideEffects, error) {
	var fx SideEffects
	if err := in.Validate(); err != nil {
		return nil, fx, err
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()

	start := time.Now()
	p, err := s.repo.Create(wctx, in)
	s.storeLatency("create", start)
	if err != nil {
		return nil, fx, err
	}

	s.noteCache(&fx, s.cache.Invalidate(wctx, cache.AllProductsCacheKey))
	fx.PublishFault = s.publish(wctx, models.NewProductCreated(p))
	s.count(awspkg.MetricProductsCreated, "")
	zap.L().Info("product created", zap.String("product_id", p.ID))
	return p, fx, nil
}

// UpdateProduct applies patch. An empty patch returns the current record and
// publishes nothing.
func (s *ProductService) UpdateProduct(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, SideEffects, error) {
	var fx SideEffects
	if err := patch.Validate(); err != nil {
		return nil, fx, err
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()

	start := time.Now()
	p, err := s.repo.Update(wctx, id, patch)
	s.storeLatency("update", start)
	if err != nil {
		return nil, fx, err
	}

	s.noteCache(&fx, s.cache.Invalidate(wctx, cache.ProductKey(id), cache.AllProductsCacheKey))
	if !patch.IsEmpty() {
		fx.PublishFault = s.publish(wctx, models.NewProductUpdated(p))
		s.count(awspkg.MetricProductsUpdated, "")
		zap.L().Info("product updated", zap.String("product_id", p.ID))
	}
	return p, fx, nil
}

func (s *ProductService) DeleteProduct(ctx context.Context, id string) (SideEffects, error) {
	var fx SideEffects

	wctx, cancel := s.writeContext(ctx)
	defer cancel()

	start := time.Now()
	deleted, err := s.repo.Delete(wctx, id)
	s.storeLatency("delete", start)
	if err != nil {
		return fx, err
	}
	if !deleted {
		return fx, apperrors.NotFound("product not found")
	}

	s.noteCache(&fx, s.cache.Invalidate(wctx, cache.ProductKey(id), cache.AllProductsCacheKey))
	fx.PublishFault = s.publish(wctx, models.NewProductDeleted(id))
	s.count(awspkg.MetricProductsDeleted, "")
	zap.L().Info("product deleted", zap.String("product_id", id))
	return fx, nil
}

// Seed creates samples through the normal write path when the store is
// empty, so the cache and the event stream see them too. It returns how many
// records were written.
func (s *ProductService) Seed(ctx context.Context, samples []models.ProductInput) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zap.L().Info("store already populated, skipping seed", zap.Int64("count", n))
		return 0, nil
	}
	for i, in := range samples {
		if _, _, err := s.CreateProduct(ctx, in); err != nil {
			return i, err
		}
	}
	zap.L().Info("seeded products", zap.Int("count", len(samples)))
	return len(samples), nil
}

func (s *ProductService) publish(ctx context.Context, e models.Event) error {
	eventType := models.EventType(e.Kind())
	if err := s.publisher.Publish(ctx, e); err != nil {
		zap.L().Error("failed to publish product event",
			zap.String("event_type", eventType),
			zap.String("event_id", e.Meta().ID),
			zap.String("product_id", e.ProductID()),
			zap.Error(err))
		s.count(awspkg.MetricEventPublishFailures, eventType)
		return err
	}
	s.count(awspkg.MetricEventsPublished, eventType)
	return nil
}

func (s *ProductService) noteCache(fx *SideEffects, err error) {
	if err == nil {
		return
	}
	fx.CacheFaults = append(fx.CacheFaults, err)
	s.count(awspkg.MetricCacheFaults, "")
}

func (s *ProductService) count(metric, label string) {
	if !s.metrics.IsEnabled() {
		return
	}
	dims := map[string]string{}
	if label != "" {
		dims["Operation"] = label
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.metrics.RecordCount(ctx, metric, dims); err != nil {
			zap.L().Debug("metric not recorded", zap.String("metric", metric), zap.Error(err))
		}
	}()
}

func (s *ProductService) storeLatency(op string, start time.Time) {
	if !s.metrics.IsEnabled() {
		return
	}
	elapsed := time.Since(start)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.metrics.RecordLatency(ctx, awspkg.MetricStoreLatency, elapsed, map[string]string{"Operation": op}); err != nil {
			zap.L().Debug("metric not recorded", zap.String("metric", awspkg.MetricStoreLatency), zap.Error(err))
		}
	}()
}
