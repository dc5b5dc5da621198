package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	awspkg "github.com/kevin-soria/system-design-playground/pkg/aws"
	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/common/middleware"
	"github.com/kevin-soria/system-design-playground/services/product-service/controllers"
)

const ServiceName = "product-service"

// RouterConfig carries the HTTP-layer settings and collaborators.
type RouterConfig struct {
	AllowedOrigins     string
	RequestTimeout     time.Duration
	RateLimitPerMinute int
	RateLimitBurst     int
	Metrics            *awspkg.MetricsClient
}

func RegisterProductRoutes(r gin.IRouter, pc *controllers.ProductController) {
	productRoutes := r.Group("/products")
	{
		productRoutes.GET("", pc.GetProducts)
		productRoutes.GET("/:id", pc.GetProductByID)
		productRoutes.POST("", pc.CreateProduct)
		productRoutes.PUT("/:id", pc.UpdateProduct)
		productRoutes.DELETE("/:id", pc.DeleteProduct)
	}
}

func RegisterHealthRoutes(r gin.IRouter, hc *controllers.HealthController) {
	r.GET("/", hc.Root)
	r.GET("/health", hc.Health)
}

// NewRouter builds the engine with the full middleware chain. The rate
// limiter's janitor stops when ctx ends.
func NewRouter(ctx context.Context, cfg RouterConfig, pc *controllers.ProductController) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(zap.L()),
	)
	// Metrics must wrap ErrorMiddleware to see the rendered status.
	if cfg.Metrics.IsEnabled() {
		r.Use(middleware.MetricsMiddleware(cfg.Metrics, ServiceName))
	}
	r.Use(
		middleware.SecurityHeaders(),
		middleware.CORSMiddleware(cfg.AllowedOrigins),
		apperrors.ErrorMiddleware(),
	)
	if cfg.RateLimitPerMinute > 0 {
		limiter := middleware.NewRateLimiter(ctx, rate.Limit(float64(cfg.RateLimitPerMinute)/60), cfg.RateLimitBurst, 10*time.Minute)
		r.Use(middleware.RateLimitMiddleware(limiter))
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	RegisterHealthRoutes(r, controllers.NewHealthController(ServiceName))
	RegisterProductRoutes(r, pc)
	return r
}
