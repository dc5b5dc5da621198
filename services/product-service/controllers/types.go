package controllers

import (
	"context"

	"github.com/kevin-soria/system-design-playground/services/product-service/models"
	"github.com/kevin-soria/system-design-playground/services/product-service/services"
)

// Pagination defaults and bounds for GET /products.
const (
	DefaultSkip  = 0
	DefaultLimit = 100
	MaxLimit     = 1000
)

// CacheHeader tells clients whether a read was served from the cache.
const CacheHeader = "X-Cache"

// ProductServiceAPI defines the interface for product service operations
type ProductServiceAPI interface {
	GetProduct(ctx context.Context, id string) (*models.Product, services.SideEffects, error)
	ListProducts(ctx context.Context, skip, limit int) ([]*models.Product, services.SideEffects, error)
	CreateProduct(ctx context.Context, in models.ProductInput) (*models.Product, services.SideEffects, error)
	UpdateProduct(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, services.SideEffects, error)
	DeleteProduct(ctx context.Context, id string) (services.SideEffects, error)
}
