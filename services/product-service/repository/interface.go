package repository

import (
	"context"

	"github.com/kevin-soria/system-design-playground/services/product-service/models"
)

// ProductRepo is the store adapter contract. It uses plain Go types so the
// Mongo and DynamoDB adapters are interchangeable.
//
// Identities are opaque strings assigned by the adapter. A malformed identity
// behaves like a missing record: FindByID and Update return a NotFound error
// and Delete returns false. Store failures are returned as Persistence or
// Unavailable errors.
type ProductRepo interface {
	Create(ctx context.Context, in models.ProductInput) (*models.Product, error)
	FindByID(ctx context.Context, id string) (*models.Product, error)
	// Find lists records in insertion order. A negative skip is treated as
	// 0 and a non-positive limit means no limit.
	Find(ctx context.Context, skip, limit int) ([]*models.Product, error)
	// Update applies only the fields present in patch. An empty patch returns
	// the current record without touching updated_at.
	Update(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error)
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

// window clamps pagination arguments to the ranges every adapter accepts.
func window(skip, limit int) (int, int) {
	return max(skip, 0), max(limit, 0)
}
