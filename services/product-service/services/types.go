package services

import (
	"github.com/shopspring/decimal"

	"github.com/kevin-soria/system-design-playground/services/product-service/models"
)

// SideEffects reports what happened around the primary result of a
// coordinator call. It never changes that result.
type SideEffects struct {
	// CacheHit is true when a read was served from the cache.
	CacheHit bool
	// CacheFaults holds every absorbed cache backend failure.
	CacheFaults []error
	// PublishFault is the absorbed event publish failure, if any.
	PublishFault error
}

// Degraded reports whether any auxiliary step failed.
func (fx SideEffects) Degraded() bool {
	return len(fx.CacheFaults) > 0 || fx.PublishFault != nil
}

// SeedProducts is the catalogue written into an empty store on startup.
var SeedProducts = []models.ProductInput{
	{Name: "Sample Product 1", Price: decimal.RequireFromString("10.99"), Stock: 100},
	{Name: "Sample Product 2", Price: decimal.RequireFromString("20.50"), Stock: 50},
	{Name: "Sample Product 3", Price: decimal.RequireFromString("5.75"), Stock: 200},
}
