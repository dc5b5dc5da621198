package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kevin-soria/system-design-playground/services/product-service/models"
)

// MemoryRepository keeps products in process memory, in insertion order.
// It backs STORE_BACKEND=memory for local runs and the package tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	order []string
	items map[string]models.Product
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: map[string]models.Product{}}
}

func (m *MemoryRepository) Create(_ context.Context, in models.ProductInput) (*models.Product, error) {
	now := models.Now()
	p := models.Product{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Price:     in.Price,
		Stock:     in.Stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[p.ID] = p
	m.order = append(m.order, p.ID)
	return &p, nil
}

func (m *MemoryRepository) FindByID(_ context.Context, id string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.items[id]
	if !ok {
		return nil, notFound(id)
	}
	return &p, nil
}

func (m *MemoryRepository) Find(_ context.Context, skip, limit int) ([]*models.Product, error) {
	skip, limit = window(skip, limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Product{}
	for i := skip; i < len(m.order); i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		p := m.items[m.order[i]]
		out = append(out, &p)
	}
	return out, nil
}

func (m *MemoryRepository) Update(_ context.Context, id string, patch models.ProductPatch) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, notFound(id)
	}
	if patch.IsEmpty() {
		return &p, nil
	}
	p = patch.Apply(p)
	p.UpdatedAt = models.Now()
	m.items[id] = p
	return &p, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return false, nil
	}
	delete(m.items, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryRepository) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.items)), nil
}

func (m *MemoryRepository) EnsureIndexes(context.Context) error { return nil }
