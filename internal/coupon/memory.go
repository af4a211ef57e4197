package coupon

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository backs STORE_MODE=memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	coupons map[string]Coupon
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{coupons: make(map[string]Coupon)}
}

func (m *MemoryRepository) Create(_ context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.coupons[c.Code]; exists {
		return ErrCouponExists
	}
	m.coupons[c.Code] = *c
	return nil
}

func (m *MemoryRepository) GetByCode(_ context.Context, code string) (*Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.coupons[code]
	if !ok {
		return nil, ErrCouponNotFound
	}
	return &c, nil
}

func (m *MemoryRepository) List(_ context.Context) ([]Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]Coupon, 0, len(m.coupons))
	for _, c := range m.coupons {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Code < all[j].Code })
	return all, nil
}

func (m *MemoryRepository) Update(_ context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.coupons[c.Code]; !ok {
		return ErrCouponNotFound
	}
	m.coupons[c.Code] = *c
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.coupons[code]; !ok {
		return ErrCouponNotFound
	}
	delete(m.coupons, code)
	return nil
}
