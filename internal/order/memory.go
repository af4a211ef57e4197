package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type paymentEventKey struct {
	paymentID string
	status    string
}

// MemoryRepository keeps orders in process memory. It backs STORE_MODE=memory
// and the reconciliation tests; a single mutex serializes every write.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[string]*Order
	byNumber map[string]string
	events   map[paymentEventKey]PaymentEvent
	nextItem int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[string]*Order),
		byNumber: make(map[string]string),
		events:   make(map[paymentEventKey]PaymentEvent),
	}
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	if c.Items == nil {
		c.Items = make([]OrderItem, 0)
	}
	if o.PaymentUpdatedAt != nil {
		t := *o.PaymentUpdatedAt
		c.PaymentUpdatedAt = &t
	}
	return &c
}

func (m *MemoryRepository) CreateOrder(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byNumber[o.OrderNumber]; exists {
		return ErrDuplicateOrderNumber
	}
	for i := range o.Items {
		m.nextItem++
		o.Items[i].ID = m.nextItem
		o.Items[i].OrderID = o.ID
	}
	m.byID[o.ID] = cloneOrder(o)
	m.byNumber[o.OrderNumber] = o.ID
	return nil
}

func (m *MemoryRepository) GetOrderByID(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.byID[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryRepository) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	m.mu.RLock()
	id, ok := m.byNumber[number]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	return m.GetOrderByID(ctx, id)
}

func (m *MemoryRepository) ListOrders(_ context.Context, filter ListFilter) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]Order, 0, len(m.byID))
	for _, o := range m.byID {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		all = append(all, *cloneOrder(o))
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if filter.Offset >= len(all) {
		return []Order{}, nil
	}
	end := len(all)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return all[filter.Offset:end], nil
}

func (m *MemoryRepository) UpdateOrderStatus(_ context.Context, id string, guard StatusGuard) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.byID[id]
	if !ok {
		return nil, ErrOrderNotFound
	}

	update, err := guard(cloneOrder(o))
	if err != nil {
		return nil, err
	}
	o.Status = update.Status
	o.PaymentStatus = update.PaymentStatus
	o.UpdatedAt = update.UpdatedAt
	return cloneOrder(o), nil
}

func (m *MemoryRepository) SetPreferenceID(_ context.Context, id, preferenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.byID[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.PreferenceID = preferenceID
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) ApplyPaymentEvent(_ context.Context, orderID string, event PaymentEvent, guard PaymentGuard) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.byID[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}

	key := paymentEventKey{paymentID: event.PaymentID, status: event.ProviderStatus}
	if _, seen := m.events[key]; seen {
		return nil, ErrDuplicatePaymentEvent
	}

	update, err := guard(cloneOrder(o))
	if err != nil {
		return nil, err
	}

	event.OrderID = orderID
	m.events[key] = event
	o.applyPayment(update)
	return cloneOrder(o), nil
}

// PaymentEvents returns the recorded idempotency entries for an order.
func (m *MemoryRepository) PaymentEvents(orderID string) []PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]PaymentEvent, 0)
	for _, e := range m.events {
		if e.OrderID == orderID {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].ReceivedAt.Before(events[j].ReceivedAt)
	})
	return events
}

func (m *MemoryRepository) Stats(_ context.Context, since time.Time) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc := newStatsAccumulator()
	var recentCount int64
	recentRevenue := decimal.Zero
	for _, o := range m.byID {
		acc.add(o.Status, o.PaymentStatus, 1, o.TotalPrice)
		if !o.CreatedAt.Before(since) {
			recentCount++
			if o.PaymentStatus == PaymentPaid {
				recentRevenue = recentRevenue.Add(o.TotalPrice)
			}
		}
	}
	return acc.finish(recentCount, recentRevenue), nil
}
