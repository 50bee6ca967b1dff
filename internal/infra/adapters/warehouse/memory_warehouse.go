package warehouse

import (
	"context"
	"strings"
	"sync"

	"warehouse-miniapp/internal/domain/model"
	"warehouse-miniapp/internal/domain/ports/adapter"
)

var _ adapter.WarehouseAPI = (*MemoryWarehouse)(nil)

// MemoryWarehouse serves fixed data for local development (backend url
// "memory://") and tests. Init data is not checked.
type MemoryWarehouse struct {
	mu       sync.RWMutex
	products []model.Product
	remains  map[string][]model.RemainsLine
	orders   map[string][]model.Order
	moved    map[string][]model.MovedProduct
	events   []model.Event
	tasks    []model.Task
}

func NewMemoryWarehouse() *MemoryWarehouse {
	return &MemoryWarehouse{
		remains: make(map[string][]model.RemainsLine),
		orders:  make(map[string][]model.Order),
		moved:   make(map[string][]model.MovedProduct),
	}
}

func (m *MemoryWarehouse) SetProducts(ps []model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = append([]model.Product(nil), ps...)
}

func (m *MemoryWarehouse) SetRemains(productID string, lines []model.RemainsLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remains[productID] = append([]model.RemainsLine(nil), lines...)
}

func (m *MemoryWarehouse) SetOrders(productID string, orders []model.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[productID] = append([]model.Order(nil), orders...)
}

func (m *MemoryWarehouse) SetMoved(productID string, moved []model.MovedProduct) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moved[productID] = append([]model.MovedProduct(nil), moved...)
}

func (m *MemoryWarehouse) SetEvents(es []model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append([]model.Event(nil), es...)
}

func (m *MemoryWarehouse) SetTasks(ts []model.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append([]model.Task(nil), ts...)
}

func (m *MemoryWarehouse) GetAllProduct(ctx context.Context, p adapter.ProductsParams) ([]model.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(p.SearchValue))
	out := []model.Product{}
	for _, pr := range m.products {
		if p.Group != "" && pr.Group != p.Group {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(pr.Name), search) &&
			!strings.Contains(strings.ToLower(pr.Article), search) {
			continue
		}
		out = append(out, pr)
	}
	return out, nil
}

func (m *MemoryWarehouse) GetRemainsByID(ctx context.Context, p adapter.RemainsParams) ([]model.RemainsLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return nonNil(append([]model.RemainsLine(nil), m.remains[p.ProductID]...)), nil
}

func (m *MemoryWarehouse) GetOrders(ctx context.Context, p adapter.RemainsParams) ([]model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return nonNil(append([]model.Order(nil), m.orders[p.ProductID]...)), nil
}

func (m *MemoryWarehouse) GetMovedProducts(ctx context.Context, p adapter.RemainsParams) ([]model.MovedProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return nonNil(append([]model.MovedProduct(nil), m.moved[p.ProductID]...)), nil
}

func (m *MemoryWarehouse) GetEvents(ctx context.Context, _ string) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return nonNil(append([]model.Event(nil), m.events...)), nil
}

func (m *MemoryWarehouse) GetAllTasks(ctx context.Context, _ string) ([]model.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return nonNil(append([]model.Task(nil), m.tasks...)), nil
}
