//go:build !integration

package session

import (
	"context"
	"sync"

	"warehouse-miniapp/internal/domain/model"
	"warehouse-miniapp/internal/domain/ports/adapter"
	"warehouse-miniapp/internal/infra/adapters/warehouse"
)

// countingAPI records calls and delegates to an in-memory warehouse. Remains
// requests for ids in slow block until released.
type countingAPI struct {
	*warehouse.MemoryWarehouse

	mu       sync.Mutex
	products []adapter.ProductsParams
	remains  []string
	initData []string
	slow     map[string]chan struct{}
}

func newCountingAPI() *countingAPI {
	return &countingAPI{MemoryWarehouse: warehouse.NewMemoryWarehouse(), slow: make(map[string]chan struct{})}
}

func (a *countingAPI) block(productID string) (release func()) {
	ch := make(chan struct{})
	a.mu.Lock()
	a.slow[productID] = ch
	a.mu.Unlock()
	return func() { close(ch) }
}

func (a *countingAPI) GetAllProduct(ctx context.Context, p adapter.ProductsParams) ([]model.Product, error) {
	a.mu.Lock()
	a.products = append(a.products, p)
	a.initData = append(a.initData, p.InitData)
	a.mu.Unlock()
	return a.MemoryWarehouse.GetAllProduct(ctx, p)
}

func (a *countingAPI) GetRemainsByID(ctx context.Context, p adapter.RemainsParams) ([]model.RemainsLine, error) {
	a.mu.Lock()
	a.remains = append(a.remains, p.ProductID)
	ch := a.slow[p.ProductID]
	a.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.MemoryWarehouse.GetRemainsByID(ctx, p)
}

func (a *countingAPI) productCalls() []adapter.ProductsParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]adapter.ProductsParams(nil), a.products...)
}

func (a *countingAPI) remainsCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.remains...)
}
