package warehouse

import (
	"context"

	"warehouse-miniapp/internal/domain/model"
	"warehouse-miniapp/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.WarehouseAPI = (*limitedWarehouse)(nil)

// limitedWarehouse caps the number of concurrent backend calls across all
// sessions. Waiting for a slot respects the caller's context.
type limitedWarehouse struct {
	inner adapter.WarehouseAPI
	sem   chan struct{}
}

func NewLimitedWarehouse(inner adapter.WarehouseAPI, maxConcurrent int) adapter.WarehouseAPI {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedWarehouse{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedWarehouse) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedWarehouse) release() { <-l.sem }

func (l *limitedWarehouse) GetAllProduct(ctx context.Context, p adapter.ProductsParams) ([]model.Product, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.GetAllProduct(ctx, p)
}

func (l *limitedWarehouse) GetRemainsByID(ctx context.Context, p adapter.RemainsParams) ([]model.RemainsLine, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.GetRemainsByID(ctx, p)
}

func (l *limitedWarehouse) GetOrders(ctx context.Context, p adapter.RemainsParams) ([]model.Order, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.GetOrders(ctx, p)
}

func (l *limitedWarehouse) GetMovedProducts(ctx context.Context, p adapter.RemainsParams) ([]model.MovedProduct, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.GetMovedProducts(ctx, p)
}

func (l *limitedWarehouse) GetEvents(ctx context.Context, initData string) ([]model.Event, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.GetEvents(ctx, initData)
}

func (l *limitedWarehouse) GetAllTasks(ctx context.Context, initData string) ([]model.Task, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.GetAllTasks(ctx, initData)
}
