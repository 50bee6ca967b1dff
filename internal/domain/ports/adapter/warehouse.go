package adapter

import (
	"context"

	"warehouse-miniapp/internal/domain/model"
)

// ProductsParams filters the product listing. Empty fields apply no filter.
type ProductsParams struct {
	Group       string
	SearchValue string
	InitData    string
}

// RemainsParams selects the stock lines of one product.
type RemainsParams struct {
	ProductID string
	InitData  string
}

// WarehouseAPI is the remote warehouse backend. Every call is an idempotent
// read. Transport failures wrap domain.ErrNetwork and rejected init data wraps
// domain.ErrAuth; an unknown id yields an empty slice.
type WarehouseAPI interface {
	GetAllProduct(ctx context.Context, p ProductsParams) ([]model.Product, error)
	GetRemainsByID(ctx context.Context, p RemainsParams) ([]model.RemainsLine, error)
	GetOrders(ctx context.Context, p RemainsParams) ([]model.Order, error)
	GetMovedProducts(ctx context.Context, p RemainsParams) ([]model.MovedProduct, error)
	GetEvents(ctx context.Context, initData string) ([]model.Event, error)
	GetAllTasks(ctx context.Context, initData string) ([]model.Task, error)
}
