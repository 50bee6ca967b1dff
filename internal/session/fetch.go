package session

import (
	"context"
	"strings"

	"warehouse-miniapp/internal/domain/model"
	"warehouse-miniapp/internal/domain/ports/adapter"
	"warehouse-miniapp/internal/filter"
	"warehouse-miniapp/internal/query"
)

// Fetchers read the credential when they run so a re-login takes effect on
// the next fetch.

func (s *Session) fetchProducts(st filter.State) query.Fetcher[[]model.Product] {
	return func(ctx context.Context) ([]model.Product, error) {
		return s.api.GetAllProduct(s.Context(ctx), adapter.ProductsParams{
			Group:       st.SelectedGroup,
			SearchValue: strings.TrimSpace(st.SearchValue),
			InitData:    s.InitData(),
		})
	}
}

func (s *Session) fetchRemains(id string) query.Fetcher[[]model.RemainsLine] {
	return func(ctx context.Context) ([]model.RemainsLine, error) {
		return s.api.GetRemainsByID(s.Context(ctx), adapter.RemainsParams{ProductID: id, InitData: s.InitData()})
	}
}

func (s *Session) fetchOrders(id string) query.Fetcher[[]model.Order] {
	return func(ctx context.Context) ([]model.Order, error) {
		return s.api.GetOrders(s.Context(ctx), adapter.RemainsParams{ProductID: id, InitData: s.InitData()})
	}
}

func (s *Session) fetchMoved(id string) query.Fetcher[[]model.MovedProduct] {
	return func(ctx context.Context) ([]model.MovedProduct, error) {
		return s.api.GetMovedProducts(s.Context(ctx), adapter.RemainsParams{ProductID: id, InitData: s.InitData()})
	}
}

func (s *Session) fetchEvents(ctx context.Context) ([]model.Event, error) {
	return s.api.GetEvents(s.Context(ctx), s.InitData())
}

func (s *Session) fetchTasks(ctx context.Context) ([]model.Task, error) {
	return s.api.GetAllTasks(s.Context(ctx), s.InitData())
}
