//go:build !integration

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"warehouse-miniapp/internal/domain"
	"warehouse-miniapp/internal/domain/model"
	"warehouse-miniapp/internal/host"
	"warehouse-miniapp/internal/query"

	"github.com/shopspring/decimal"
)

var testUser = model.User{ID: 279058397, FirstName: "Ann", Username: "ann"}

func newLoggedIn(t *testing.T, api *countingAPI) *Session {
	t.Helper()
	s, err := New(Deps{API: api, StaleTime: time.Minute})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Login(testUser, "query_id=1&hash=abc"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return s
}

func settle[T any](t *testing.T, o *query.Observer[T]) query.Result[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := o.Wait(ctx)
	if err != nil {
		t.Fatalf("query did not settle: %v", err)
	}
	return r
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_RequiresAPI(t *testing.T) {
	if _, err := New(Deps{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestLogin_SetsUserAndStartsLists(t *testing.T) {
	api := newCountingAPI()
	api.SetProducts([]model.Product{{ID: "p1", Name: "Bolt M6", Group: "hardware"}})
	api.SetEvents([]model.Event{{ID: "e1", Title: "Inventory"}})
	s := newLoggedIn(t, api)

	if u, ok := s.User.Get(); !ok || u.ID != testUser.ID {
		t.Fatalf("user store not set: %+v %v", u, ok)
	}
	if r := settle(t, s.Products()); len(r.Data) != 1 || r.Err != nil {
		t.Fatalf("unexpected products result: %+v", r)
	}
	if r := settle(t, s.Events()); len(r.Data) != 1 {
		t.Fatalf("unexpected events result: %+v", r)
	}
	if calls := api.productCalls(); len(calls) != 1 || calls[0].InitData != "query_id=1&hash=abc" {
		t.Fatalf("expected one products call with init data, got %+v", calls)
	}

	if err := s.Login(model.User{}, "x"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty user, got %v", err)
	}
}

func TestApplyFilter_BatchedChangeIssuesOneQuery(t *testing.T) {
	api := newCountingAPI()
	api.SetProducts([]model.Product{
		{ID: "p1", Name: "Bolt M6", Group: "hardware"},
		{ID: "p2", Name: "Bolt cutter", Group: "tools"},
	})
	s := newLoggedIn(t, api)
	settle(t, s.Products())

	s.ApplyFilter("hardware", "bolt")
	r := settle(t, s.Products())

	calls := api.productCalls()
	if len(calls) != 2 {
		t.Fatalf("expected exactly one new query, got %d calls: %+v", len(calls)-1, calls)
	}
	if calls[1].Group != "hardware" || calls[1].SearchValue != "bolt" {
		t.Fatalf("query not issued for combined key: %+v", calls[1])
	}
	if len(r.Data) != 1 || r.Data[0].ID != "p1" {
		t.Fatalf("unexpected filtered products: %+v", r.Data)
	}

	// Unchanged filter: no new query.
	s.ApplyFilter("hardware", "bolt")
	if got := len(api.productCalls()); got != 2 {
		t.Fatalf("unchanged filter refetched: %d calls", got)
	}
}

func TestSelectProduct_EmptyRemainsIsNotAnError(t *testing.T) {
	api := newCountingAPI()
	s := newLoggedIn(t, api)

	if err := s.SelectProduct("X"); err != nil {
		t.Fatalf("SelectProduct failed: %v", err)
	}
	r := settle(t, s.RemainsQuery())
	if r.Err != nil || !r.HasData || len(r.Data) != 0 {
		t.Fatalf("expected empty remains without error, got %+v", r)
	}
	eventually(t, func() bool {
		lines, ok := s.Remains.Get()
		return ok && lines != nil && len(lines) == 0
	})
}

func TestSelectProduct_WritesStoresAndNeverShowsOtherProduct(t *testing.T) {
	api := newCountingAPI()
	api.SetRemains("A", []model.RemainsLine{{ID: "r1", Nomenclature: "Bolt M6", Quantity: decimal.NewFromInt(10)}})
	api.SetRemains("B", []model.RemainsLine{{ID: "r2", Nomenclature: "Nut M6", Quantity: decimal.NewFromInt(3)}})
	s := newLoggedIn(t, api)

	if err := s.SelectProduct("A"); err != nil {
		t.Fatalf("SelectProduct(A) failed: %v", err)
	}
	settle(t, s.RemainsQuery())
	eventually(t, func() bool {
		lines, ok := s.Remains.Get()
		return ok && len(lines) == 1 && lines[0].ID == "r1"
	})

	release := api.block("B")
	if err := s.SelectProduct("B"); err != nil {
		t.Fatalf("SelectProduct(B) failed: %v", err)
	}
	r := s.RemainsQuery().Result()
	if !r.IsFetching || r.HasData || r.IsPlaceholder {
		t.Fatalf("product A stock must not stand in for B: %+v", r)
	}
	if _, ok := s.Remains.Get(); ok {
		t.Fatal("remains store should be cleared while B loads")
	}

	release()
	settle(t, s.RemainsQuery())
	eventually(t, func() bool {
		lines, ok := s.Remains.Get()
		return ok && len(lines) == 1 && lines[0].ID == "r2"
	})

	if err := s.SelectProduct(" "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for blank id, got %v", err)
	}
}

func TestInvalidate_RefetchesOnlyMatchingProduct(t *testing.T) {
	api := newCountingAPI()
	s := newLoggedIn(t, api)
	_ = s.SelectProduct("A")
	settle(t, s.RemainsQuery())

	if n := s.Invalidate(RemainsScope, "B"); n != 0 {
		t.Fatalf("expected no entry for B, got %d", n)
	}
	if n := s.Invalidate(RemainsScope, "A"); n != 1 {
		t.Fatalf("expected one entry for A, got %d", n)
	}
	settle(t, s.RemainsQuery())
	if calls := api.remainsCalls(); len(calls) != 2 {
		t.Fatalf("expected a refetch of A, got %v", calls)
	}
}

func TestLogout_ClearsStoresAndClosesHost(t *testing.T) {
	api := newCountingAPI()
	s := newLoggedIn(t, api)
	h, ok := host.Probe("ios", "7.0")
	if !ok {
		t.Fatal("expected host")
	}
	s.AttachHost(h)
	s.ApplyFilter("tools", "")
	_ = s.SelectProduct("A")
	settle(t, s.RemainsQuery())
	eventually(t, func() bool { _, ok := s.Remains.Get(); return ok })

	if err := s.Logout(); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, ok := s.User.Get(); ok {
		t.Fatal("user store not cleared")
	}
	if _, ok := s.Remains.Get(); ok {
		t.Fatal("remains store not cleared")
	}
	if !s.Filter.State().IsEmpty() {
		t.Fatalf("filter not reset: %+v", s.Filter.State())
	}
	if !h.Closed() {
		t.Fatal("host not closed")
	}
	if s.InitData() != "" {
		t.Fatal("credential kept after logout")
	}
}

func TestBackButton_LeavesProduct(t *testing.T) {
	api := newCountingAPI()
	s := newLoggedIn(t, api)
	h, _ := host.Probe("android", "6.1")
	s.AttachHost(h)
	bb, ok := h.BackButton()
	if !ok {
		t.Fatal("expected back button on 6.1")
	}

	_ = s.SelectProduct("A")
	if !bb.Visible() {
		t.Fatal("back button should show on product detail")
	}
	settle(t, s.RemainsQuery())
	eventually(t, func() bool { _, ok := s.Remains.Get(); return ok })

	bb.Click()
	if _, ok := s.SelectedProduct(); ok {
		t.Fatal("product still selected after back")
	}
	if bb.Visible() {
		t.Fatal("back button should hide on the list")
	}
	if _, ok := s.Remains.Get(); ok {
		t.Fatal("remains store should be cleared after back")
	}
}

func TestBackButton_ReselectRefillsStores(t *testing.T) {
	api := newCountingAPI()
	api.SetRemains("A", []model.RemainsLine{{ID: "r1", Nomenclature: "Bolt M6", Quantity: decimal.NewFromInt(3)}})
	s := newLoggedIn(t, api)
	h, _ := host.Probe("ios", "7.0")
	s.AttachHost(h)
	bb, _ := h.BackButton()

	if err := s.SelectProduct("A"); err != nil {
		t.Fatalf("SelectProduct failed: %v", err)
	}
	settle(t, s.RemainsQuery())
	eventually(t, func() bool { _, ok := s.Remains.Get(); return ok })

	bb.Click()
	if _, ok := s.Remains.Get(); ok {
		t.Fatal("remains store should be cleared after back")
	}

	if err := s.SelectProduct("A"); err != nil {
		t.Fatalf("second SelectProduct failed: %v", err)
	}
	settle(t, s.RemainsQuery())
	eventually(t, func() bool { _, ok := s.Remains.Get(); return ok })
	lines, _ := s.Remains.Get()
	if len(lines) != 1 || lines[0].ID != "r1" {
		t.Fatalf("unexpected remains after reselect: %+v", lines)
	}
	if _, ok := s.Orders.Get(); !ok {
		t.Fatal("orders store should be refilled after reselect")
	}
	if _, ok := s.Moved.Get(); !ok {
		t.Fatal("moved store should be refilled after reselect")
	}
	if n := len(api.remainsCalls()); n != 1 {
		t.Fatalf("fresh remains should be served from cache, got %d fetches", n)
	}
}

func TestClose_RejectsFurtherWork(t *testing.T) {
	api := newCountingAPI()
	s := newLoggedIn(t, api)
	s.Close()
	s.Close()
	if err := s.SelectProduct("A"); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("expected ErrNoSession after Close, got %v", err)
	}
	if err := s.Login(testUser, "x"); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("expected ErrNoSession on login after Close, got %v", err)
	}
}
