// Package session is the application root of one Mini App user: it owns the
// stores, the filter, the query cache and the observers that keep them in
// sync with the warehouse backend.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"warehouse-miniapp/internal/domain"
	"warehouse-miniapp/internal/domain/model"
	"warehouse-miniapp/internal/domain/ports/adapter"
	"warehouse-miniapp/internal/filter"
	"warehouse-miniapp/internal/host"
	"warehouse-miniapp/internal/infra/logging"
	"warehouse-miniapp/internal/query"
	"warehouse-miniapp/internal/store"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	RemainsScope = "remains"
	OrdersScope  = "orders"
	MovedScope   = "moved"
	EventsScope  = "events"
	TasksScope   = "tasks"
)

// productParams keys the per-product queries.
type productParams struct {
	ProductID string `json:"product_id"`
}

func productKey(scope, id string) query.Key {
	return query.NewKey(scope, productParams{ProductID: id})
}

// Deps are the collaborators shared by every session.
type Deps struct {
	API       adapter.WarehouseAPI
	Logger    *zerolog.Logger
	StaleTime time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Session is the state of one logged-in Mini App user.
type Session struct {
	ID string

	User    *store.Store[model.User]
	Remains *store.Store[[]model.RemainsLine]
	Orders  *store.Store[[]model.Order]
	Moved   *store.Store[[]model.MovedProduct]
	Filter  *filter.Context

	api    adapter.WarehouseAPI
	log    *zerolog.Logger
	now    func() time.Time
	client *query.Client

	products *query.Observer[[]model.Product]
	remains  *query.Observer[[]model.RemainsLine]
	orders   *query.Observer[[]model.Order]
	moved    *query.Observer[[]model.MovedProduct]
	events   *query.Observer[[]model.Event]
	tasks    *query.Observer[[]model.Task]

	mu        sync.Mutex
	initData  string
	productID string
	host      host.Host
	backOff   func()
	lastSeen  time.Time
	loggedIn  bool
	closed    bool
	unsubs    []func()
}

func New(deps Deps) (*Session, error) {
	if deps.API == nil {
		return nil, fmt.Errorf("session: %w: warehouse api is nil", domain.ErrInvalidArgument)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	id := ulid.Make().String()
	base := zerolog.Nop()
	if deps.Logger != nil {
		base = *deps.Logger
	}
	l := base.With().Str("component", "Session").Str("session_id", id).Logger()

	client := query.NewClient(query.Options{
		Name:      "session",
		StaleTime: deps.StaleTime,
		Logger:    &l,
		Now:       now,
	})
	s := &Session{
		ID:       id,
		User:     store.New[model.User](),
		Remains:  store.New[[]model.RemainsLine](),
		Orders:   store.New[[]model.Order](),
		Moved:    store.New[[]model.MovedProduct](),
		Filter:   filter.New(),
		api:      deps.API,
		log:      &l,
		now:      now,
		client:   client,
		products: query.NewObserver[[]model.Product](client, query.ObserverOptions{Placeholder: query.PlaceholderPrevious}),
		// Another product's stock must never stand in for the selected one.
		remains:  query.NewObserver[[]model.RemainsLine](client, query.ObserverOptions{Placeholder: query.PlaceholderNone}),
		orders:   query.NewObserver[[]model.Order](client, query.ObserverOptions{Placeholder: query.PlaceholderNone}),
		moved:    query.NewObserver[[]model.MovedProduct](client, query.ObserverOptions{Placeholder: query.PlaceholderNone}),
		events:   query.NewObserver[[]model.Event](client, query.ObserverOptions{Placeholder: query.PlaceholderPrevious}),
		tasks:    query.NewObserver[[]model.Task](client, query.ObserverOptions{Placeholder: query.PlaceholderPrevious}),
		lastSeen: now(),
	}

	s.unsubs = append(s.unsubs,
		s.Filter.Subscribe(s.onFilter),
		mirror(s, s.remains, s.Remains),
		mirror(s, s.orders, s.Orders),
		mirror(s, s.moved, s.Moved),
	)
	return s, nil
}

// Context decorates ctx with the session's log fields.
func (s *Session) Context(ctx context.Context) context.Context {
	ctx = logging.WithSessID(ctx, s.ID)
	if u, ok := s.User.Get(); ok {
		ctx = logging.WithTgID(ctx, u.ID)
	}
	return ctx
}

// InitData is the credential forwarded with every backend call.
func (s *Session) InitData() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initData
}

// Login stores the verified identity and starts the list queries. A repeated
// login refreshes the credential and keeps the cache.
func (s *Session) Login(user model.User, initData string) error {
	defer logging.TraceDuration(s.log, "Session.Login")()
	if user.IsZero() {
		return fmt.Errorf("login: %w: empty user", domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrNoSession
	}
	s.initData = initData
	s.lastSeen = s.now()
	first := !s.loggedIn
	s.loggedIn = true
	s.mu.Unlock()

	s.User.Set(user)
	if first {
		s.products.SetQuery(s.Filter.State().ProductsKey(), s.fetchProducts(s.Filter.State()))
		s.events.SetQuery(query.NewKey(EventsScope, nil), s.fetchEvents)
		s.tasks.SetQuery(query.NewKey(TasksScope, nil), s.fetchTasks)
	}
	s.log.Info().Int64("tg_id", user.ID).Bool("first", first).Msg("session login")
	return nil
}

// AttachHost binds the WebApp host reported at login; h may be nil.
func (s *Session) AttachHost(h host.Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backOff != nil {
		s.backOff()
		s.backOff = nil
	}
	s.host = h
	if h == nil {
		return
	}
	if bb, ok := h.BackButton(); ok {
		s.backOff = bb.OnClick(s.leaveProduct)
		if s.productID != "" {
			bb.Show()
		}
	}
}

func (s *Session) Host() (host.Host, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host, s.host != nil
}

// Logout clears every store and dismisses the Mini App.
func (s *Session) Logout() error {
	s.mu.Lock()
	h := s.host
	s.initData = ""
	s.productID = ""
	s.loggedIn = false
	s.mu.Unlock()

	s.User.Clear()
	s.Remains.Clear()
	s.Orders.Clear()
	s.Moved.Clear()
	s.Filter.Reset()

	s.log.Info().Msg("session logout")
	if h == nil {
		return nil
	}
	if err := h.Close(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Close tears down the observers and the query cache.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	if s.backOff != nil {
		s.backOff()
		s.backOff = nil
	}
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	s.products.Close()
	s.remains.Close()
	s.orders.Close()
	s.moved.Close()
	s.events.Close()
	s.tasks.Close()
	s.client.Close()
}

// Touch records activity for the idle sweeper.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// ApplyFilter sets both filter fields as one change.
func (s *Session) ApplyFilter(group, search string) {
	s.Filter.Batch(func(tx *filter.Tx) {
		tx.SetSelectedGroup(group)
		tx.SetSearchValue(search)
	})
}

func (s *Session) onFilter(st filter.State) {
	s.mu.Lock()
	ready := s.loggedIn && !s.closed
	s.mu.Unlock()
	if ready {
		s.products.SetQuery(st.ProductsKey(), s.fetchProducts(st))
	}
}

// SelectProduct moves the detail queries to product id.
func (s *Session) SelectProduct(id string) error {
	defer logging.TraceDuration(s.log, "Session.SelectProduct")()
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("select product: %w: empty id", domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	if s.closed || !s.loggedIn {
		s.mu.Unlock()
		return domain.ErrNoSession
	}
	s.productID = id
	h := s.host
	s.mu.Unlock()

	s.remains.SetQuery(productKey(RemainsScope, id), s.fetchRemains(id))
	s.orders.SetQuery(productKey(OrdersScope, id), s.fetchOrders(id))
	s.moved.SetQuery(productKey(MovedScope, id), s.fetchMoved(id))

	if h != nil {
		if bb, ok := h.BackButton(); ok {
			bb.Show()
		}
	}
	return nil
}

// SelectedProduct is the product the detail queries follow, if any.
func (s *Session) SelectedProduct() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.productID, s.productID != ""
}

// leaveProduct returns to the product list.
func (s *Session) leaveProduct() {
	s.mu.Lock()
	s.productID = ""
	h := s.host
	s.mu.Unlock()

	s.Remains.Clear()
	s.Orders.Clear()
	s.Moved.Clear()
	if h != nil {
		if bb, ok := h.BackButton(); ok {
			bb.Hide()
		}
	}
}

// Prefetch loads the detail queries of product id into the cache without
// selecting it, so a following SelectProduct is served from cache.
func (s *Session) Prefetch(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("prefetch: %w: empty id", domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	ready := s.loggedIn && !s.closed
	s.mu.Unlock()
	if !ready {
		return domain.ErrNoSession
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := query.Fetch(ctx, s.client, productKey(RemainsScope, id), s.fetchRemains(id))
		return err
	})
	g.Go(func() error {
		_, err := query.Fetch(ctx, s.client, productKey(OrdersScope, id), s.fetchOrders(id))
		return err
	})
	g.Go(func() error {
		_, err := query.Fetch(ctx, s.client, productKey(MovedScope, id), s.fetchMoved(id))
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("prefetch %s: %w", id, err)
	}
	return nil
}

// Invalidate marks cached entries of scope stale. A non-empty productID
// limits it to that product's entries.
func (s *Session) Invalidate(scope, productID string) int {
	var match func(query.Key) bool
	if productID != "" {
		match = func(k query.Key) bool {
			p, ok := k.Params.(productParams)
			return ok && p.ProductID == productID
		}
	}
	return s.client.Invalidate(scope, match)
}

// Prune drops cache entries nobody observes anymore.
func (s *Session) Prune(maxIdle time.Duration) int {
	return s.client.Prune(maxIdle)
}

func (s *Session) Products() *query.Observer[[]model.Product]         { return s.products }
func (s *Session) RemainsQuery() *query.Observer[[]model.RemainsLine] { return s.remains }
func (s *Session) OrdersQuery() *query.Observer[[]model.Order]        { return s.orders }
func (s *Session) MovedQuery() *query.Observer[[]model.MovedProduct]  { return s.moved }
func (s *Session) Events() *query.Observer[[]model.Event]             { return s.events }
func (s *Session) Tasks() *query.Observer[[]model.Task]               { return s.tasks }
