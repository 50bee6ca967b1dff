//go:build !integration

package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// gate is a fetcher that blocks until released, counting its calls.
type gate struct {
	calls   atomic.Int32
	release chan struct{}
}

func newGate() *gate { return &gate{release: make(chan struct{})} }

func (g *gate) open() { close(g.release) }

func (g *gate) fetcher(v []string, err error) Fetcher[[]string] {
	return func(ctx context.Context) ([]string, error) {
		g.calls.Add(1)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return v, err
	}
}

func immediate(v []string) Fetcher[[]string] {
	return func(context.Context) ([]string, error) { return v, nil }
}

func waitSettled[T any](t *testing.T, o *Observer[T]) Result[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := o.Wait(ctx)
	if err != nil {
		t.Fatalf("observer did not settle: %v", err)
	}
	return r
}

// flightOf returns the singleflight key of the fetch currently tracked for key.
func flightOf(c *Client, key Key) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key.String()]; ok {
		return e.flightKey
	}
	return ""
}

// awaitFlight blocks until the flight with the given key has committed or been dropped.
func awaitFlight(t *testing.T, c *Client, flightKey string) {
	t.Helper()
	select {
	case <-c.sf.DoChan(flightKey, func() (any, error) { return nil, nil }):
	case <-time.After(2 * time.Second):
		t.Fatalf("flight %s did not finish", flightKey)
	}
}

func TestKey_StructuralEquality(t *testing.T) {
	type params struct {
		Group  string
		Search string
	}

	t.Run("maps compare by content", func(t *testing.T) {
		a := NewKey("products", map[string]string{"group": "hw", "search": "bolt"})
		b := NewKey("products", map[string]string{"search": "bolt", "group": "hw"})
		if !a.Equal(b) {
			t.Fatalf("expected %s == %s", a, b)
		}
		if a.Digest() != b.Digest() {
			t.Fatal("expected equal digests for equal keys")
		}
	})

	t.Run("structs compare field by field", func(t *testing.T) {
		a := NewKey("products", params{Group: "hw", Search: "bolt"})
		b := NewKey("products", params{Group: "hw", Search: "bolt"})
		c := NewKey("products", params{Group: "hw"})
		if !a.Equal(b) {
			t.Fatal("expected equal struct keys")
		}
		if a.Equal(c) {
			t.Fatal("expected different struct keys")
		}
	})

	t.Run("scope is part of identity", func(t *testing.T) {
		if NewKey("remains", "X").Equal(NewKey("orders", "X")) {
			t.Fatal("keys of different scopes must differ")
		}
	})
}

func TestObserver_ConcurrentObserversShareOneFetch(t *testing.T) {
	c := NewClient(Options{Name: "test"})
	defer c.Close()
	g := newGate()
	key := NewKey("products", map[string]string{"group": "hw"})

	a := NewObserver[[]string](c, ObserverOptions{})
	b := NewObserver[[]string](c, ObserverOptions{})

	var wg sync.WaitGroup
	for _, o := range []*Observer[[]string]{a, b} {
		wg.Add(1)
		go func(o *Observer[[]string]) {
			defer wg.Done()
			o.SetQuery(NewKey("products", map[string]string{"group": "hw"}), g.fetcher([]string{"bolt"}, nil))
		}(o)
	}
	wg.Wait()
	g.open()

	ra := waitSettled(t, a)
	rb := waitSettled(t, b)

	if got := g.calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", got)
	}
	if len(ra.Data) != 1 || ra.Data[0] != "bolt" || len(rb.Data) != 1 || rb.Data[0] != "bolt" {
		t.Fatalf("observers saw different data: %v / %v", ra.Data, rb.Data)
	}
	if !ra.Key.Equal(key) {
		t.Fatalf("unexpected key %s", ra.Key)
	}
}

func TestFetch_JoinsObserverFetch(t *testing.T) {
	c := NewClient(Options{})
	defer c.Close()
	g := newGate()
	key := NewKey("events", nil)

	o := NewObserver[[]string](c, ObserverOptions{})
	o.SetQuery(key, g.fetcher([]string{"inventory"}, nil))

	type out struct {
		v   []string
		err error
	}
	done := make(chan out, 1)
	go func() {
		v, err := Fetch(context.Background(), c, key, g.fetcher([]string{"other"}, nil))
		done <- out{v, err}
	}()

	// Let Fetch join before the flight is released.
	time.Sleep(20 * time.Millisecond)
	g.open()

	res := <-done
	if res.err != nil {
		t.Fatalf("Fetch failed: %v", res.err)
	}
	if len(res.v) != 1 || res.v[0] != "inventory" {
		t.Fatalf("expected joined result, got %v", res.v)
	}
	if got := g.calls.Load(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}
}

func TestObserver_AbandonedKeyDoesNotOverwrite(t *testing.T) {
	c := NewClient(Options{})
	defer c.Close()
	g1, g2 := newGate(), newGate()
	k1 := NewKey("products", map[string]string{"search": "bo"})
	k2 := NewKey("products", map[string]string{"search": "bolt"})

	o := NewObserver[[]string](c, ObserverOptions{})
	o.SetQuery(k1, g1.fetcher([]string{"from-k1"}, nil))
	k1Flight := flightOf(c, k1)

	o.SetQuery(k2, g2.fetcher([]string{"from-k2"}, nil))

	g2.open()
	r := waitSettled(t, o)
	if len(r.Data) != 1 || r.Data[0] != "from-k2" {
		t.Fatalf("expected k2 data, got %v", r.Data)
	}

	g1.open()
	awaitFlight(t, c, k1Flight)

	r = o.Result()
	if len(r.Data) != 1 || r.Data[0] != "from-k2" {
		t.Fatalf("late k1 result overwrote k2: %v", r.Data)
	}
	if s := c.snapshot(k1.String()); s.hasData || s.fetching {
		t.Fatalf("abandoned k1 entry should hold nothing, got %+v", s)
	}
}

func TestObserver_LatestGenerationWins(t *testing.T) {
	c := NewClient(Options{})
	defer c.Close()
	first, second := newGate(), newGate()
	key := NewKey("tasks", nil)

	o := NewObserver[[]string](c, ObserverOptions{})
	o.SetQuery(key, first.fetcher([]string{"old"}, nil))
	oldFlight := flightOf(c, key)

	// A refetch supersedes the outstanding generation.
	o.SetQuery(key, second.fetcher([]string{"new"}, nil))
	o.Refetch()

	second.open()
	r := waitSettled(t, o)
	first.open()
	awaitFlight(t, c, oldFlight)

	r = o.Result()
	if len(r.Data) != 1 || r.Data[0] != "new" {
		t.Fatalf("expected most recent generation to win, got %v", r.Data)
	}
}

func TestObserver_PlaceholderFromPreviousKey(t *testing.T) {
	c := NewClient(Options{})
	defer c.Close()
	k := NewKey("products", map[string]string{"group": "hw"})
	k2 := NewKey("products", map[string]string{"group": "tools"})

	t.Run("previous data is shown while the new key loads", func(t *testing.T) {
		o := NewObserver[[]string](c, ObserverOptions{Placeholder: PlaceholderPrevious})
		defer o.Close()
		o.SetQuery(k, immediate([]string{"hammer"}))
		waitSettled(t, o)

		g := newGate()
		defer g.open()
		o.SetQuery(k2, g.fetcher([]string{"saw"}, nil))

		r := o.Result()
		if !r.IsFetching {
			t.Fatal("expected IsFetching=true for the new key")
		}
		if !r.IsPlaceholder || !r.HasData || len(r.Data) != 1 || r.Data[0] != "hammer" {
			t.Fatalf("expected placeholder data from previous key, got %+v", r)
		}
	})

	t.Run("none shows nothing", func(t *testing.T) {
		o := NewObserver[[]string](c, ObserverOptions{Placeholder: PlaceholderNone})
		defer o.Close()
		o.SetQuery(NewKey("remains", "A"), immediate([]string{"a-line"}))
		waitSettled(t, o)

		g := newGate()
		defer g.open()
		o.SetQuery(NewKey("remains", "B"), g.fetcher([]string{"b-line"}, nil))

		r := o.Result()
		if r.HasData || r.IsPlaceholder {
			t.Fatalf("expected no placeholder, got %+v", r)
		}
		if !r.IsFetching {
			t.Fatal("expected IsFetching=true")
		}
	})

	t.Run("same scope only", func(t *testing.T) {
		o := NewObserver[[]string](c, ObserverOptions{Placeholder: PlaceholderSameScope})
		defer o.Close()
		o.SetQuery(NewKey("events", nil), immediate([]string{"e"}))
		waitSettled(t, o)

		g := newGate()
		defer g.open()
		o.SetQuery(NewKey("tasks", nil), g.fetcher([]string{"t"}, nil))
		if r := o.Result(); r.HasData {
			t.Fatalf("placeholder leaked across scopes: %+v", r)
		}
	})
}

func TestObserver_ErrorKeepsLastData(t *testing.T) {
	c := NewClient(Options{StaleTime: time.Hour})
	defer c.Close()
	key := NewKey("events", nil)
	boom := errors.New("boom")

	var fail atomic.Bool
	fetch := func(context.Context) ([]string, error) {
		if fail.Load() {
			return nil, boom
		}
		return []string{"ok"}, nil
	}

	o := NewObserver[[]string](c, ObserverOptions{})
	defer o.Close()
	o.SetQuery(key, fetch)
	waitSettled(t, o)

	fail.Store(true)
	o.Refetch()
	r := waitSettled(t, o)

	if !errors.Is(r.Err, boom) {
		t.Fatalf("expected error to be surfaced, got %v", r.Err)
	}
	if !r.HasData || r.Data[0] != "ok" {
		t.Fatalf("expected last good data to survive, got %+v", r)
	}

	fail.Store(false)
	o.Refetch()
	r = waitSettled(t, o)
	if r.Err != nil {
		t.Fatalf("expected error cleared after success, got %v", r.Err)
	}
}

func TestClient_FreshDataIsNotRefetched(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := NewClient(Options{StaleTime: time.Minute, Now: clock})
	defer c.Close()

	var calls atomic.Int32
	fetch := func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"x"}, nil
	}
	key := NewKey("tasks", nil)

	if _, err := Fetch(context.Background(), c, key, fetch); err != nil {
		t.Fatal(err)
	}
	o := NewObserver[[]string](c, ObserverOptions{})
	defer o.Close()
	o.SetQuery(key, fetch)
	if r := o.Result(); r.IsFetching || !r.HasData {
		t.Fatalf("expected fresh cached data, got %+v", r)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 fetch while fresh, got %d", calls.Load())
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	o2 := NewObserver[[]string](c, ObserverOptions{})
	defer o2.Close()
	o2.SetQuery(key, fetch)
	waitSettled(t, o2)
	if calls.Load() != 2 {
		t.Fatalf("expected refetch once stale, got %d", calls.Load())
	}
}

func TestClient_InvalidateRefetchesObservedEntries(t *testing.T) {
	c := NewClient(Options{StaleTime: time.Hour})
	defer c.Close()

	var calls atomic.Int32
	fetchFor := func(id string) Fetcher[[]string] {
		return func(context.Context) ([]string, error) {
			calls.Add(1)
			return []string{id}, nil
		}
	}

	a := NewObserver[[]string](c, ObserverOptions{})
	defer a.Close()
	a.SetQuery(NewKey("remains", "A"), fetchFor("A"))
	waitSettled(t, a)
	b := NewObserver[[]string](c, ObserverOptions{})
	defer b.Close()
	b.SetQuery(NewKey("remains", "B"), fetchFor("B"))
	waitSettled(t, b)

	n := c.Invalidate("remains", func(k Key) bool { return k.Params == "A" })
	if n != 1 {
		t.Fatalf("expected 1 invalidated entry, got %d", n)
	}
	waitSettled(t, a)
	if calls.Load() != 3 {
		t.Fatalf("expected only A to refetch, got %d fetches", calls.Load())
	}
}

func TestClient_ResetAndPrune(t *testing.T) {
	c := NewClient(Options{StaleTime: time.Hour})
	defer c.Close()
	key := NewKey("events", nil)

	if _, err := Fetch(context.Background(), c, key, immediate([]string{"e"})); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
	c.Reset(key)
	if c.Len() != 0 {
		t.Fatalf("expected unobserved entry to be removed, got %d", c.Len())
	}

	if _, err := Fetch(context.Background(), c, key, immediate([]string{"e"})); err != nil {
		t.Fatal(err)
	}
	if n := c.Prune(-time.Second); n != 1 {
		t.Fatalf("expected prune to remove 1 entry, got %d", n)
	}
}

func TestClient_ClosedClient(t *testing.T) {
	c := NewClient(Options{})
	c.Close()
	c.Close()

	if _, err := Fetch(context.Background(), c, NewKey("events", nil), immediate(nil)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	o := NewObserver[[]string](c, ObserverOptions{})
	o.SetQuery(NewKey("events", nil), immediate(nil))
	if r := o.Result(); r.HasData || r.IsFetching {
		t.Fatalf("expected empty result on closed client, got %+v", r)
	}
}

func TestFetch_RecoversFetcherPanic(t *testing.T) {
	c := NewClient(Options{})
	defer c.Close()
	_, err := Fetch(context.Background(), c, NewKey("tasks", nil), func(context.Context) ([]string, error) {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestObserver_SubscribeReceivesResults(t *testing.T) {
	c := NewClient(Options{})
	defer c.Close()
	o := NewObserver[[]string](c, ObserverOptions{})
	defer o.Close()

	var mu sync.Mutex
	var seen []Result[[]string]
	o.Subscribe(func(r Result[[]string]) {
		mu.Lock()
		seen = append(seen, r)
		mu.Unlock()
	})

	g := newGate()
	o.SetQuery(NewKey("events", nil), g.fetcher([]string{"e"}, nil))
	g.open()
	waitSettled(t, o)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 {
		t.Fatalf("expected a fetching and a settled result, got %d", len(seen))
	}
	if !seen[0].IsFetching {
		t.Error("first published result should be fetching")
	}
	last := seen[len(seen)-1]
	if last.IsFetching || last.Data[0] != "e" {
		t.Errorf("unexpected last result %+v", last)
	}
}

func TestObserver_SetQuerySameKeyRepublishes(t *testing.T) {
	c := NewClient(Options{StaleTime: time.Minute})
	defer c.Close()
	o := NewObserver[[]string](c, ObserverOptions{})
	defer o.Close()

	key := NewKey("remains", map[string]string{"product_id": "p1"})
	o.SetQuery(key, immediate([]string{"r1"}))
	waitSettled(t, o)

	var got []Result[[]string]
	var mu sync.Mutex
	o.Subscribe(func(r Result[[]string]) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})
	o.SetQuery(key, immediate([]string{"r1"}))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one republished result, got %d", len(got))
	}
	if !got[0].HasData || got[0].IsFetching || got[0].Data[0] != "r1" {
		t.Fatalf("unexpected republished result %+v", got[0])
	}
}
