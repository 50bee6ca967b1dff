package query

import (
	"context"
	"sync"
	"time"

	"warehouse-miniapp/internal/store"
)

// Result is what a consumer renders for its current key.
type Result[T any] struct {
	Key  Key
	Data T
	// HasData is false while Data holds the zero value only.
	HasData bool
	// IsFetching is true while a fetch for Key is outstanding.
	IsFetching bool
	// IsPlaceholder marks Data as coming from an earlier key.
	IsPlaceholder bool
	// Err is the last fetch error for Key; Data keeps the last success.
	Err       error
	UpdatedAt time.Time
}

// Observer follows one key at a time on behalf of a single consumer.
type Observer[T any] struct {
	c    *Client
	opts ObserverOptions

	mu     sync.Mutex
	key    Key
	hash   string
	subID  int
	bound  bool
	closed bool

	prev      T
	hasPrev   bool
	prevScope string

	// pub makes compute-then-publish atomic so subscribers never see an older
	// result after a newer one.
	pub     sync.Mutex
	results *store.Store[Result[T]]
}

func NewObserver[T any](c *Client, opts ObserverOptions) *Observer[T] {
	return &Observer[T]{c: c, opts: opts, results: store.New[Result[T]]()}
}

// SetQuery moves the observer to key. When key differs from the current one
// the old key is left; if nobody else observes it, its in-flight fetch is
// abandoned and its late result dropped. Setting the current key again
// republishes its result.
func (o *Observer[T]) SetQuery(key Key, fetch Fetcher[T]) {
	hash := key.String()
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if o.bound && o.hash == hash {
		o.mu.Unlock()
		o.c.setFetcher(hash, wrap(fetch))
		o.publish()
		return
	}
	oldHash, oldID, wasBound := o.hash, o.subID, o.bound
	if wasBound {
		o.rememberLocked(o.c.snapshot(oldHash), o.key)
	}
	_, id := o.c.subscribe(key, wrap(fetch), o.onEntryChange)
	o.key, o.hash, o.subID, o.bound = key, hash, id, true
	o.mu.Unlock()

	if wasBound {
		o.c.unsubscribe(oldHash, oldID)
	}
	o.publish()
}

func (o *Observer[T]) rememberLocked(s snapshot, from Key) {
	if !s.hasData {
		return
	}
	if v, ok := s.data.(T); ok {
		o.prev, o.hasPrev, o.prevScope = v, true, from.Scope
	}
}

func (o *Observer[T]) placeholderLocked() bool {
	if !o.hasPrev {
		return false
	}
	switch o.opts.Placeholder {
	case PlaceholderPrevious:
		return true
	case PlaceholderSameScope:
		return o.prevScope == o.key.Scope
	default:
		return false
	}
}

func (o *Observer[T]) onEntryChange(hash string) {
	o.mu.Lock()
	current := !o.closed && o.bound && o.hash == hash
	o.mu.Unlock()
	if current {
		o.publish()
	}
}

// Result computes the current view of the observed key.
func (o *Observer[T]) Result() Result[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.bound {
		return Result[T]{}
	}
	s := o.c.snapshot(o.hash)
	r := Result[T]{
		Key:        o.key,
		IsFetching: s.fetching,
		Err:        s.err,
		UpdatedAt:  s.updatedAt,
	}
	if s.hasData {
		if v, ok := s.data.(T); ok {
			r.Data, r.HasData = v, true
			o.prev, o.hasPrev, o.prevScope = v, true, o.key.Scope
		}
		return r
	}
	if s.fetching && o.placeholderLocked() {
		r.Data, r.HasData, r.IsPlaceholder = o.prev, true, true
	}
	return r
}

func (o *Observer[T]) publish() {
	o.pub.Lock()
	defer o.pub.Unlock()
	o.results.Set(o.Result())
}

// Subscribe registers fn for every published result. fn must not call back
// into SetQuery or Refetch of the same observer.
func (o *Observer[T]) Subscribe(fn func(Result[T])) (unsubscribe func()) {
	return o.results.Subscribe(func(r Result[T], ok bool) {
		if ok {
			fn(r)
		}
	})
}

// Key returns the currently observed key.
func (o *Observer[T]) Key() (Key, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.key, o.bound
}

// Refetch starts a new fetch for the current key even when it is fresh.
func (o *Observer[T]) Refetch() {
	o.mu.Lock()
	hash, bound := o.hash, o.bound && !o.closed
	o.mu.Unlock()
	if bound && o.c.refetch(hash) {
		o.publish()
	}
}

// Wait blocks until the current key has no fetch outstanding.
func (o *Observer[T]) Wait(ctx context.Context) (Result[T], error) {
	settled := make(chan struct{}, 1)
	unsub := o.Subscribe(func(r Result[T]) {
		if !r.IsFetching {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	for {
		if r := o.Result(); !r.IsFetching {
			return r, nil
		}
		select {
		case <-settled:
		case <-ctx.Done():
			return o.Result(), ctx.Err()
		}
	}
}

// Close leaves the current key. The observer ignores later calls.
func (o *Observer[T]) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	hash, id, bound := o.hash, o.subID, o.bound
	o.bound = false
	o.mu.Unlock()
	if bound {
		o.c.unsubscribe(hash, id)
	}
}
