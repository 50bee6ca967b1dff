// Package query caches server data by structural key with
// stale-while-revalidate semantics. A Client owns the cache; Observers are the
// consumers that follow one key at a time.
package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"warehouse-miniapp/internal/infra/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var ErrClosed = errors.New("query client closed")

// Fetcher loads the data for one key.
type Fetcher[T any] func(ctx context.Context) (T, error)

type anyFetcher func(ctx context.Context) (any, error)

type listener func(hash string)

type entry struct {
	key       Key
	hash      string
	data      any
	hasData   bool
	err       error
	updatedAt time.Time
	lastUsed  time.Time
	invalid   bool

	// gen tags the fetch currently allowed to commit into this entry.
	gen       uint64
	fetching  bool
	flightKey string
	flight    func() (any, error)
	stop      context.CancelFunc
	fetcher   anyFetcher

	nextID    int
	listeners map[int]listener
	waiters   int
}

func (e *entry) consumers() int { return len(e.listeners) + e.waiters }

func (e *entry) listenerList() []listener {
	ls := make([]listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	return ls
}

type snapshot struct {
	data      any
	hasData   bool
	fetching  bool
	err       error
	updatedAt time.Time
}

// Client is the cache shared by all observers of one session.
type Client struct {
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	sf singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func NewClient(opts Options) *Client {
	if opts.Name == "" {
		opts.Name = "default"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = opts.Logger.With().Str("component", "QueryClient").Str("cache", opts.Name).Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:    opts,
		log:     l,
		now:     now,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

func (c *Client) isStale(e *entry) bool {
	if !e.hasData || e.invalid {
		return true
	}
	return c.now().Sub(e.updatedAt) >= c.opts.StaleTime
}

func (c *Client) entryLocked(key Key) *entry {
	hash := key.String()
	e, ok := c.entries[hash]
	if !ok {
		e = &entry{key: key, hash: hash, listeners: make(map[int]listener)}
		c.entries[hash] = e
	}
	return e
}

// startFetchLocked issues a new generation for e. A fetch already in flight
// for an older generation keeps running but can no longer commit.
func (c *Client) startFetchLocked(e *entry, f anyFetcher) {
	e.gen++
	gen := e.gen
	hash, scope := e.hash, e.key.Scope
	ctx, stop := context.WithCancel(c.ctx)
	e.fetching = true
	e.fetcher = f
	e.stop = stop
	e.flightKey = hash + "#" + strconv.FormatUint(gen, 10)
	e.flight = func() (any, error) {
		defer stop()
		start := time.Now()
		v, err := c.run(ctx, f)
		committed := c.commit(hash, gen, v, err)
		outcome := "success"
		switch {
		case !committed:
			outcome = "dropped"
		case err != nil:
			outcome = "error"
		}
		metrics.ObserveFetch(scope, outcome, time.Since(start).Milliseconds(), err == nil)
		return v, err
	}
	c.log.Debug().Str("scope", scope).Str("key", digest(hash)).Uint64("gen", gen).Msg("fetch started")
	c.sf.DoChan(e.flightKey, e.flight)
}

func (c *Client) run(ctx context.Context, f anyFetcher) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("query fetcher panicked: %v", rec)
		}
	}()
	return f(ctx)
}

// commit stores a fetch result when gen is still the entry's live generation.
func (c *Client) commit(hash string, gen uint64, v any, err error) bool {
	c.mu.Lock()
	e, ok := c.entries[hash]
	if !ok || c.closed || e.gen != gen || !e.fetching {
		c.mu.Unlock()
		metrics.IncCacheDropped(c.opts.Name, scopeOf(e))
		c.log.Debug().Str("key", digest(hash)).Uint64("gen", gen).Msg("stale fetch result dropped")
		return false
	}
	e.fetching = false
	if err != nil {
		e.err = err
		c.log.Warn().Err(err).Str("scope", e.key.Scope).Str("key", digest(hash)).Msg("fetch failed")
	} else {
		e.data = v
		e.hasData = true
		e.err = nil
		e.invalid = false
		e.updatedAt = c.now()
	}
	ls := e.listenerList()
	c.mu.Unlock()

	for _, l := range ls {
		l(hash)
	}
	return true
}

func scopeOf(e *entry) string {
	if e != nil {
		return e.key.Scope
	}
	return "unknown"
}

// dropFlightLocked retires the in-flight generation and cancels its context.
func dropFlightLocked(e *entry) {
	e.gen++
	e.fetching = false
	if e.stop != nil {
		e.stop()
		e.stop = nil
	}
}

// abandonLocked drops the in-flight generation once nobody waits for it.
func (c *Client) abandonLocked(e *entry) {
	e.lastUsed = c.now()
	if e.consumers() == 0 && e.fetching {
		dropFlightLocked(e)
		c.log.Debug().Str("scope", e.key.Scope).Str("key", digest(e.hash)).Msg("fetch abandoned")
	}
}

func (c *Client) subscribe(key Key, f anyFetcher, l listener) (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := key.String()
	if c.closed {
		return hash, 0
	}
	e := c.entryLocked(key)
	e.nextID++
	id := e.nextID
	e.listeners[id] = l
	e.lastUsed = c.now()

	switch {
	case e.fetching:
		e.fetcher = f
		metrics.IncCacheRequest(c.opts.Name, "join")
	case c.isStale(e):
		if e.hasData {
			metrics.IncCacheRequest(c.opts.Name, "stale")
		} else {
			metrics.IncCacheRequest(c.opts.Name, "miss")
		}
		c.startFetchLocked(e, f)
	default:
		e.fetcher = f
		metrics.IncCacheRequest(c.opts.Name, "hit")
	}
	return hash, id
}

func (c *Client) unsubscribe(hash string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return
	}
	if _, ok := e.listeners[id]; !ok {
		return
	}
	delete(e.listeners, id)
	c.abandonLocked(e)
}

func (c *Client) setFetcher(hash string, f anyFetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok {
		e.fetcher = f
	}
}

func (c *Client) snapshot(hash string) snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return snapshot{}
	}
	return snapshot{
		data:      e.data,
		hasData:   e.hasData,
		fetching:  e.fetching,
		err:       e.err,
		updatedAt: e.updatedAt,
	}
}

// refetch starts a new generation for an observed key regardless of freshness.
func (c *Client) refetch(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok || c.closed || e.fetcher == nil {
		return false
	}
	c.startFetchLocked(e, e.fetcher)
	return true
}

// Fetch reads key through the cache: fresh data is returned directly,
// otherwise the caller waits for the single in-flight fetch of that key.
func Fetch[T any](ctx context.Context, c *Client, key Key, f Fetcher[T]) (T, error) {
	var zero T
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}
	e := c.entryLocked(key)
	e.lastUsed = c.now()
	if !c.isStale(e) {
		v := e.data
		c.mu.Unlock()
		metrics.IncCacheRequest(c.opts.Name, "hit")
		return cast[T](key, v)
	}
	if e.fetching {
		metrics.IncCacheRequest(c.opts.Name, "join")
	} else {
		metrics.IncCacheRequest(c.opts.Name, "miss")
		c.startFetchLocked(e, wrap(f))
	}
	e.waiters++
	// Joining under c.mu is safe: the flight cannot commit, and so cannot
	// leave the singleflight group, until the lock is released.
	ch := c.sf.DoChan(e.flightKey, e.flight)
	c.mu.Unlock()

	defer c.release(e)

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return cast[T](key, res.Val)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Client) release(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.waiters--
	if cur, ok := c.entries[e.hash]; ok && cur == e {
		c.abandonLocked(e)
	}
}

func cast[T any](key Key, v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("query: value for %s has type %T", key.Scope, v)
	}
	return t, nil
}

func wrap[T any](f Fetcher[T]) anyFetcher {
	return func(ctx context.Context) (any, error) {
		return f(ctx)
	}
}

// Invalidate marks every entry of scope matching match as stale; an empty
// scope matches all entries and a nil match accepts every key. Observed
// entries are refetched immediately. It returns the number of entries marked.
func (c *Client) Invalidate(scope string, match func(Key) bool) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	var notify []func()
	n := 0
	for hash, e := range c.entries {
		if scope != "" && e.key.Scope != scope {
			continue
		}
		if match != nil && !match(e.key) {
			continue
		}
		e.invalid = true
		n++
		if len(e.listeners) > 0 && e.fetcher != nil {
			c.startFetchLocked(e, e.fetcher)
			for _, l := range e.listenerList() {
				notify = append(notify, func() { l(hash) })
			}
		}
	}
	c.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	if n > 0 {
		c.log.Debug().Str("scope", scope).Int("entries", n).Msg("invalidated")
	}
	return n
}

// Reset forgets the data and error held for key. Observers of the key start
// a new fetch; an unobserved entry is removed.
func (c *Client) Reset(key Key) {
	hash := key.String()
	c.mu.Lock()
	e, ok := c.entries[hash]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	e.data, e.hasData, e.err = nil, false, nil
	e.updatedAt = time.Time{}
	var ls []listener
	if len(e.listeners) > 0 && e.fetcher != nil {
		c.startFetchLocked(e, e.fetcher)
		ls = e.listenerList()
	} else if e.consumers() == 0 {
		dropFlightLocked(e)
		delete(c.entries, hash)
	}
	c.mu.Unlock()

	for _, l := range ls {
		l(hash)
	}
}

// Prune removes unobserved entries that have been idle for longer than maxIdle.
func (c *Client) Prune(maxIdle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := c.now()
	for hash, e := range c.entries {
		if e.consumers() > 0 || e.fetching {
			continue
		}
		if now.Sub(e.lastUsed) > maxIdle {
			delete(c.entries, hash)
			n++
		}
	}
	return n
}

// Len is the number of cached entries.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close drops every entry and cancels the context handed to fetchers.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, e := range c.entries {
		dropFlightLocked(e)
	}
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	c.cancel()
}
