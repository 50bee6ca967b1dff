// Package filter keeps the product-list filter shared by the views of one
// session: the selected group and the search text.
package filter

import (
	"strings"
	"sync"

	"warehouse-miniapp/internal/query"
)

const ProductsScope = "products"

// State is a filter value. Empty strings mean "no filter".
type State struct {
	SelectedGroup string `json:"group"`
	SearchValue   string `json:"search"`
}

// IsEmpty reports whether no filter is applied.
func (s State) IsEmpty() bool {
	return s.SelectedGroup == "" && s.SearchValue == ""
}

// ProductsKey derives the products query key. Surrounding whitespace in the
// search text does not produce a new key.
func (s State) ProductsKey() query.Key {
	return query.NewKey(ProductsScope, State{
		SelectedGroup: s.SelectedGroup,
		SearchValue:   strings.TrimSpace(s.SearchValue),
	})
}

// Listener is called with the new state after every change.
type Listener func(State)

// Context is the mutable filter of one session.
type Context struct {
	mu    sync.Mutex
	state State

	notify    sync.Mutex
	nextID    int
	listeners map[int]Listener
	order     []int
}

func New() *Context {
	return &Context{listeners: make(map[int]Listener)}
}

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) SetSelectedGroup(group string) {
	c.Batch(func(tx *Tx) { tx.SetSelectedGroup(group) })
}

func (c *Context) SetSearchValue(search string) {
	c.Batch(func(tx *Tx) { tx.SetSearchValue(search) })
}

// Reset clears both fields.
func (c *Context) Reset() {
	c.Batch(func(tx *Tx) {
		tx.SetSelectedGroup("")
		tx.SetSearchValue("")
	})
}

// Tx collects the changes of one Batch.
type Tx struct {
	state State
}

func (tx *Tx) SetSelectedGroup(group string) { tx.state.SelectedGroup = group }
func (tx *Tx) SetSearchValue(search string)  { tx.state.SearchValue = search }
func (tx *Tx) State() State                  { return tx.state }

// Batch applies fn atomically and notifies subscribers once, synchronously,
// if the state changed.
func (c *Context) Batch(fn func(tx *Tx)) {
	c.notify.Lock()
	defer c.notify.Unlock()

	c.mu.Lock()
	tx := &Tx{state: c.state}
	fn(tx)
	changed := tx.state != c.state
	c.state = tx.state
	next := c.state
	ls := c.listenersLocked()
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range ls {
		l(next)
	}
}

func (c *Context) listenersLocked() []Listener {
	ls := make([]Listener, 0, len(c.order))
	for _, id := range c.order {
		ls = append(ls, c.listeners[id])
	}
	return ls
}

// Subscribe registers fn for later changes. fn must not mutate this Context.
func (c *Context) Subscribe(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.order = append(c.order, id)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.listeners[id]; !ok {
			return
		}
		delete(c.listeners, id)
		for i, v := range c.order {
			if v == id {
				c.order = append(c.order[:i:i], c.order[i+1:]...)
				break
			}
		}
	}
}
