// Package store holds small observable containers for server-derived state
// shared by several views of one session.
package store

import "sync"

// Listener receives the new value; ok is false after Clear.
type Listener[T any] func(v T, ok bool)

// Store keeps a single value plus its subscribers. The zero value is not
// usable; construct with New.
type Store[T any] struct {
	mu    sync.Mutex
	value T
	ok    bool

	// notify serializes listener calls so subscribers observe sets in order.
	notify sync.Mutex

	nextID    int
	listeners []subscription[T]
}

type subscription[T any] struct {
	id int
	fn Listener[T]
}

func New[T any]() *Store[T] {
	return &Store[T]{}
}

// Get returns the current value; ok is false while nothing has been set.
func (s *Store[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.ok
}

// Set replaces the value. Every current subscriber has been called by the
// time Set returns.
func (s *Store[T]) Set(v T) {
	s.write(v, true)
}

// Clear resets the store to its initial empty state.
func (s *Store[T]) Clear() {
	var zero T
	s.write(zero, false)
}

func (s *Store[T]) write(v T, ok bool) {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	s.value, s.ok = v, ok
	ls := make([]subscription[T], len(s.listeners))
	copy(ls, s.listeners)
	s.mu.Unlock()

	for _, l := range ls {
		l.fn(v, ok)
	}
}

// Subscribe registers fn for future writes. The returned func removes it and
// is safe to call more than once. fn must not write to the same store.
func (s *Store[T]) Subscribe(fn Listener[T]) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}
