package session

import (
	"sync"
	"time"

	"warehouse-miniapp/internal/query"
	"warehouse-miniapp/internal/store"
)

// mirror copies each new successful result of o into st while a product is
// selected. A key change with nothing loaded yet clears st. An emptied st is
// refilled from the next published result even if that result is not new.
func mirror[T any](s *Session, o *query.Observer[T], st *store.Store[T]) func() {
	var (
		mu      sync.Mutex
		lastKey string
		lastAt  time.Time
	)
	return o.Subscribe(func(r query.Result[T]) {
		if _, ok := s.SelectedProduct(); !ok {
			return
		}
		key := r.Key.String()
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.HasData && !r.IsPlaceholder:
			if _, held := st.Get(); held && key == lastKey && r.UpdatedAt.Equal(lastAt) {
				return
			}
			lastKey, lastAt = key, r.UpdatedAt
			st.Set(r.Data)
		case key != lastKey:
			lastKey, lastAt = key, time.Time{}
			st.Clear()
		}
	})
}
