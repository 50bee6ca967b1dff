package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"warehouse-miniapp/internal/domain"
	"warehouse-miniapp/internal/domain/model"
	"warehouse-miniapp/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Manager holds the live sessions keyed by Telegram user id.
type Manager struct {
	deps Deps
	log  *zerolog.Logger
	now  func() time.Time

	mu   sync.RWMutex
	byTg map[int64]*Session
}

func NewManager(deps Deps) *Manager {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	base := zerolog.Nop()
	if deps.Logger != nil {
		base = *deps.Logger
	}
	l := base.With().Str("component", "SessionManager").Logger()
	return &Manager{deps: deps, log: &l, now: now, byTg: make(map[int64]*Session)}
}

// Create logs user in. An existing session of the same user is reused so its
// cache survives a reload of the web view. A session closed by a concurrent
// Sweep between lookup and login is replaced once with a fresh one.
func (m *Manager) Create(user model.User, initData string) (*Session, error) {
	for attempt := 0; ; attempt++ {
		s, resumed, err := m.acquire(user.ID)
		if err != nil {
			metrics.IncLogin("error")
			return nil, err
		}
		err = s.Login(user, initData)
		if errors.Is(err, domain.ErrNoSession) && attempt == 0 {
			m.forget(user.ID, s)
			m.log.Debug().Int64("tg_id", user.ID).Str("session_id", s.ID).Msg("session closed during login, retrying")
			continue
		}
		if err != nil {
			metrics.IncLogin("error")
			return nil, err
		}
		metrics.SetSessionsActive(m.Len())
		if resumed {
			metrics.IncLogin("resumed")
		} else {
			metrics.IncLogin("created")
			m.log.Info().Int64("tg_id", user.ID).Str("session_id", s.ID).Msg("session created")
		}
		return s, nil
	}
}

// acquire returns the session of tgID, creating it when absent.
func (m *Manager) acquire(tgID int64) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byTg[tgID]; ok {
		return s, true, nil
	}
	s, err := New(m.deps)
	if err != nil {
		return nil, false, err
	}
	m.byTg[tgID] = s
	return s, false, nil
}

// forget drops s from the index unless another session replaced it already.
func (m *Manager) forget(tgID int64, s *Session) {
	m.mu.Lock()
	if m.byTg[tgID] == s {
		delete(m.byTg, tgID)
	}
	m.mu.Unlock()
}

// Get returns the session of tgID and marks it active.
func (m *Manager) Get(tgID int64) (*Session, error) {
	m.mu.RLock()
	s, ok := m.byTg[tgID]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNoSession
	}
	s.Touch()
	return s, nil
}

// Remove closes the session of tgID. It reports whether one existed.
func (m *Manager) Remove(tgID int64) bool {
	m.mu.Lock()
	s, ok := m.byTg[tgID]
	delete(m.byTg, tgID)
	n := len(m.byTg)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	metrics.SetSessionsActive(n)
	return true
}

// Sweep closes sessions idle for longer than idle and returns how many.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.byTg {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(m.byTg, id)
		}
	}
	n := len(m.byTg)
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		metrics.AddSessionsExpired(len(expired))
		m.log.Info().Int("count", len(expired)).Msg("idle sessions closed")
	}
	metrics.SetSessionsActive(n)
	return len(expired)
}

// Each calls fn for every live session, in Telegram id order.
func (m *Manager) Each(fn func(*Session)) {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.byTg))
	for id := range m.byTg {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	list := make([]*Session, 0, len(ids))
	for _, id := range ids {
		list = append(list, m.byTg[id])
	}
	m.mu.RUnlock()

	for _, s := range list {
		fn(s)
	}
}

// PruneCaches drops unobserved cache entries idle longer than maxIdle in
// every session.
func (m *Manager) PruneCaches(maxIdle time.Duration) int {
	n := 0
	m.Each(func(s *Session) { n += s.Prune(maxIdle) })
	return n
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byTg)
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	list := m.byTg
	m.byTg = make(map[int64]*Session)
	m.mu.Unlock()
	for _, s := range list {
		s.Close()
	}
	metrics.SetSessionsActive(0)
}
