// Package invalidation applies backend change notifications to every live
// session.
package invalidation

import (
	"context"
	"errors"

	"warehouse-miniapp/internal/infra/redis"
	"warehouse-miniapp/internal/infra/worker"
	"warehouse-miniapp/internal/session"

	"github.com/rs/zerolog"
)

type Submitter interface {
	Submit(task worker.Task) error
}

// Fanout invalidates matching cache entries in each session on the pool.
type Fanout struct {
	sessions *session.Manager
	pool     Submitter
	log      *zerolog.Logger
}

func NewFanout(sessions *session.Manager, pool Submitter, logger *zerolog.Logger) *Fanout {
	l := logger.With().Str("component", "InvalidationFanout").Logger()
	return &Fanout{sessions: sessions, pool: pool, log: &l}
}

// Handle is a redis.InvalidationHandler.
func (f *Fanout) Handle(ctx context.Context, m redis.Invalidation) {
	scope := m.CacheScope()
	f.sessions.Each(func(s *session.Session) {
		task := func(context.Context) error {
			n := s.Invalidate(scope, m.ProductID)
			if n > 0 {
				f.log.Debug().Str("session_id", s.ID).Str("scope", m.Scope).Int("entries", n).Msg("session invalidated")
			}
			return nil
		}
		if err := f.pool.Submit(task); err != nil {
			if errors.Is(err, worker.ErrStopped) {
				return
			}
			// saturated pool: apply inline so no session keeps stale data
			_ = task(ctx)
		}
	})
}
