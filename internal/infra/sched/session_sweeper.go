package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sessions is what the sweeper needs from the session manager.
type Sessions interface {
	Sweep(idle time.Duration) int
	PruneCaches(maxIdle time.Duration) int
}

// SessionSweeper periodically closes idle sessions and trims the caches of
// the live ones.
type SessionSweeper struct {
	interval time.Duration
	idle     time.Duration
	sessions Sessions
	log      *zerolog.Logger
}

func NewSessionSweeper(interval, idle time.Duration, sessions Sessions, logger *zerolog.Logger) *SessionSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "SessionSweeper").Logger()
	return &SessionSweeper{
		interval: interval,
		idle:     idle,
		sessions: sessions,
		log:      &l,
	}
}

func (w *SessionSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("idle", w.idle).Msg("Starting session sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping session sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *SessionSweeper) tick() {
	if n := w.sessions.Sweep(w.idle); n > 0 {
		w.log.Info().Int("count", n).Msg("idle sessions closed")
	}
	if n := w.sessions.PruneCaches(w.idle); n > 0 {
		w.log.Debug().Int("entries", n).Msg("unobserved cache entries pruned")
	}
}
