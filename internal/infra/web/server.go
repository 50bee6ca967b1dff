package web

import (
	"context"
	"net/http"
	"time"

	"warehouse-miniapp/internal/infra/metrics"
	"warehouse-miniapp/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Options configures the Mini App HTTP surface.
type Options struct {
	BotToken       string
	InitDataMaxAge time.Duration
	RequestTimeout time.Duration
	// WaitTimeout bounds ?wait=1 requests.
	WaitTimeout time.Duration
	Dev         bool
}

type Server struct {
	sessions *session.Manager
	auth     *AuthManager
	opts     Options
	log      *zerolog.Logger
	now      func() time.Time
}

func NewServer(sessions *session.Manager, auth *AuthManager, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.WaitTimeout <= 0 || opts.WaitTimeout > opts.RequestTimeout {
		opts.WaitTimeout = opts.RequestTimeout
	}
	l := logger.With().Str("component", "WebServer").Logger()
	return &Server{sessions: sessions, auth: auth, opts: opts, log: &l, now: time.Now}
}

// Router builds the chi routes for the web view.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.opts.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/session", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Delete("/session", s.handleLogout)
			r.Get("/me", s.handleMe)
			r.Get("/products", s.handleProducts)
			r.Get("/products/{id}/remains", s.handleRemains)
			r.Get("/products/{id}/orders", s.handleOrders)
			r.Get("/products/{id}/moved", s.handleMoved)
			r.Post("/products/{id}/prefetch", s.handlePrefetch)
			r.Get("/events", s.handleEvents)
			r.Get("/tasks", s.handleTasks)
			r.Post("/host/back", s.handleBack)
		})
	})
	return r
}

type ctxKey struct{}

func withSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, sess)
}

func sessionFrom(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(ctxKey{}).(*session.Session)
	return sess
}

// requireSession resolves the token to a live session. A token minted for a
// session that has since been swept is rejected.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		sess, err := s.sessions.Get(claims.TgID)
		if err != nil || sess.ID != claims.SessionID {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(sess.Context(withSession(r.Context(), sess))))
	})
}
