package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"warehouse-miniapp/internal/domain"
	"warehouse-miniapp/internal/domain/model"
	"warehouse-miniapp/internal/host"
	"warehouse-miniapp/internal/infra/logging"
	"warehouse-miniapp/internal/infra/telegram"
	"warehouse-miniapp/internal/query"

	"github.com/go-chi/chi/v5"
)

type loginRequest struct {
	InitData string `json:"init_data"`
	Platform string `json:"platform"`
	Version  string `json:"version"`
}

type loginResponse struct {
	SessionID  string     `json:"session_id"`
	Token      string     `json:"token"`
	User       model.User `json:"user"`
	Host       bool       `json:"host"`
	BackButton bool       `json:"back_button"`
}

// queryResponse is what the web view renders for one query.
type queryResponse[T any] struct {
	Data          T          `json:"data"`
	HasData       bool       `json:"has_data"`
	IsFetching    bool       `json:"is_fetching"`
	IsPlaceholder bool       `json:"is_placeholder"`
	Error         string     `json:"error,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

func toResponse[T any](r query.Result[T]) queryResponse[T] {
	resp := queryResponse[T]{
		Data:          r.Data,
		HasData:       r.HasData,
		IsFetching:    r.IsFetching,
		IsPlaceholder: r.IsPlaceholder,
	}
	if r.Err != nil {
		resp.Error = errorCode(r.Err)
	}
	if !r.UpdatedAt.IsZero() {
		at := r.UpdatedAt
		resp.UpdatedAt = &at
	}
	return resp
}

// errorCode keeps backend details out of responses.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuth):
		return "auth"
	case errors.Is(err, domain.ErrNetwork):
		return "network"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func wantsWait(r *http.Request) bool {
	switch r.URL.Query().Get("wait") {
	case "1", "true", "yes":
		return true
	}
	return false
}

func wantsRefresh(r *http.Request) bool {
	switch r.URL.Query().Get("refresh") {
	case "1", "true", "yes":
		return true
	}
	return false
}

// respond serves o's current result, or its settled result on ?wait=1.
// ?refresh=1 starts a new fetch even when the cached data is fresh.
func respond[T any](s *Server, w http.ResponseWriter, r *http.Request, o *query.Observer[T]) {
	if wantsRefresh(r) {
		o.Refetch()
	}
	res := o.Result()
	if wantsWait(r) {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.WaitTimeout)
		defer cancel()
		var err error
		if res, err = o.Wait(ctx); err != nil {
			l := logging.With(r.Context(), s.log)
			l.Debug().Err(err).Msg("wait returned before the query settled")
		}
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	l := logging.With(r.Context(), s.log)

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	data, err := telegram.ValidateInitData(req.InitData, s.opts.BotToken, s.opts.InitDataMaxAge, s.now())
	if err != nil {
		l.Warn().Err(err).Str("init_data", logging.Redact(req.InitData, s.opts.Dev)).Msg("login rejected")
		writeError(w, http.StatusUnauthorized, "init data rejected")
		return
	}
	sess, err := s.sessions.Create(data.User, data.Raw)
	if err != nil {
		l.Error().Err(err).Int64("tg_id", data.User.ID).Msg("session create failed")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	resp := loginResponse{SessionID: sess.ID, User: data.User}
	if h, ok := host.Probe(req.Platform, req.Version); ok {
		sess.AttachHost(h)
		resp.Host = true
		_, resp.BackButton = h.BackButton()
	} else {
		sess.AttachHost(nil)
	}

	token, err := s.auth.Mint(w, data.User.ID, sess.ID)
	if err != nil {
		l.Error().Err(err).Msg("mint session token failed")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	resp.Token = token
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	u, _ := sess.User.Get()
	if err := sess.Logout(); err != nil && !errors.Is(err, domain.ErrHostUnavailable) {
		l := logging.With(r.Context(), s.log)
		l.Warn().Err(err).Msg("logout")
	}
	s.sessions.Remove(u.ID)
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := sessionFrom(r.Context()).User.Get()
	if !ok {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleProducts applies group and search as one filter change.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	q := r.URL.Query()
	sess.ApplyFilter(q.Get("group"), q.Get("search"))
	respond(s, w, r, sess.Products())
}

func (s *Server) selectProduct(w http.ResponseWriter, r *http.Request) bool {
	if err := sessionFrom(r.Context()).SelectProduct(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, "product id is required")
		} else {
			writeError(w, http.StatusUnauthorized, "session closed")
		}
		return false
	}
	return true
}

func (s *Server) handleRemains(w http.ResponseWriter, r *http.Request) {
	if s.selectProduct(w, r) {
		respond(s, w, r, sessionFrom(r.Context()).RemainsQuery())
	}
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if s.selectProduct(w, r) {
		respond(s, w, r, sessionFrom(r.Context()).OrdersQuery())
	}
}

func (s *Server) handleMoved(w http.ResponseWriter, r *http.Request) {
	if s.selectProduct(w, r) {
		respond(s, w, r, sessionFrom(r.Context()).MovedQuery())
	}
}

// handlePrefetch warms the cache for a product the user is about to open.
func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	err := sessionFrom(r.Context()).Prefetch(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "product id is required")
	case errors.Is(err, domain.ErrNoSession):
		writeError(w, http.StatusUnauthorized, "session closed")
	default:
		l := logging.With(r.Context(), s.log)
		l.Warn().Err(err).Msg("prefetch")
		writeError(w, http.StatusBadGateway, errorCode(err))
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	respond(s, w, r, sessionFrom(r.Context()).Events())
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	respond(s, w, r, sessionFrom(r.Context()).Tasks())
}

// handleBack delivers a back button press from the web view.
func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	h, ok := sess.Host()
	if !ok || h.Closed() {
		writeError(w, http.StatusConflict, domain.ErrHostUnavailable.Error())
		return
	}
	bb, ok := h.BackButton()
	if !ok {
		writeError(w, http.StatusConflict, "back button not supported")
		return
	}
	bb.Click()
	_, selected := sess.SelectedProduct()
	writeJSON(w, http.StatusOK, map[string]bool{
		"product_selected": selected,
		"back_visible":     bb.Visible(),
	})
}
