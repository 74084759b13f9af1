package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/service"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

type Dependencies struct {
	Logger      *log.Logger
	Addr        string
	Gateway     *service.Gateway
	History     *service.HistoryReader
	Credentials *service.CredentialService
	Profiles    *service.ProfileService
	Tokens      *service.TokenIssuer

	// Now defaults to time.Now; history ages are computed against it.
	Now func() time.Time
}

type Server struct {
	httpServer  *http.Server
	logger      *log.Logger
	mux         *http.ServeMux
	gateway     *service.Gateway
	history     *service.HistoryReader
	credentials *service.CredentialService
	profiles    *service.ProfileService
	tokens      *service.TokenIssuer
	now         func() time.Time
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	now := d.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		logger:      d.Logger,
		mux:         mux,
		gateway:     d.Gateway,
		history:     d.History,
		credentials: d.Credentials,
		profiles:    d.Profiles,
		tokens:      d.Tokens,
		now:         now,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/auth/register", s.handleRegister)
	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)

	mux.HandleFunc("GET /v1/lockers", s.handleListLockers)
	mux.HandleFunc("GET /v1/lockers/{id}", s.handleLockerState)
	mux.HandleFunc("POST /v1/lockers/{id}/unlock", s.handleUnlock)

	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("GET /v1/history/watch", s.handleHistoryWatch)

	mux.Handle("GET /v1/me", s.requireIdentity(http.HandlerFunc(s.handleMe)))
	mux.Handle("PATCH /v1/me/settings", s.requireIdentity(http.HandlerFunc(s.handleSettings)))

	handler := loggingMiddleware(d.Logger, s.identityMiddleware(mux))

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]any{
		"ok":          true,
		"server_time": s.now().UTC().Format(time.RFC3339),
	})
}

// ── Auth ─────────────────────────────────────────────────────────────────────

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	id, err := s.credentials.Register(r.Context(), req.Email, req.Password, req.Name)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", service.UserMessage(err, "email already registered"))
		return
	case errors.Is(err, service.ErrAuthFailed):
		writeError(w, http.StatusBadRequest, "invalid_registration", service.UserMessage(err, "registration rejected"))
		return
	case errors.Is(err, service.ErrStoreWrite) && id.UID != "":
		// Account exists; the profile falls back to defaults until written.
		s.logger.Printf("register %s: %v", id.UID, err)
	default:
		s.logger.Printf("register error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	s.writeAuth(w, r, http.StatusCreated, id)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	id, err := s.credentials.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrAuthFailed) {
			writeError(w, http.StatusUnauthorized, "auth_failed", service.UserMessage(err, "invalid email or password"))
			return
		}
		s.logger.Printf("login error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	s.writeAuth(w, r, http.StatusOK, id)
}

func (s *Server) writeAuth(w http.ResponseWriter, r *http.Request, status int, id types.Identity) {
	token, err := s.tokens.Issue(id)
	if err != nil {
		s.logger.Printf("token issue error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	respond(w, r, status, types.AuthResponse{UID: id.UID, Email: id.Email, Token: token})
}

// ── Lockers ──────────────────────────────────────────────────────────────────

func (s *Server) handleListLockers(w http.ResponseWriter, r *http.Request) {
	ids := s.gateway.IDs()
	out := make([]types.LockerState, 0, len(ids))
	for _, id := range ids {
		m, err := s.gateway.Locker(id)
		if err != nil {
			continue
		}
		out = append(out, m.State())
	}
	respond(w, r, http.StatusOK, map[string]any{"lockers": out})
}

func (s *Server) handleLockerState(w http.ResponseWriter, r *http.Request) {
	m, err := s.gateway.Locker(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_locker", err.Error())
		return
	}
	respond(w, r, http.StatusOK, m.State())
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	lockerID := r.PathValue("id")
	m, err := s.gateway.Locker(lockerID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_locker", err.Error())
		return
	}

	var req types.UnlockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}
	method, ok := types.ParseUnlockMethod(req.Method)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_method", "unsupported unlock method "+strconv.Quote(req.Method))
		return
	}

	var identity *types.Identity
	if id, ok := identityFrom(r.Context()); ok {
		identity = &id
	}

	resp := types.UnlockResponse{
		LockerID:   m.LockerID(),
		ServerTime: s.now().UTC().Format(time.RFC3339),
	}

	err = m.RequestAs(r.Context(), method, identity)
	resp.Status = m.Status()
	switch {
	case err == nil:
		resp.OK = true
		respond(w, r, http.StatusAccepted, resp)
	case errors.Is(err, service.ErrPolicyDenied):
		resp.Reason = err.Error()
		respond(w, r, http.StatusForbidden, resp)
	case errors.Is(err, service.ErrBusy):
		resp.Reason = err.Error()
		respond(w, r, http.StatusConflict, resp)
	case errors.Is(err, service.ErrStoreWrite):
		s.logger.Printf("unlock %s: %v", lockerID, err)
		resp.Reason = service.ErrStoreWrite.Error()
		respond(w, r, http.StatusBadGateway, resp)
	case errors.Is(err, service.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		s.logger.Printf("unlock %s error: %v", lockerID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

// ── History ──────────────────────────────────────────────────────────────────

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	view, err := s.history.Snapshot(r.Context())
	if err != nil {
		// Shown as an empty list, like any other history read failure.
		s.logger.Printf("history error: %v", err)
		view = types.HistoryView{}
	}

	if locker := r.URL.Query().Get("locker"); locker != "" {
		filtered := make(types.HistoryView, 0, len(view))
		for _, e := range view {
			if e.LockerID == locker {
				filtered = append(filtered, e)
			}
		}
		view = filtered
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		if n < len(view) {
			view = view[:n]
		}
	}

	respond(w, r, http.StatusOK, types.NewHistoryResponse(view, s.now()))
}

// handleHistoryWatch streams the history as server-sent events: one "history"
// event with the full list at connect time and after every change.
func (s *Server) handleHistoryWatch(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusNotImplemented, "streaming_unsupported", "streaming not supported")
		return
	}

	views := make(chan types.HistoryView, 1)
	sub := s.history.Subscribe(func(v types.HistoryView) {
		// Only the latest view matters; replace anything not yet sent.
		select {
		case <-views:
		default:
		}
		views <- v
	})
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case v := <-views:
			data, err := json.Marshal(types.NewHistoryResponse(v, s.now()))
			if err != nil {
				s.logger.Printf("history watch encode: %v", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: history\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ── Profile ──────────────────────────────────────────────────────────────────

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	respond(w, r, http.StatusOK, s.profile(r.Context(), id))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var patch types.SettingsPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid settings body")
		return
	}

	if err := s.profiles.ApplySettings(r.Context(), id.UID, patch); err != nil {
		s.logger.Printf("settings %s: %v", id.UID, err)
		writeError(w, http.StatusBadGateway, "store_write_failed", service.ErrStoreWrite.Error())
		return
	}

	respond(w, r, http.StatusOK, s.profile(r.Context(), id))
}

func (s *Server) profile(ctx context.Context, id types.Identity) types.Profile {
	p, err := s.profiles.Get(ctx, id.UID)
	if err != nil {
		s.logger.Printf("profile %s: %v", id.UID, err)
	}
	if p.Email == "" {
		p.Email = id.Email
	}
	return p
}
