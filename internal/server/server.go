// Package server exposes a backend over HTTP: REST for writes and reads, and a
// websocket stream carrying full snapshots for subscriptions.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"todo-sync/internal/auth"
	"todo-sync/internal/logger"
	"todo-sync/internal/manager"
	"todo-sync/internal/models"
	"todo-sync/internal/storage"
	"todo-sync/internal/view"
)

// LoginKeyHeader carries the shared key of trusted login front-ends.
const LoginKeyHeader = "X-Login-Key"

// Login decides who may obtain a token.
type Login struct {
	// Key lets a caller that presents it log in as any uid.
	Key string
	// Open lets callers without the key register uids that do not exist yet.
	// An existing uid then needs a valid token of its own.
	Open bool
}

// Server is the HTTP API in front of a storage.Backend.
type Server struct {
	backend storage.Backend
	tokens  *auth.Tokens
	login   Login
	seed    []models.Draft
	view    view.Options
	router  chi.Router
}

func New(backend storage.Backend, tokens *auth.Tokens, login Login, seed []models.Draft, opts view.Options) *Server {
	s := &Server{
		backend: backend,
		tokens:  tokens,
		login:   login,
		seed:    seed,
		view:    opts,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/me", s.handleMe)
			r.Get("/tasks", s.handleTaskList)
			r.Post("/tasks", s.handleTaskCreate)
			r.Get("/tasks/{id}", s.handleTaskGet)
			r.Patch("/tasks/{id}", s.handleTaskUpdate)
			r.Put("/tasks/{id}/check", s.handleTaskCheck)
			r.Delete("/tasks/{id}", s.handleTaskDelete)
			r.Get("/types", s.handleTypes)
			r.Get("/subscribe", s.handleSubscribe)
		})
	})
	return r
}

type uidKey struct{}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := s.tokens.Verify(auth.FromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), uidKey{}, uid)
		ctx = logger.WithFields(ctx, "user", uid, "request_id", middleware.GetReqID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(ctx context.Context) string {
	uid, _ := ctx.Value(uidKey{}).(string)
	return uid
}

func (s *Server) channel(r *http.Request) (storage.Channel, error) {
	return s.backend.Channel(userID(r.Context()))
}

type loginRequest struct {
	UID      string `json:"uid"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	PhotoURL string `json:"photoUrl"`
}

type loginResponse struct {
	Token   string `json:"token"`
	UID     string `json:"uid"`
	Created bool   `json:"created"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body"})
		return
	}
	if strings.TrimSpace(req.UID) == "" {
		writeError(w, models.ErrUnauthenticated)
		return
	}
	if err := s.allowLogin(r, req.UID); err != nil {
		if errors.Is(err, models.ErrUnauthenticated) {
			logger.Warn(r.Context(), "Login refused", "user", req.UID)
		}
		writeError(w, err)
		return
	}

	created, err := s.backend.EnsureUser(r.Context(), models.Profile{
		UID:      req.UID,
		FullName: req.FullName,
		Email:    req.Email,
		PhotoURL: req.PhotoURL,
	}, s.seed)
	if err != nil {
		logger.Error(r.Context(), err, "Login failed", "user", req.UID)
		writeError(w, models.NewChannelError("login", err))
		return
	}

	token, err := s.tokens.Issue(req.UID)
	if err != nil {
		writeError(w, err)
		return
	}
	if created {
		logger.Info(r.Context(), "New user registered", "user", req.UID)
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UID: req.UID, Created: created})
}

// allowLogin lets key holders through. Without the key only open registration
// of a new uid, or a refresh by the uid's own token, is allowed.
func (s *Server) allowLogin(r *http.Request, uid string) error {
	if key := r.Header.Get(LoginKeyHeader); s.login.Key != "" && key != "" &&
		subtle.ConstantTimeCompare([]byte(key), []byte(s.login.Key)) == 1 {
		return nil
	}
	if !s.login.Open {
		return models.ErrUnauthenticated
	}

	_, err := s.backend.GetUser(r.Context(), uid)
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return nil
	case err != nil:
		return models.NewChannelError("login", err)
	}
	owner, err := s.tokens.Verify(auth.FromRequest(r))
	if err != nil || owner != uid {
		return models.ErrUnauthenticated
	}
	return nil
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := s.backend.GetUser(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleTaskList serves the filtered view. Without q and selector it is the
// full snapshot in backend order.
func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	ch, err := s.channel(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := ch.List(r.Context())
	if err != nil {
		writeError(w, models.NewChannelError("list", err))
		return
	}

	q := r.URL.Query()
	tasks := view.Filter(snap, q.Get("q"), view.Selector(q.Get("selector")), s.view)
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	ch, err := s.channel(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := ch.List(r.Context())
	if err != nil {
		writeError(w, models.NewChannelError("list", err))
		return
	}
	id := chi.URLParam(r, "id")
	for _, t := range snap {
		if t.ID == id {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeError(w, models.ErrNotFound)
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	ch, err := s.channel(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := ch.List(r.Context())
	if err != nil {
		writeError(w, models.NewChannelError("list", err))
		return
	}
	writeJSON(w, http.StatusOK, view.DerivedTypes(snap))
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var d models.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, &models.ValidationError{Field: "body"})
		return
	}
	ch, err := s.channel(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := manager.NewTaskMutator(ch).CreateTask(r.Context(), d)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	var p models.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, &models.ValidationError{Field: "body"})
		return
	}
	ch, err := s.channel(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := manager.NewTaskMutator(ch).UpdateFields(r.Context(), chi.URLParam(r, "id"), p); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkRequest struct {
	Check *bool `json:"check"`
}

func (s *Server) handleTaskCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Check == nil {
		writeError(w, &models.ValidationError{Field: "check"})
		return
	}
	ch, err := s.channel(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := manager.NewTaskMutator(ch).SetCompletion(r.Context(), chi.URLParam(r, "id"), *req.Check); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	ch, err := s.channel(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = manager.NewTaskMutator(ch).DeleteTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(context.Background(), err, "write json")
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code, field := models.Classify(err)
	status := http.StatusBadGateway
	switch code {
	case models.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case models.CodeValidation:
		status = http.StatusBadRequest
	case models.CodeNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, models.ErrorBody{Error: err.Error(), Code: code, Field: field})
}
