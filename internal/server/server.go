// Package server exposes the engine over a local HTTP JSON API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lazypower/familiar/internal/engine"
	"github.com/lazypower/familiar/internal/errs"
)

// Server is the familiar HTTP API server.
type Server struct {
	eng     *engine.Engine
	log     *zap.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server over eng.
func New(eng *engine.Engine, logger *zap.Logger, version string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		eng:     eng,
		log:     logger.Named("http"),
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/utterances", s.handleUtterance)
		r.Post("/commands", s.handleCommand)

		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleCreateUser)
		r.Get("/users/current", s.handleCurrentUser)
		r.Post("/users/switch", s.handleSwitchUser)
		r.Post("/users/forget", s.handleForget)
		r.Delete("/users/{id}", s.handleDeleteUser)
		r.Get("/users/{id}/patterns", s.handlePatterns)

		r.Post("/memories", s.handleRemember)
		r.Get("/memories", s.handleRecall)
		r.Get("/memories/stats", s.handleMemoryStats)
		r.Delete("/memories/{id}", s.handleDeleteMemory)
		r.Post("/memories/associate", s.handleAssociate)
		r.Post("/memories/consolidate", s.handleConsolidate)

		r.Post("/actions", s.handleAction)
	})

	s.router = r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.eng.Ping() == nil
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.started).Seconds(),
		"db":       dbOK,
		"db_path":  s.eng.DBPath(),
		"users":    len(s.eng.ListUsers()),
		"memories": s.eng.MemoryCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error's kind to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := errs.KindOf(err)
	switch kind {
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.InvalidArgument:
		status = http.StatusBadRequest
	case errs.InvalidOperation, errs.AmbiguousState:
		status = http.StatusConflict
	}
	body := map[string]string{"error": err.Error()}
	if kind != errs.Other {
		body["kind"] = kind.String()
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid json")
		return false
	}
	return true
}
