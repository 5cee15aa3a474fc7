// Package http exposes the policy engine over a gorilla/mux REST surface.
// Status-code mapping of the engine's typed errors happens here; the core
// packages never see HTTP.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/oddsforge/pickgate/internal/engine"
	"github.com/oddsforge/pickgate/internal/interfaces/ws"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns local-only defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server serves the evaluation, hard-stop and policy-config endpoints
type Server struct {
	router  *mux.Router
	server  *http.Server
	engine  *engine.Engine
	hub     *ws.Hub
	metrics *MetricsRegistry

	// mutateLimiter throttles admin mutations (reset, version writes);
	// evaluation traffic is not limited here.
	mutateLimiter *rate.Limiter
}

func NewServer(cfg ServerConfig, eng *engine.Engine, hub *ws.Hub, metrics *MetricsRegistry) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		engine:        eng,
		hub:           hub,
		metrics:       metrics,
		mutateLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/evaluate", s.handleEvaluate).Methods("POST")
	api.HandleFunc("/outcomes", s.handleOutcome).Methods("POST")
	api.HandleFunc("/decisions/{traceId}", s.handleGetDecision).Methods("GET")

	api.HandleFunc("/hardstop/status", s.handleHardStopStatus).Methods("GET")
	api.Handle("/hardstop/reset", s.rateLimited(s.handleHardStopReset)).Methods("POST")

	api.HandleFunc("/policy/config", s.handleGetConfig).Methods("GET")
	api.Handle("/policy/config", s.rateLimited(s.handleCreateConfig)).Methods("POST")
	api.HandleFunc("/policy/history", s.handleHistory).Methods("GET")
	api.Handle("/policy/restore/{versionId}", s.rateLimited(s.handleRestore)).Methods("POST")
	api.HandleFunc("/policy/export", s.handleExport).Methods("GET")

	if s.hub != nil {
		api.HandleFunc("/stream", s.hub.HandleWS)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("NOT_FOUND", "no such endpoint"))
	})
}

// rateLimited rejects mutation floods with 429 before any role check runs
func (s *Server) rateLimited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.mutateLimiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody("RATE_LIMITED", "too many mutation requests"))
			return
		}
		next(w, r)
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

// Start blocks serving until the listener fails or Shutdown is called
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
