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

	"github.com/quantalpha/riskgate/internal/config"
	httpapi "github.com/quantalpha/riskgate/internal/http"
	"github.com/quantalpha/riskgate/internal/interfaces/http/handlers"
	"github.com/quantalpha/riskgate/internal/metrics"
	"github.com/quantalpha/riskgate/internal/persistence"
	"github.com/quantalpha/riskgate/internal/risk"
)

// Server is the HTTP boundary of the risk service.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *handlers.Handlers
	limiter  *rate.Limiter
	config   config.ServerConfig
}

// NewServer wires the router, middleware, and endpoint handlers. Metrics
// and audit may be nil.
func NewServer(cfg config.ServerConfig, controller *risk.Controller, reg *metrics.Registry, audit persistence.AuditRepo) *Server {
	router := mux.NewRouter()

	s := &Server{
		router:   router,
		handlers: handlers.NewHandlers(controller, reg, audit),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		config:   cfg,
	}

	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)
	router.Use(s.rateLimitMiddleware)
	router.Use(s.timeoutMiddleware)

	api := router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/validate", s.handlers.Validate).Methods(http.MethodPost)
	api.HandleFunc("/risk-state", s.handlers.RiskState).Methods(http.MethodGet)
	api.HandleFunc("/kill-switch", s.handlers.KillSwitch).Methods(http.MethodPost)
	api.HandleFunc("/market-data", s.handlers.MarketData).Methods(http.MethodPost)
	api.HandleFunc("/portfolio", s.handlers.Portfolio).Methods(http.MethodPost)
	api.HandleFunc("/size/volatility", s.handlers.VolatilitySize).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)

	router.Handle("/metrics", reg.Handler()).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
		IdleTimeout:  cfg.IdleTimeout.Std(),
	}

	return s
}

// Router exposes the handler tree, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("risk service listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("risk service shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), httpapi.RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID, _ := r.Context().Value(httpapi.RequestIDKey).(string)

		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.HandlerTimeout.Std())
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the response status for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
