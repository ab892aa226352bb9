package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/trustledger/go-core/internal/chain"
	"github.com/trustledger/go-core/internal/metrics"
	"github.com/trustledger/go-core/internal/store"
)

// Server is the REST API server
type Server struct {
	writer     *chain.Writer
	verifier   *chain.Verifier
	store      store.Store
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	config     Config
	startTime  time.Time
	auth       *Authenticator
}

// Config configures the REST API server
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableCORS   bool
	Version      string
}

// DefaultConfig returns default REST server configuration
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
		Version:      "1.0.0",
	}
}

// New creates a new REST API server
func New(cfg Config, writer *chain.Writer, verifier *chain.Verifier, s store.Store, auth *Authenticator, m *metrics.Metrics, logger *zap.Logger) (*Server, error) {
	if writer == nil {
		return nil, fmt.Errorf("chain writer is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("chain verifier is required")
	}
	if s == nil {
		return nil, fmt.Errorf("store is required")
	}
	if auth == nil {
		auth = NewAuthenticator("", true)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	srv := &Server{
		writer:    writer,
		verifier:  verifier,
		store:     s,
		router:    mux.NewRouter(),
		logger:    logger,
		config:    cfg,
		startTime: time.Now(),
		auth:      auth,
	}

	srv.registerRoutes(m)

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return srv, nil
}

// registerRoutes registers all REST API routes
func (s *Server) registerRoutes(m *metrics.Metrics) {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
		// Preflight requests need a matching route for the middleware to run.
		s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}

	// Health and status endpoints (no capability required)
	s.router.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	s.router.HandleFunc("/v1/status", s.statusHandler).Methods("GET")
	if m != nil {
		s.router.Handle("/metrics", m.Handler()).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Record endpoints
	records := v1.PathPrefix("/records").Subrouter()
	records.HandleFunc("", s.auth.RequireScope(ScopeWrite, s.appendRecordHandler)).Methods("POST")
	records.HandleFunc("", s.auth.RequireScope(ScopeRead, s.queryRecordsHandler)).Methods("GET")

	// Integrity endpoints
	integrity := v1.PathPrefix("/integrity").Subrouter()
	integrity.HandleFunc("/{tenant}/verify", s.auth.RequireScope(ScopeRead, s.verifyHandler)).Methods("POST")
	integrity.HandleFunc("/{tenant}/reports", s.auth.RequireScope(ScopeRead, s.listReportsHandler)).Methods("GET")
}

// Start starts the REST API server
func (s *Server) Start() error {
	s.logger.Info("Starting REST API server",
		zap.Int("port", s.config.Port),
		zap.Bool("cors_enabled", s.config.EnableCORS),
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the REST API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// responseWriter captures the response status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
