// Package api exposes the question answering service over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docsage/docsage/internal/log"
	"github.com/docsage/docsage/internal/notify"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      log.Logger
	Accounts    Accounts        // Required
	Issuer      Issuer          // Required
	Service     QueryService    // Required
	Notifier    notify.Notifier // Optional: nil falls back to log delivery
	Pool        *pgxpool.Pool   // Optional: nil disables the database check in /ready
	CORSOrigins []string
	IsDev       bool // Disables HSTS
	TrustProxy  bool // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int  // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Accounts == nil {
		return nil, errors.New("accounts store is required")
	}
	if cfg.Issuer == nil {
		return nil, errors.New("credential issuer is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("query service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}

	ah := &authHandler{
		accounts: cfg.Accounts,
		issuer:   cfg.Issuer,
		notifier: notifier,
		logger:   logger,
	}
	qh := &queryHandler{
		service: cfg.Service,
		logger:  logger,
	}

	mux := http.NewServeMux()

	// Account lifecycle
	mux.HandleFunc("POST /api/v1/register", ah.register)
	mux.HandleFunc("POST /api/v1/login", ah.login)
	mux.HandleFunc("POST /api/v1/forgot-password", ah.forgotPassword)
	mux.HandleFunc("POST /api/v1/reset-password", ah.resetPassword)

	// Question answering
	mux.HandleFunc("POST /api/v1/query", qh.query)
	mux.HandleFunc("GET /api/v1/history", qh.listHistory)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID precedes Logging so request_id appears in log
	// attributes; CORS precedes RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// A top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
