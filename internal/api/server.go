// Package api exposes the chat pipeline over a small JSON HTTP
// surface: one chat endpoint, one ingestion endpoint, and probes.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/nourly/nourly/internal/log"
)

// ServerConfig configures the API server.
type ServerConfig struct {
	Logger log.Logger
	Engine chatRunner // required
	Ingest ingester   // optional: nil disables the ingest endpoint
	Pool   *pgxpool.Pool

	// RateBurst is the per-IP burst size; refill is 1 token/sec.
	// Zero uses the default of 60.
	RateBurst int
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer wires routes and middleware.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("chat engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	mux := http.NewServeMux()

	ch := &chatHandler{engine: cfg.Engine, logger: logger}
	mux.HandleFunc("POST /api/v1/chat", ch.send)

	if cfg.Ingest != nil {
		ih := &ingestHandler{indexer: cfg.Ingest, logger: logger}
		mux.HandleFunc("POST /api/v1/ingest", ih.ingest)
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}

	// Middleware stack, outermost first:
	//   Recovery -> RequestID -> Logging -> RateLimit -> Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(newIPLimiter(rate.Limit(1), burst), logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
