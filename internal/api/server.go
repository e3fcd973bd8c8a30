// Package api is the HTTP surface: the chat endpoint, knowledge ingestion,
// audio polling, a realtime websocket loop, and health probes.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ServerConfig carries the dependencies for the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Chat        chatRunner  // Required
	Audio       audioRunner // Optional: nil disables speech synthesis
	AudioStore  audioStore  // Optional: nil disables audio polling
	Ingestor    ingestor    // Optional: nil disables URL ingestion
	Pinger      pinger      // Optional: nil reports ready unconditionally
	CORSOrigins []string
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Chat == nil {
		return nil, errors.New("chat runner is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{runner: cfg.Chat, audio: cfg.Audio, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", ch.send)

	if cfg.Ingestor != nil {
		ih := &ingestHandler{ingestor: cfg.Ingestor, logger: logger}
		mux.HandleFunc("POST /api/ingest", ih.add)
	}

	if cfg.AudioStore != nil {
		ah := &audioHandler{store: cfg.AudioStore, logger: logger}
		mux.HandleFunc("GET /api/audio/{jobID}", ah.serve)
	}

	// Middleware stack, outermost first: Recovery, Logging, CORS.
	var handler http.Handler = mux
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes and the websocket bypass the middleware stack. The
	// upgrader needs the raw ResponseWriter to hijack the connection.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pinger))
	topMux.HandleFunc("GET /ws", newWSHandler(cfg.Chat, cfg.Audio, cfg.CORSOrigins, logger).handle)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// NewHTTPServer wraps the handler in an http.Server with sane timeouts.
// The websocket route needs a zero ReadTimeout, so only header reads and
// idle connections are bounded.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
