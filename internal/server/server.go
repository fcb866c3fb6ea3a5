// ABOUTME: HTTP server orchestration for archie-relay
// ABOUTME: Wires the router, runs the listener, and handles graceful shutdown

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/vargolabs/archie-relay/internal/auth"
	"github.com/vargolabs/archie-relay/internal/config"
	"github.com/vargolabs/archie-relay/internal/stream"
)

const (
	// keepAliveInterval paces the per-connection SSE comment lines that
	// keep intermediaries from idling out the stream.
	keepAliveInterval = 15 * time.Second

	// shutdownTimeout bounds graceful shutdown; open event streams are
	// abandoned after it elapses.
	shutdownTimeout = 10 * time.Second
)

// AgentGateway forwards user messages to the privileged backend.
type AgentGateway interface {
	Send(ctx context.Context, message string) (json.RawMessage, error)
	Complete(ctx context.Context, message, systemPrompt string) (string, error)
}

// MessageRelay forwards a message to the external chat channel.
type MessageRelay interface {
	Configured() bool
	Relay(ctx context.Context, text string) error
}

// Server is the relay's HTTP surface. It owns no domain state beyond
// the connection registry; everything else is immutable configuration
// or a downstream collaborator.
type Server struct {
	cfg      *config.Config
	verifier auth.Verifier
	registry *stream.Registry
	backend  AgentGateway
	relay    MessageRelay
	limiter  *rate.Limiter
	logger   *slog.Logger

	httpServer *http.Server

	// keepAlive is overridable in tests; keepAliveInterval otherwise.
	keepAlive time.Duration
}

// New creates a server from its collaborators. Pass nil logger for default.
func New(cfg *config.Config, verifier auth.Verifier, registry *stream.Registry, backend AgentGateway, relay MessageRelay, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		verifier:  verifier,
		registry:  registry,
		backend:   backend,
		relay:     relay,
		limiter:   rate.NewLimiter(rate.Limit(5), 10),
		logger:    logger.With("component", "server"),
		keepAlive: keepAliveInterval,
	}
}

// Handler builds the route table. Exact path and method match; anything
// else is a 404. CORS headers are attached to every response and
// OPTIONS pre-flights short-circuit before dispatch.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/events", s.method(http.MethodGet, s.requireAuth(s.handleEvents)))
	mux.HandleFunc("/message", s.method(http.MethodPost, s.requireAuth(s.handleMessage)))
	mux.HandleFunc("/push", s.method(http.MethodPost, s.handlePush))
	mux.HandleFunc("/relay/vargo", s.method(http.MethodPost, s.handleRelay))
	mux.HandleFunc("/healthz", s.method(http.MethodGet, s.handleHealth))

	return s.withCORS(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down", "open_streams", s.registry.Count())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			// Open SSE streams hold their connections; close them hard.
			_ = s.httpServer.Close()
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}
