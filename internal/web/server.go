// Package web serves the submission form and maps relay outcomes to HTTP
// responses.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/edgard/relaybot/internal/config"
	"github.com/edgard/relaybot/internal/logger"
	"github.com/edgard/relaybot/internal/metrics"
	"github.com/edgard/relaybot/internal/relay"
)

// Relay is the orchestrator behind the form endpoints.
type Relay interface {
	HandleSubmission(ctx context.Context, sourceID, text, token string) relay.Result
	HandleLinks(ctx context.Context, sourceID, token string) relay.Result
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the collaborators of a Server. Store and Metrics are optional.
type Deps struct {
	Config  config.ServerConfig
	Relay   Relay
	Tokens  *Tokens
	Store   Pinger
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server is the public HTTP endpoint.
type Server struct {
	cfg     config.ServerConfig
	relay   Relay
	tokens  *Tokens
	store   Pinger
	metrics *metrics.Metrics
	log     *slog.Logger
	router  *chi.Mux
}

// NewServer builds the router.
func NewServer(deps Deps) (*Server, error) {
	if deps.Relay == nil || deps.Tokens == nil {
		return nil, errors.New("web server requires a relay and a token issuer")
	}

	s := &Server{
		cfg:     deps.Config,
		relay:   deps.Relay,
		tokens:  deps.Tokens,
		store:   deps.Store,
		metrics: deps.Metrics,
		log:     logger.OrDefault(deps.Logger).With("component", "web"),
	}

	r := chi.NewRouter()
	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(logger.RequestID)
	r.Use(logger.HTTPMiddleware(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Post("/submit", s.handleSubmit)
	r.Post("/links", s.handleLinks)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router = r
	return s, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", "addr", s.cfg.Addr, "trust_proxy", s.cfg.TrustProxy)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}

// sourceID is the rate-limit key: the client address without its port.
// With trust_proxy, RealIP has already replaced RemoteAddr.
func sourceID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
