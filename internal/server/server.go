// Package server exposes metrics and health endpoints over HTTP, either on a
// plain TCP listener or additionally on a tailnet through tsnet.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sbaerlocher/solis-exporter/internal/cache"
	"github.com/sbaerlocher/solis-exporter/internal/config"
	"github.com/sbaerlocher/solis-exporter/internal/health"
	"github.com/sbaerlocher/solis-exporter/internal/security"
)

// Options configures a Server.
type Options struct {
	Config  config.ServerConfig
	Version string
	// Gatherer backs /metrics. It is usually the registry holding the
	// metrics view and the engine self-metrics.
	Gatherer prometheus.Gatherer
	Devices  *cache.Registry
	Health   *health.HealthChecker
	// Shutdown receives every HTTP server started by Run. Nil creates one.
	Shutdown *ShutdownManager
	Logger   *slog.Logger
}

// Server is the exposition HTTP server.
type Server struct {
	cfg      config.ServerConfig
	version  string
	gatherer prometheus.Gatherer
	devices  *cache.Registry
	health   *health.HealthChecker
	shutdown *ShutdownManager
	limiter  *security.RateLimiter
	logger   *slog.Logger
	handler  http.Handler
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shutdown := opts.Shutdown
	if shutdown == nil {
		shutdown = NewShutdownManager(10*time.Second, logger)
	}
	hc := opts.Health
	if hc == nil {
		hc = health.NewHealthChecker()
	}

	s := &Server{
		cfg:      opts.Config,
		version:  opts.Version,
		gatherer: opts.Gatherer,
		devices:  opts.Devices,
		health:   hc,
		shutdown: shutdown,
		logger:   logger,
	}
	if opts.Config.RateLimitRPS > 0 {
		burst := int(opts.Config.RateLimitRPS)
		s.limiter = security.NewRateLimiter(opts.Config.RateLimitRPS, burst)
	}
	proxies, err := security.ParseTrustedProxies(opts.Config.TrustedProxies)
	if err != nil {
		logger.Warn("ignoring trusted proxies", "error", err)
		proxies = nil
	}

	s.handler = security.Chain(
		s.setupRoutes(),
		security.SecurityHeadersMiddleware,
		security.RateLimitMiddleware(s.limiter, proxies),
		security.TimeoutMiddleware(30*time.Second),
	)
	return s
}

// Handler returns the complete HTTP handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// createHTTPServer creates a configured HTTP server with standard timeouts.
func createHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// RunStandalone serves on all interfaces at the configured port until ctx is
// done, then shuts down gracefully.
func (s *Server) RunStandalone(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on every listener until ctx is done or one of them fails.
func (s *Server) Serve(ctx context.Context, listeners ...net.Listener) error {
	if s.limiter != nil {
		go s.limiter.RunCleanup(ctx, time.Minute)
	}

	errCh := make(chan error, len(listeners))
	for _, ln := range listeners {
		srv := createHTTPServer(ln.Addr().String(), s.handler)
		s.shutdown.AddHTTPServer(srv)

		go func(ln net.Listener) {
			s.logger.Info("server ready", "bind", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("http serve on %s failed: %w", ln.Addr(), err)
				return
			}
			errCh <- nil
		}(ln)
	}

	select {
	case <-ctx.Done():
		return s.shutdown.Shutdown()
	case err := <-errCh:
		if shutdownErr := s.shutdown.Shutdown(); err == nil {
			err = shutdownErr
		}
		return err
	}
}
