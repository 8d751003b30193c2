package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sbaerlocher/solis-exporter/internal/cache"
	"github.com/sbaerlocher/solis-exporter/internal/health"
)

// setupRoutes configures the HTTP routes. Any path not listed here is a 404.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	metricsHandler := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
	mux.Handle("/metrics", metricsHandler)
	mux.Handle("/{$}", metricsHandler)

	for _, path := range []string{"/-/healthy", "/healthz", "/livez"} {
		mux.HandleFunc(path, s.livenessHandler)
	}
	for _, path := range []string{"/-/ready", "/readyz"} {
		mux.HandleFunc(path, s.readinessHandler)
	}
	mux.HandleFunc("/health", s.healthHandler)

	return mux
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.health.LivenessCheck(ctx); err != nil {
		writeText(w, http.StatusServiceUnavailable, "unhealthy: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.health.ReadinessCheck(ctx); err != nil {
		writeText(w, http.StatusServiceUnavailable, "not ready: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, "ready")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	status := s.health.GetHealthStatus(ctx)

	var stats cache.Stats
	if s.devices != nil {
		stats = s.devices.Stats(time.Now())
	}

	report := health.Report{
		Status:        status.Overall,
		Version:       s.version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: s.health.Uptime().Seconds(),
		Devices:       stats,
		Runtime:       health.ReadRuntimeStats(),
		Checks:        status.Checks,
	}
	health.WriteHealthResponse(w, report, health.DetermineHTTPStatus(status.Overall))
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
