package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"tailscale.com/tsnet"

	"github.com/sbaerlocher/solis-exporter/internal/config"
)

// localBindHost is where the non-tailnet listener binds in tsnet mode. The
// tailnet is the intended surface, so the plain listener stays on loopback
// for local health checks.
const localBindHost = "127.0.0.1" // DevSkim: ignore DS162092 - Localhost binding is intentional

// NewTsnetServer builds the tsnet node. The caller passes its Dial method to
// the device client so inverters behind a subnet router are reachable.
func NewTsnetServer(cfg config.TsnetConfig, logger *slog.Logger) *tsnet.Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &tsnet.Server{
		Hostname: cfg.Hostname,
		Dir:      config.SetupTsnetStateDir(cfg.StateDir),
		Logf: func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...), "component", "tsnet")
		},
	}

	if cfg.AuthKey != "" {
		srv.AuthKey = cfg.AuthKey
		logger.Info("Tailscale authentication configured", "mode", "auth_key")
	} else {
		logger.Info("Tailscale authentication pending", "note", "follow the login URL in the debug log on first start")
	}
	return srv
}

// RunWithTsnet serves on the tailnet and on loopback until ctx is done.
func (s *Server) RunWithTsnet(ctx context.Context, ts *tsnet.Server) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	tsListener, err := ts.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tsnet listen failed: %w", err)
	}

	localAddr := net.JoinHostPort(localBindHost, fmt.Sprint(s.cfg.Port))
	localListener, err := net.Listen("tcp", localAddr)
	if err != nil {
		tsListener.Close()
		return fmt.Errorf("local listen on %s failed: %w", localAddr, err)
	}

	s.logger.Info("HTTP servers starting", "port", s.cfg.Port, "tailnet_hostname", ts.Hostname, "local_bind", localAddr)
	return s.Serve(ctx, tsListener, localListener)
}
