package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sbaerlocher/solis-exporter/internal/config"
)

var healthCheckPort int

var healthCheckCmd = &cobra.Command{
	Use:   "health-check",
	Short: "Check the liveness endpoint of a running exporter",
	Long: `Send a GET request to /-/healthy on a running exporter and exit
non-zero unless it answers 200. Intended for container HEALTHCHECK use.

The port comes from --port, else from the config file, else the default.
HEALTH_CHECK_HOST overrides the target host (default 127.0.0.1).`,
	RunE: runHealthCheck,
}

func init() {
	rootCmd.AddCommand(healthCheckCmd)
	healthCheckCmd.Flags().IntVar(&healthCheckPort, "port", 0, "exporter port (overrides the config file)")
}

func runHealthCheck(cmd *cobra.Command, args []string) error {
	port := healthCheckPort
	if port == 0 {
		port = config.Default().Server.Port
		if cfg, err := config.Load(config.ResolvePath(configFile)); err == nil {
			port = cfg.Server.Port
		}
	}

	host := os.Getenv("HEALTH_CHECK_HOST")
	if host == "" {
		host = "127.0.0.1" // DevSkim: ignore DS162092 - Localhost is appropriate for health checks
	}

	if err := performHealthCheck(cmd.Context(), net.JoinHostPort(host, strconv.Itoa(port))); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

// performHealthCheck GETs the liveness endpoint at addr.
func performHealthCheck(ctx context.Context, addr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/-/healthy", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	req.Header.Set("User-Agent", userAgent())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	return nil
}
