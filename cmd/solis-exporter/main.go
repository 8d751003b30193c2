// Package main is the entry point for the solis-exporter CLI.
//
// Usage:
//
//	solis-exporter serve -c config.yaml      # Poll inverters and serve /metrics
//	solis-exporter validate -c config.yaml   # Validate configuration
//	solis-exporter health-check              # Check a running exporter
//	solis-exporter version                   # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	tsversion "tailscale.com/version"

	"github.com/sbaerlocher/solis-exporter/internal/config"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "solis-exporter",
	Short: "Prometheus exporter for Solis inverter Wi-Fi loggers",
	Long: `solis-exporter polls the status page of one or more Solis inverter
data loggers in the background and serves the last known good values
as Prometheus metrics.

Scrapes of /metrics never trigger device I/O: every inverter is polled
on its own interval and a slow or offline logger never blocks the others.

Quick start:
  1. Create a config file (config.yaml)
  2. Run: solis-exporter serve -c config.yaml
  3. Scrape http://localhost:8686/metrics`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "solis-exporter %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", buildTime)
		fmt.Fprintf(out, "  tailscale library: %s\n", tsversion.Long())
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Fprintf(out, "  go:     %s\n", info.GoVersion)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config-file", "c", "",
		"path to config file (default $"+config.EnvConfigPath+" or "+config.DefaultConfigPath+")")
	rootCmd.AddCommand(versionCmd)
}

func userAgent() string {
	return "solis-exporter/" + version
}

// setupLogger configures the default slog logger from the server settings.
func setupLogger(cfg config.ServerConfig) *slog.Logger {
	var handler slog.Handler
	level := slog.LevelInfo

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
