package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"tailscale.com/tsnet"

	"github.com/sbaerlocher/solis-exporter/internal/cache"
	"github.com/sbaerlocher/solis-exporter/internal/client"
	"github.com/sbaerlocher/solis-exporter/internal/config"
	"github.com/sbaerlocher/solis-exporter/internal/health"
	"github.com/sbaerlocher/solis-exporter/internal/metrics"
	"github.com/sbaerlocher/solis-exporter/internal/server"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll inverters and serve metrics",
	Long: `Start the exporter.

The exporter will:
  - Load and validate the configuration
  - Poll every configured inverter immediately and then on its interval
  - Serve Prometheus metrics and health endpoints on the configured port

It runs until interrupted (Ctrl+C) or it receives SIGTERM.

Example:
  solis-exporter serve -c config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	path := config.ResolvePath(configFile)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}

	logger := setupLogger(cfg.Server)

	devices, err := cfg.DeviceConfigs()
	if err != nil {
		return err
	}
	registry, err := cache.NewRegistry(devices)
	if err != nil {
		return err
	}

	logger.Info("starting solis-exporter",
		"version", version,
		"config", path,
		"inverters", registry.Names(),
		"max_parallel", cfg.Scrape.MaxParallel,
		"tsnet", cfg.Server.Tsnet.Enabled,
		"tsnet_dial_devices", cfg.Server.Tsnet.Enabled && cfg.Server.Tsnet.DialDevices,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ts *tsnet.Server
	if cfg.Server.Tsnet.Enabled {
		ts = server.NewTsnetServer(cfg.Server.Tsnet, logger)
	}
	fetcher := client.NewClient(deviceClientOptions(cfg.Server.Tsnet, ts, logger))

	reg := metrics.NewExpositionRegistry(cfg.Server.ExposeDefaultMetrics)
	scheduler, err := metrics.NewScheduler(devices, fetcher, registry, metrics.SchedulerOptions{
		MaxParallel: cfg.Scrape.MaxParallel,
		Logger:      logger,
		Metrics:     metrics.NewSelfMetrics(reg),
	})
	if err != nil {
		return err
	}
	reg.MustRegister(metrics.NewView(registry, metrics.ViewOptions{
		Features: cfg.Features,
		Version:  version,
		Ready:    scheduler.FirstCycleDone,
	}))

	hc := health.NewHealthChecker()
	hc.RegisterComponent(health.NewRegistryHealthChecker(registry))
	hc.RegisterComponent(scheduler)

	shutdown := server.NewShutdownManager(shutdownTimeout, logger)
	shutdown.RegisterHook(server.ShutdownHook{
		Name:     "stop-scheduler",
		Priority: 1,
		Handler: func(ctx context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
	shutdown.RegisterHook(server.ShutdownHook{
		Name:     "close-device-connections",
		Priority: 2,
		Handler: func(ctx context.Context) error {
			fetcher.Close()
			return nil
		},
	})
	if ts != nil {
		shutdown.RegisterHook(server.ShutdownHook{
			Name:     "close-tsnet",
			Priority: 3,
			Handler: func(ctx context.Context) error {
				return ts.Close()
			},
		})
	}

	srv := server.New(server.Options{
		Config:   cfg.Server,
		Version:  version,
		Gatherer: reg,
		Devices:  registry,
		Health:   hc,
		Shutdown: shutdown,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if ts != nil {
			return srv.RunWithTsnet(gctx, ts)
		}
		return srv.RunStandalone(gctx)
	})
	g.Go(func() error {
		scheduler.Start(gctx)
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	// Listener setup can fail before serving starts; hooks still need to run.
	if shutdownErr := shutdown.Shutdown(); err == nil {
		err = shutdownErr
	}
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// deviceClientOptions builds the inverter client options. Inverters are dialed
// directly unless tsnet device dialing is switched on.
func deviceClientOptions(cfg config.TsnetConfig, ts *tsnet.Server, logger *slog.Logger) client.Options {
	opts := client.Options{UserAgent: userAgent(), Logger: logger}
	if ts != nil && cfg.Enabled && cfg.DialDevices {
		opts.DialContext = ts.Dial
	}
	return opts
}
