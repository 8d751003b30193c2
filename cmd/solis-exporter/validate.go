package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sbaerlocher/solis-exporter/internal/cache"
	"github.com/sbaerlocher/solis-exporter/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a configuration file without starting the exporter.

This command parses the YAML, expands environment variables and validates
every field. It is useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  solis-exporter validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := config.ResolvePath(configFile)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	devices, err := cfg.DeviceConfigs()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	registry, err := cache.NewRegistry(devices)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Server.Port)
	fmt.Fprintf(out, "  Max parallel:  %d\n", cfg.Scrape.MaxParallel)
	fmt.Fprintf(out, "  Backoff mode:  %s\n", devices[0].BackoffMode)
	fmt.Fprintf(out, "  Inverters:     %d\n\n", registry.Len())

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tURL\tAUTH\tINTERVAL\tTIMEOUT\tRETRIES\tSTALE AFTER")
	for _, d := range registry.Devices() {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			d.Name, d.URL(), d.Auth, d.PollInterval, d.Timeout, d.Retries, d.StaleAfter)
	}
	return tw.Flush()
}
