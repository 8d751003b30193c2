// Package config provides configuration management for the Solis exporter.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sbaerlocher/solis-exporter/internal/errors"
	"github.com/sbaerlocher/solis-exporter/internal/security"
	"github.com/sbaerlocher/solis-exporter/internal/types"
	"github.com/sbaerlocher/solis-exporter/pkg/device"
)

const (
	// EnvConfigPath names the environment variable holding the config file path.
	EnvConfigPath = "SOLIS_INVERTER_EXPORTER_CONFIG"
	// DefaultConfigPath is used when neither flag nor environment set a path.
	DefaultConfigPath = "config.yaml"
	// DefaultStatusPath is the status page served by Solis Wi-Fi loggers.
	DefaultStatusPath = "/status.html"
)

// Config holds all configuration settings for the exporter.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Scrape   ScrapeConfig  `yaml:"scrape"`
	Features Features      `yaml:"features"`
	Devices  []DeviceEntry `yaml:"solis"`
}

// ServerConfig configures the exposition endpoint and process settings.
type ServerConfig struct {
	Port                 int     `yaml:"port"`
	ExposeDefaultMetrics bool    `yaml:"expose_default_metrics"`
	LogLevel             string  `yaml:"log_level"`
	LogFormat            string  `yaml:"log_format"`
	RateLimitRPS         float64 `yaml:"rate_limit_rps"`
	// TrustedProxies lists reverse proxies (IPs or CIDRs) whose
	// X-Forwarded-For header identifies the client for rate limiting.
	TrustedProxies []string    `yaml:"trusted_proxies"`
	Tsnet          TsnetConfig `yaml:"tsnet"`
}

// TsnetConfig configures the optional tailnet listener.
type TsnetConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
	AuthKey  string `yaml:"auth_key"`
	// DialDevices routes inverter requests through the tailnet, for loggers
	// that are only reachable behind a subnet router.
	DialDevices bool `yaml:"dial_devices"`
}

// ScrapeConfig holds the polling defaults shared by all devices.
type ScrapeConfig struct {
	PollIntervalSeconds  float64 `yaml:"poll_interval_seconds"`
	TimeoutSeconds       float64 `yaml:"timeout_seconds"`
	Retries              int     `yaml:"retries"`
	RetryBackoffSeconds  float64 `yaml:"retry_backoff_seconds"`
	BackoffMode          string  `yaml:"backoff_mode"`
	MaxParallel          int     `yaml:"max_parallel"`
	StaleSeconds         float64 `yaml:"stale_seconds"`
	MinRequestGapSeconds float64 `yaml:"min_request_gap_seconds"`
}

// Features toggles optional metric families.
type Features struct {
	NetworkInfo bool `yaml:"network_info"`
	DeviceInfo  bool `yaml:"device_info"`
	Extras      bool `yaml:"extras"`
}

// DeviceEntry is one inverter as written in the config file. Optional
// per-device fields override the scrape defaults.
type DeviceEntry struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Scheme   string `yaml:"scheme"`
	Path     string `yaml:"path"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Auth     string `yaml:"auth"`

	PollIntervalSeconds *float64 `yaml:"poll_interval_seconds"`
	TimeoutSeconds      *float64 `yaml:"timeout_seconds"`
	StaleSeconds        *float64 `yaml:"stale_seconds"`
	Retries             *int     `yaml:"retries"`
}

// Default returns the configuration used for every field the file omits.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:      8686,
			LogLevel:  "info",
			LogFormat: "text",
			Tsnet: TsnetConfig{
				Hostname: "solis-exporter",
			},
		},
		Scrape: ScrapeConfig{
			PollIntervalSeconds: 15,
			TimeoutSeconds:      10,
			Retries:             3,
			RetryBackoffSeconds: 1,
			BackoffMode:         string(errors.BackoffLinear),
			MaxParallel:         4,
			StaleSeconds:        300,
		},
		Features: Features{
			NetworkInfo: true,
			DeviceInfo:  true,
			Extras:      true,
		},
	}
}

// ResolvePath picks the config file path: the flag value, then the
// SOLIS_INVERTER_EXPORTER_CONFIG environment variable, then config.yaml.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultConfigPath
}

// Load reads, parses and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data. Defaults apply to omitted fields,
// PORT, LOG_LEVEL and LOG_FORMAT override the file, and ${VAR} references in
// device hosts and credentials are expanded before validation.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.loadEnvOverrides()

	if err := cfg.expandDevices(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) loadEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		} else {
			slog.Warn("ignoring invalid PORT", "value", v)
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Server.LogFormat = v
	}

	cfg.Server.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Server.LogLevel))
	cfg.Server.LogFormat = strings.ToLower(strings.TrimSpace(cfg.Server.LogFormat))
}

func (cfg *Config) expandDevices() error {
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		fields := []struct {
			name string
			ptr  *string
		}{
			{"host", &d.Host},
			{"username", &d.Username},
			{"password", &d.Password},
		}
		for _, f := range fields {
			expanded, err := expandEnvVars(*f.ptr)
			if err != nil {
				return errors.ConfigurationError{Field: fmt.Sprintf("solis[%d].%s", i, f.name), Value: *f.ptr, Reason: err.Error()}
			}
			*f.ptr = strings.TrimSpace(expanded)
		}
	}

	expanded, err := expandEnvVars(cfg.Server.Tsnet.AuthKey)
	if err != nil {
		return errors.ConfigurationError{Field: "server.tsnet.auth_key", Reason: err.Error()}
	}
	cfg.Server.Tsnet.AuthKey = expanded
	return nil
}

// Validate checks the configuration for consistency and required values.
func (cfg Config) Validate() error {
	if err := cfg.validateServer(); err != nil {
		return err
	}
	if err := cfg.validateScrape(); err != nil {
		return err
	}
	_, err := cfg.DeviceConfigs()
	return err
}

func (cfg Config) validateServer() error {
	s := cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return errors.ConfigurationError{Field: "server.port", Value: strconv.Itoa(s.Port), Reason: "must be between 1 and 65535"}
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if s.LogLevel != "" && !contains(validLogLevels, s.LogLevel) {
		return errors.ConfigurationError{Field: "server.log_level", Value: s.LogLevel, Reason: fmt.Sprintf("valid options: %v", validLogLevels)}
	}

	validLogFormats := []string{"json", "text"}
	if s.LogFormat != "" && !contains(validLogFormats, s.LogFormat) {
		return errors.ConfigurationError{Field: "server.log_format", Value: s.LogFormat, Reason: fmt.Sprintf("valid options: %v", validLogFormats)}
	}

	if s.RateLimitRPS < 0 {
		return errors.ConfigurationError{Field: "server.rate_limit_rps", Value: formatFloat(s.RateLimitRPS), Reason: "must not be negative"}
	}

	if _, err := security.ParseTrustedProxies(s.TrustedProxies); err != nil {
		return errors.ConfigurationError{Field: "server.trusted_proxies", Value: strings.Join(s.TrustedProxies, ","), Reason: err.Error()}
	}

	if s.Tsnet.Enabled && s.Tsnet.Hostname == "" {
		return errors.ConfigurationError{Field: "server.tsnet.hostname", Reason: "required when tsnet is enabled"}
	}
	return nil
}

func (cfg Config) validateScrape() error {
	s := cfg.Scrape
	if s.PollIntervalSeconds <= 0 {
		return errors.ConfigurationError{Field: "scrape.poll_interval_seconds", Value: formatFloat(s.PollIntervalSeconds), Reason: "must be positive"}
	}
	if s.TimeoutSeconds <= 0 {
		return errors.ConfigurationError{Field: "scrape.timeout_seconds", Value: formatFloat(s.TimeoutSeconds), Reason: "must be positive"}
	}
	if s.Retries < 0 {
		return errors.ConfigurationError{Field: "scrape.retries", Value: strconv.Itoa(s.Retries), Reason: "must not be negative"}
	}
	if s.RetryBackoffSeconds < 0 {
		return errors.ConfigurationError{Field: "scrape.retry_backoff_seconds", Value: formatFloat(s.RetryBackoffSeconds), Reason: "must not be negative"}
	}
	if _, err := errors.ParseBackoffMode(s.BackoffMode); err != nil {
		return errors.ConfigurationError{Field: "scrape.backoff_mode", Value: s.BackoffMode, Reason: err.Error()}
	}
	if s.MaxParallel < 1 {
		return errors.ConfigurationError{Field: "scrape.max_parallel", Value: strconv.Itoa(s.MaxParallel), Reason: "must be at least 1"}
	}
	if s.StaleSeconds <= 0 {
		return errors.ConfigurationError{Field: "scrape.stale_seconds", Value: formatFloat(s.StaleSeconds), Reason: "must be positive"}
	}
	if s.MinRequestGapSeconds < 0 {
		return errors.ConfigurationError{Field: "scrape.min_request_gap_seconds", Value: formatFloat(s.MinRequestGapSeconds), Reason: "must not be negative"}
	}
	return nil
}

// DeviceConfigs builds the validated, immutable device set in file order.
func (cfg Config) DeviceConfigs() ([]device.Config, error) {
	if len(cfg.Devices) == 0 {
		return nil, errors.ConfigurationError{Field: "solis", Reason: "at least one inverter must be configured"}
	}

	mode, err := errors.ParseBackoffMode(cfg.Scrape.BackoffMode)
	if err != nil {
		return nil, errors.ConfigurationError{Field: "scrape.backoff_mode", Value: cfg.Scrape.BackoffMode, Reason: err.Error()}
	}

	seen := make(map[string]int, len(cfg.Devices))
	out := make([]device.Config, 0, len(cfg.Devices))
	for i, e := range cfg.Devices {
		d, err := cfg.buildDevice(i, e, mode)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[d.Name.String()]; dup {
			return nil, errors.ConfigurationError{
				Field:  fmt.Sprintf("solis[%d].name", i),
				Value:  d.Name.String(),
				Reason: fmt.Sprintf("duplicate of solis[%d]", prev),
			}
		}
		seen[d.Name.String()] = i
		out = append(out, d)
	}
	return out, nil
}

func (cfg Config) buildDevice(i int, e DeviceEntry, mode errors.BackoffMode) (device.Config, error) {
	field := func(name string) string { return fmt.Sprintf("solis[%d].%s", i, name) }

	if e.Host == "" {
		return device.Config{}, errors.ConfigurationError{Field: field("host"), Reason: "host is required"}
	}
	if err := types.ValidateHost(e.Host); err != nil {
		return device.Config{}, errors.ConfigurationError{Field: field("host"), Value: e.Host, Reason: err.Error()}
	}
	if e.Username == "" || e.Password == "" {
		return device.Config{}, errors.ConfigurationError{Field: field("username"), Reason: "username and password are required"}
	}

	rawName := strings.TrimSpace(e.Name)
	if rawName == "" {
		rawName = e.Host
	}
	name, err := types.NewDeviceName(rawName)
	if err != nil {
		return device.Config{}, errors.ConfigurationError{Field: field("name"), Value: rawName, Reason: err.Error()}
	}

	scheme, err := types.ParseScheme(e.Scheme)
	if err != nil {
		return device.Config{}, errors.ConfigurationError{Field: field("scheme"), Value: e.Scheme, Reason: err.Error()}
	}

	path := strings.TrimSpace(e.Path)
	if path == "" {
		path = DefaultStatusPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	auth := device.AuthMode(strings.ToLower(strings.TrimSpace(e.Auth)))
	switch auth {
	case "":
		auth = device.AuthBasic
	case device.AuthBasic, device.AuthDigest:
	default:
		return device.Config{}, errors.ConfigurationError{Field: field("auth"), Value: e.Auth, Reason: "must be basic or digest"}
	}

	interval := cfg.Scrape.PollIntervalSeconds
	if e.PollIntervalSeconds != nil {
		interval = *e.PollIntervalSeconds
	}
	timeout := cfg.Scrape.TimeoutSeconds
	if e.TimeoutSeconds != nil {
		timeout = *e.TimeoutSeconds
	}
	stale := cfg.Scrape.StaleSeconds
	if e.StaleSeconds != nil {
		stale = *e.StaleSeconds
	}
	retries := cfg.Scrape.Retries
	if e.Retries != nil {
		retries = *e.Retries
	}

	for _, b := range []struct {
		name  string
		value float64
	}{
		{"poll_interval_seconds", interval},
		{"timeout_seconds", timeout},
		{"stale_seconds", stale},
	} {
		if b.value <= 0 {
			return device.Config{}, errors.ConfigurationError{Field: field(b.name), Value: formatFloat(b.value), Reason: "must be positive"}
		}
	}
	if retries < 0 {
		return device.Config{}, errors.ConfigurationError{Field: field("retries"), Value: strconv.Itoa(retries), Reason: "must not be negative"}
	}

	d := device.Config{
		Name:          name,
		Scheme:        scheme,
		Host:          e.Host,
		Path:          path,
		Username:      e.Username,
		Password:      e.Password,
		Auth:          auth,
		PollInterval:  seconds(interval),
		Timeout:       seconds(timeout),
		Retries:       retries,
		RetryBackoff:  seconds(cfg.Scrape.RetryBackoffSeconds),
		BackoffMode:   mode,
		StaleAfter:    seconds(stale),
		MinRequestGap: seconds(cfg.Scrape.MinRequestGapSeconds),
	}
	if err := d.Validate(); err != nil {
		return device.Config{}, errors.ConfigurationError{Field: fmt.Sprintf("solis[%d]", i), Value: name.String(), Reason: err.Error()}
	}
	return d, nil
}

// SetupTsnetStateDir creates and validates the tsnet state directory.
func SetupTsnetStateDir(dir string) string {
	if dir == "" {
		dir = "/tmp/tsnet-solis-exporter"
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		slog.Warn("failed to create state directory", "dir", dir, "error", err)
		return ""
	}
	slog.Info("using tsnet state directory", "dir", dir)
	return dir
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part, present when a default was given
// Group 3: the default value, possibly empty
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment
// values. An unset variable without a default is an error.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		varName := sub[1]
		hasDefault := sub[2] != ""

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return sub[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
