// Package device provides the inverter data model shared by the poller, the
// cache and the metrics projection.
package device

import (
	"fmt"
	"net/url"
	"time"

	"github.com/sbaerlocher/solis-exporter/internal/errors"
	"github.com/sbaerlocher/solis-exporter/internal/types"
)

// AuthMode selects how credentials are presented to the device.
type AuthMode string

const (
	AuthBasic  AuthMode = "basic"
	AuthDigest AuthMode = "digest"
)

// Config is the static, immutable configuration of one inverter.
type Config struct {
	Name         types.DeviceName
	Scheme       types.Scheme
	Host         string
	Path         string
	Username     string
	Password     string
	Auth         AuthMode
	PollInterval time.Duration
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	BackoffMode  errors.BackoffMode
	StaleAfter   time.Duration
	// MinRequestGap is the minimum spacing between two requests to this device,
	// retries included. Zero disables the limit.
	MinRequestGap time.Duration
}

// URL renders the status page URL of the device.
func (c Config) URL() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = types.SchemeHTTP
	}
	u := url.URL{Scheme: string(scheme), Host: c.Host, Path: c.Path}
	return u.String()
}

// RetryConfig returns the retry policy for a single poll of this device.
func (c Config) RetryConfig() errors.RetryConfig {
	return errors.RetryConfig{
		MaxAttempts: c.Retries,
		BaseDelay:   c.RetryBackoff,
		MaxDelay:    c.PollInterval,
		Mode:        c.BackoffMode,
	}
}

// Validate checks if the device has valid required fields.
func (c Config) Validate() error {
	if !c.Name.IsValid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidDeviceName, c.Name)
	}
	if _, err := types.ParseScheme(string(c.Scheme)); err != nil {
		return err
	}
	if err := types.ValidateHost(c.Host); err != nil {
		return err
	}
	if c.Auth != "" && c.Auth != AuthBasic && c.Auth != AuthDigest {
		return fmt.Errorf("device %s: unknown auth mode %q", c.Name, c.Auth)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("device %s: %w: poll interval must be positive", c.Name, errors.ErrInvalidInterval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("device %s: %w: timeout must be positive", c.Name, errors.ErrInvalidTimeout)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("device %s: %w: stale threshold must be positive", c.Name, errors.ErrInvalidInterval)
	}
	return nil
}

// NetworkInfo is the Wi-Fi identity reported by the data logger.
type NetworkInfo struct {
	WMode   string
	APSSID  string
	APIP    string
	APMAC   string
	STASSID string
	STAIP   string
	STAMAC  string
}

// Labels returns the label values in metric label order.
func (n NetworkInfo) Labels() []string {
	return []string{n.WMode, n.APSSID, n.APIP, n.APMAC, n.STASSID, n.STAIP, n.STAMAC}
}

// DeviceInfo is the firmware and hardware identity reported by the inverter.
type DeviceInfo struct {
	Serial        string
	MainFirmware  string
	SlaveFirmware string
	PVType        string
	CoverMID      string
	CoverVersion  string
}

// Labels returns the label values in metric label order.
func (d DeviceInfo) Labels() []string {
	return []string{d.Serial, d.MainFirmware, d.SlaveFirmware, d.PVType, d.CoverMID, d.CoverVersion}
}

// Reading is the set of values parsed from one status page. Mandatory fields
// are pointers so that a missing field can be told apart from a zero value.
// Extras use -1 for unknown, matching the exposed metric convention.
type Reading struct {
	PowerWatts     *float64
	EnergyTodayKWh *float64
	EnergyTotalKWh *float64

	RatedPowerWatts float64
	UptimeSeconds   float64
	AlarmPresent    float64
	RemoteStatusA   float64
	RemoteStatusB   float64
	RemoteStatusC   float64
	StaRSSIPercent  float64

	Network NetworkInfo
	Device  DeviceInfo
}

// UnknownReading returns a reading with every extra set to its unknown value,
// used for devices that have not succeeded yet.
func UnknownReading() Reading {
	return Reading{
		RatedPowerWatts: -1,
		UptimeSeconds:   -1,
		RemoteStatusA:   -1,
		RemoteStatusB:   -1,
		RemoteStatusC:   -1,
		StaRSSIPercent:  -1,
	}
}

// HasMandatoryField reports whether at least one of power, energy today or
// energy total was present. A page without any of them is a parse failure.
func (r Reading) HasMandatoryField() bool {
	return r.PowerWatts != nil || r.EnergyTodayKWh != nil || r.EnergyTotalKWh != nil
}

// Outcome tags a PollResult.
type Outcome int

const (
	OutcomeFailure Outcome = iota
	OutcomeSuccess
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// PollResult is the immutable outcome of one poll attempt, retries included.
type PollResult struct {
	Outcome     Outcome
	Reading     Reading
	AttemptedAt time.Time
	Duration    time.Duration
	Attempts    int
	Err         error
}

// Succeeded reports whether the poll produced a reading.
func (p PollResult) Succeeded() bool {
	return p.Outcome == OutcomeSuccess
}

// Float returns a pointer to v, for building readings.
func Float(v float64) *float64 {
	return &v
}
