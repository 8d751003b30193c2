package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sbaerlocher/solis-exporter/internal/errors"
	"github.com/sbaerlocher/solis-exporter/internal/types"
)

func validConfig() Config {
	return Config{
		Name:         "inverter-1",
		Scheme:       types.SchemeHTTP,
		Host:         "192.168.1.50",
		Path:         "/status.html",
		Username:     "admin",
		Password:     "admin",
		Auth:         AuthBasic,
		PollInterval: 15 * time.Second,
		Timeout:      10 * time.Second,
		Retries:      3,
		RetryBackoff: time.Second,
		StaleAfter:   5 * time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid device", func(c *Config) {}, false},
		{"invalid name", func(c *Config) { c.Name = "" }, true},
		{"invalid host", func(c *Config) { c.Host = "" }, true},
		{"invalid scheme", func(c *Config) { c.Scheme = "ftp" }, true},
		{"unknown auth", func(c *Config) { c.Auth = "ntlm" }, true},
		{"digest auth", func(c *Config) { c.Auth = AuthDigest }, false},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, true},
		{"zero stale", func(c *Config) { c.StaleAfter = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigURL(t *testing.T) {
	c := validConfig()
	assert.Equal(t, "http://192.168.1.50/status.html", c.URL())

	c.Scheme = types.SchemeHTTPS
	c.Host = "logger.lan:8443"
	c.Path = "/inverter.cgi"
	assert.Equal(t, "https://logger.lan:8443/inverter.cgi", c.URL())

	c.Scheme = ""
	assert.Equal(t, "http://logger.lan:8443/inverter.cgi", c.URL())
}

func TestConfigRetryConfig(t *testing.T) {
	c := validConfig()
	c.BackoffMode = errors.BackoffExponential

	rc := c.RetryConfig()
	assert.Equal(t, 3, rc.MaxAttempts)
	assert.Equal(t, time.Second, rc.BaseDelay)
	assert.Equal(t, 15*time.Second, rc.MaxDelay)
	assert.Equal(t, errors.BackoffExponential, rc.Mode)
}

func TestReadingHasMandatoryField(t *testing.T) {
	assert.False(t, Reading{}.HasMandatoryField())
	assert.True(t, Reading{PowerWatts: Float(0)}.HasMandatoryField())
	assert.True(t, Reading{EnergyTotalKWh: Float(1234.5)}.HasMandatoryField())
}

func TestLabelsOrder(t *testing.T) {
	n := NetworkInfo{WMode: "STA", APSSID: "AP_1", APIP: "10.10.100.254", APMAC: "aa", STASSID: "home", STAIP: "192.168.1.50", STAMAC: "bb"}
	assert.Equal(t, []string{"STA", "AP_1", "10.10.100.254", "aa", "home", "192.168.1.50", "bb"}, n.Labels())

	d := DeviceInfo{Serial: "SN1", MainFirmware: "m", SlaveFirmware: "s", PVType: "pv", CoverMID: "mid", CoverVersion: "v"}
	assert.Equal(t, []string{"SN1", "m", "s", "pv", "mid", "v"}, d.Labels())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
	assert.True(t, PollResult{Outcome: OutcomeSuccess}.Succeeded())
	assert.False(t, PollResult{}.Succeeded())
}

func TestUnknownReading(t *testing.T) {
	r := UnknownReading()
	assert.False(t, r.HasMandatoryField())
	assert.Equal(t, -1.0, r.RatedPowerWatts)
	assert.Equal(t, -1.0, r.StaRSSIPercent)
	assert.Equal(t, 0.0, r.AlarmPresent)
}
