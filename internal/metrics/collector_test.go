package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbaerlocher/solis-exporter/internal/cache"
	"github.com/sbaerlocher/solis-exporter/internal/config"
	"github.com/sbaerlocher/solis-exporter/internal/parser"
	"github.com/sbaerlocher/solis-exporter/pkg/device"
)

var (
	t0          = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	allFeatures = config.Features{NetworkInfo: true, DeviceInfo: true, Extras: true}
)

func fullReading() device.Reading {
	return device.Reading{
		PowerWatts:      device.Float(1200),
		EnergyTodayKWh:  device.Float(3.4),
		EnergyTotalKWh:  device.Float(4567.8),
		RatedPowerWatts: 5000,
		UptimeSeconds:   3600,
		AlarmPresent:    0,
		RemoteStatusA:   1,
		RemoteStatusB:   0,
		RemoteStatusC:   -1,
		StaRSSIPercent:  78,
		Network: device.NetworkInfo{
			WMode: "STA", APSSID: "AP_123", APIP: "10.10.100.254", APMAC: "AA:BB",
			STASSID: "home", STAIP: "192.168.1.50", STAMAC: "CC:DD",
		},
		Device: device.DeviceInfo{
			Serial: "SN123", MainFirmware: "m1", SlaveFirmware: "s1",
			PVType: "pv", CoverMID: "mid", CoverVersion: "cv",
		},
	}
}

func newTestRegistry(t *testing.T, names ...string) *cache.Registry {
	t.Helper()
	var devices []device.Config
	for _, n := range names {
		devices = append(devices, testDevice(n, 15*time.Second))
	}
	r, err := cache.NewRegistry(devices)
	require.NoError(t, err)
	return r
}

func samplesNamed(samples []Sample, name string) []Sample {
	var out []Sample
	for _, s := range samples {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func valueOf(t *testing.T, samples []Sample, name string) float64 {
	t.Helper()
	found := samplesNamed(samples, name)
	require.Len(t, found, 1, name)
	return found[0].Value
}

func TestProjectNeverSucceeded(t *testing.T) {
	r := newTestRegistry(t, "roof")
	samples := Project(r.SnapshotAll(t0), allFeatures)

	assert.Equal(t, 0.0, valueOf(t, samples, MetricUp))
	assert.Equal(t, 0.0, valueOf(t, samples, MetricPowerWatts))
	assert.Equal(t, 1.0, valueOf(t, samples, MetricStale))
	assert.Equal(t, -1.0, valueOf(t, samples, MetricLastSuccessAge))
	assert.Equal(t, 0.0, valueOf(t, samples, MetricErrorsTotal))
	assert.Equal(t, 0.0, valueOf(t, samples, MetricLastSuccessTimestamp))
	assert.Equal(t, 0.0, valueOf(t, samples, MetricLastAttemptTimestamp))

	assert.Empty(t, samplesNamed(samples, MetricEnergyTodayKWh), "unknown energy is not exposed")
	assert.Empty(t, samplesNamed(samples, MetricEnergyTotalKWh))

	for _, name := range []string{MetricRatedPowerWatts, MetricUptimeSeconds, MetricRemoteStatusA, MetricRemoteStatusB, MetricRemoteStatusC, MetricStaRSSIPercent} {
		assert.Equal(t, -1.0, valueOf(t, samples, name), name)
	}
	assert.Equal(t, 0.0, valueOf(t, samples, MetricAlarmPresent))

	assert.Empty(t, samplesNamed(samples, MetricNetworkInfo), "info metrics wait for the first success")
	assert.Empty(t, samplesNamed(samples, MetricDeviceInfo))
}

func TestProjectAfterSuccess(t *testing.T) {
	r := newTestRegistry(t, "roof")
	require.NoError(t, r.Apply("roof", device.PollResult{
		Outcome:     device.OutcomeSuccess,
		Reading:     fullReading(),
		AttemptedAt: t0,
		Duration:    1500 * time.Millisecond,
		Attempts:    1,
	}, t0))

	samples := Project(r.SnapshotAll(t0.Add(10*time.Second)), allFeatures)

	assert.Equal(t, 1.0, valueOf(t, samples, MetricUp))
	assert.Equal(t, 1200.0, valueOf(t, samples, MetricPowerWatts))
	assert.Equal(t, 3.4, valueOf(t, samples, MetricEnergyTodayKWh))
	assert.Equal(t, 4567.8, valueOf(t, samples, MetricEnergyTotalKWh))
	assert.Equal(t, 0.0, valueOf(t, samples, MetricStale))
	assert.Equal(t, 10.0, valueOf(t, samples, MetricLastSuccessAge))
	assert.Equal(t, 1.5, valueOf(t, samples, MetricScrapeDuration))
	assert.Equal(t, float64(t0.Unix()), valueOf(t, samples, MetricLastSuccessTimestamp))
	assert.Equal(t, float64(t0.Unix()), valueOf(t, samples, MetricLastAttemptTimestamp))
	assert.Equal(t, 5000.0, valueOf(t, samples, MetricRatedPowerWatts))
	assert.Equal(t, 78.0, valueOf(t, samples, MetricStaRSSIPercent))

	network := samplesNamed(samples, MetricNetworkInfo)
	require.Len(t, network, 1)
	assert.Equal(t, []string{"roof", "STA", "AP_123", "10.10.100.254", "AA:BB", "home", "192.168.1.50", "CC:DD"}, network[0].LabelValues)
	assert.Equal(t, 1.0, network[0].Value)

	info := samplesNamed(samples, MetricDeviceInfo)
	require.Len(t, info, 1)
	assert.Equal(t, []string{"roof", "SN123", "m1", "s1", "pv", "mid", "cv"}, info[0].LabelValues)
}

func TestProjectStaleKeepsEnergy(t *testing.T) {
	r := newTestRegistry(t, "roof")
	require.NoError(t, r.Apply("roof", device.PollResult{Outcome: device.OutcomeSuccess, Reading: fullReading(), AttemptedAt: t0}, t0))
	require.NoError(t, r.Apply("roof", device.PollResult{Outcome: device.OutcomeFailure, AttemptedAt: t0.Add(400 * time.Second)}, t0.Add(400*time.Second)))

	samples := Project(r.SnapshotAll(t0.Add(400*time.Second)), allFeatures)

	assert.Equal(t, 0.0, valueOf(t, samples, MetricUp))
	assert.Equal(t, 1.0, valueOf(t, samples, MetricStale))
	assert.Equal(t, 0.0, valueOf(t, samples, MetricPowerWatts))
	assert.Equal(t, 3.4, valueOf(t, samples, MetricEnergyTodayKWh))
	assert.Equal(t, 4567.8, valueOf(t, samples, MetricEnergyTotalKWh))
	assert.Equal(t, 1.0, valueOf(t, samples, MetricErrorsTotal))
	assert.Len(t, samplesNamed(samples, MetricNetworkInfo), 1, "info metrics survive staleness")
}

func TestProjectFeatureToggles(t *testing.T) {
	r := newTestRegistry(t, "roof")
	require.NoError(t, r.Apply("roof", device.PollResult{Outcome: device.OutcomeSuccess, Reading: fullReading(), AttemptedAt: t0}, t0))
	views := r.SnapshotAll(t0)

	samples := Project(views, config.Features{DeviceInfo: true})
	assert.Empty(t, samplesNamed(samples, MetricNetworkInfo))
	assert.Len(t, samplesNamed(samples, MetricDeviceInfo), 1)
	assert.Empty(t, samplesNamed(samples, MetricRatedPowerWatts))
	assert.Empty(t, samplesNamed(samples, MetricStaRSSIPercent))

	samples = Project(views, config.Features{})
	for _, s := range samples {
		assert.Equal(t, []string{"roof"}, s.LabelValues, s.Name)
	}
}

func TestProjectIsPure(t *testing.T) {
	r := newTestRegistry(t, "a", "b", "c")
	require.NoError(t, r.Apply("b", device.PollResult{Outcome: device.OutcomeSuccess, Reading: fullReading(), AttemptedAt: t0}, t0))
	require.NoError(t, r.Apply("c", device.PollResult{Outcome: device.OutcomeFailure, AttemptedAt: t0}, t0))

	views := r.SnapshotAll(t0.Add(time.Minute))
	first := Project(views, allFeatures)
	second := Project(views, allFeatures)
	assert.Equal(t, first, second)

	// Devices appear in configuration order.
	var order []string
	for _, s := range samplesNamed(first, MetricUp) {
		order = append(order, s.LabelValues[0])
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestViewCollect(t *testing.T) {
	r := newTestRegistry(t, "roof")
	require.NoError(t, r.Apply("roof", device.PollResult{Outcome: device.OutcomeSuccess, Reading: fullReading(), AttemptedAt: t0}, t0))

	view := NewView(r, ViewOptions{
		Features: allFeatures,
		Version:  "1.2.3",
		Ready:    func() bool { return true },
		Clock:    func() time.Time { return t0.Add(5 * time.Second) },
	})

	expected := `
# HELP solis_inverter_exporter_build_info Build info
# TYPE solis_inverter_exporter_build_info gauge
solis_inverter_exporter_build_info{version="1.2.3"} 1
# HELP solis_inverter_exporter_ready 1 once every inverter has completed its first poll attempt
# TYPE solis_inverter_exporter_ready gauge
solis_inverter_exporter_ready 1
# HELP solis_inverter_power_watts Current AC power output in watts (0 while stale)
# TYPE solis_inverter_power_watts gauge
solis_inverter_power_watts{inverter="roof"} 1200
# HELP solis_inverter_errors_total Total poll errors
# TYPE solis_inverter_errors_total counter
solis_inverter_errors_total{inverter="roof"} 0
# HELP solis_inverter_last_success_age_seconds Seconds since last success (-1 if never)
# TYPE solis_inverter_last_success_age_seconds gauge
solis_inverter_last_success_age_seconds{inverter="roof"} 5
`
	err := testutil.CollectAndCompare(view, strings.NewReader(expected),
		MetricBuildInfo, MetricReady, MetricPowerWatts, MetricErrorsTotal, MetricLastSuccessAge)
	assert.NoError(t, err)

	// build_info, ready, 10 core, 7 extras, 2 info
	assert.Equal(t, 21, testutil.CollectAndCount(view))
}

func TestViewNotReady(t *testing.T) {
	view := NewView(newTestRegistry(t, "roof"), ViewOptions{Features: allFeatures, Version: "dev"})

	expected := `
# HELP solis_inverter_exporter_ready 1 once every inverter has completed its first poll attempt
# TYPE solis_inverter_exporter_ready gauge
solis_inverter_exporter_ready 0
`
	assert.NoError(t, testutil.CollectAndCompare(view, strings.NewReader(expected), MetricReady))
	assert.Equal(t, 0, testutil.CollectAndCount(view, MetricEnergyTodayKWh))
}

func TestViewRegistersOnPedanticRegistry(t *testing.T) {
	r := newTestRegistry(t, "roof", "garage")
	require.NoError(t, r.Apply("roof", device.PollResult{Outcome: device.OutcomeSuccess, Reading: fullReading(), AttemptedAt: t0}, t0))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewView(r, ViewOptions{Features: allFeatures, Version: "dev"})))
	NewSelfMetrics(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	descs := make(chan *prometheus.Desc, len(metricSpecs)+1)
	NewView(r, ViewOptions{}).Describe(descs)
	close(descs)
	assert.Len(t, descs, len(metricSpecs))
}

func TestNewExpositionRegistry(t *testing.T) {
	bare, err := NewExpositionRegistry(false).Gather()
	require.NoError(t, err)
	assert.Empty(t, bare)

	full, err := NewExpositionRegistry(true).Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range full {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
}

func TestViewCollectNonUTF8Labels(t *testing.T) {
	t.Run("parsed page", func(t *testing.T) {
		reading, err := parser.Parse([]byte("<script>var webdata_now_p = \"1500\"; var cover_sta_ssid = \"Caf\xe9\";</script>"))
		require.NoError(t, err)

		r := newTestRegistry(t, "roof")
		require.NoError(t, r.Apply("roof", device.PollResult{Outcome: device.OutcomeSuccess, Reading: reading, AttemptedAt: t0}, t0))

		reg := prometheus.NewPedanticRegistry()
		require.NoError(t, reg.Register(NewView(r, ViewOptions{Features: allFeatures, Version: "dev"})))

		families, err := reg.Gather()
		require.NoError(t, err)
		assert.NotEmpty(t, families)
	})

	t.Run("unsanitized reading", func(t *testing.T) {
		reading := fullReading()
		reading.Network.STASSID = "Caf\xe9"

		r := newTestRegistry(t, "roof")
		require.NoError(t, r.Apply("roof", device.PollResult{Outcome: device.OutcomeSuccess, Reading: reading, AttemptedAt: t0}, t0))

		reg := prometheus.NewRegistry()
		require.NoError(t, reg.Register(NewView(r, ViewOptions{Features: allFeatures, Version: "dev"})))

		families, err := reg.Gather()
		assert.Error(t, err, "the bad sample is reported")

		var names []string
		for _, mf := range families {
			names = append(names, mf.GetName())
		}
		assert.Contains(t, names, MetricPowerWatts)
		assert.Contains(t, names, MetricDeviceInfo)
		assert.NotContains(t, names, MetricNetworkInfo)
	})
}
