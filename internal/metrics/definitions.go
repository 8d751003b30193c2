// Package metrics provides Prometheus metrics definitions and collection utilities.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Per-device metric names. These are a stable contract for dashboards.
const (
	MetricUp                   = "solis_inverter_up"
	MetricPowerWatts           = "solis_inverter_power_watts"
	MetricEnergyTodayKWh       = "solis_inverter_energy_today_kwh"
	MetricEnergyTotalKWh       = "solis_inverter_energy_total_kwh"
	MetricStale                = "solis_inverter_stale"
	MetricLastSuccessAge       = "solis_inverter_last_success_age_seconds"
	MetricErrorsTotal          = "solis_inverter_errors_total"
	MetricScrapeDuration       = "solis_inverter_scrape_duration_seconds"
	MetricLastSuccessTimestamp = "solis_inverter_last_success_timestamp"
	MetricLastAttemptTimestamp = "solis_inverter_last_attempt_timestamp"

	MetricRatedPowerWatts = "solis_inverter_rated_power_watts"
	MetricUptimeSeconds   = "solis_inverter_uptime_seconds"
	MetricAlarmPresent    = "solis_inverter_alarm_present"
	MetricRemoteStatusA   = "solis_remote_status_a"
	MetricRemoteStatusB   = "solis_remote_status_b"
	MetricRemoteStatusC   = "solis_remote_status_c"
	MetricStaRSSIPercent  = "solis_sta_rssi_percent"

	MetricNetworkInfo = "solis_inverter_network_info"
	MetricDeviceInfo  = "solis_inverter_device_info"

	MetricBuildInfo = "solis_inverter_exporter_build_info"
	MetricReady     = "solis_inverter_exporter_ready"
)

const labelInverter = "inverter"

var (
	networkInfoLabels = []string{labelInverter, "wmode", "ap_ssid", "ap_ip", "ap_mac", "sta_ssid", "sta_ip", "sta_mac"}
	deviceInfoLabels  = []string{labelInverter, "sn", "msvn", "ssvn", "pv_type", "cover_mid", "cover_ver"}
)

type metricSpec struct {
	name      string
	help      string
	valueType prometheus.ValueType
	labels    []string
}

var metricSpecs = []metricSpec{
	{MetricUp, "1 if the most recent poll succeeded, else 0", prometheus.GaugeValue, []string{labelInverter}},
	{MetricPowerWatts, "Current AC power output in watts (0 while stale)", prometheus.GaugeValue, []string{labelInverter}},
	{MetricEnergyTodayKWh, "Energy produced today in kWh", prometheus.GaugeValue, []string{labelInverter}},
	{MetricEnergyTotalKWh, "Total energy produced in kWh", prometheus.GaugeValue, []string{labelInverter}},
	{MetricStale, "1 if data is stale, else 0", prometheus.GaugeValue, []string{labelInverter}},
	{MetricLastSuccessAge, "Seconds since last success (-1 if never)", prometheus.GaugeValue, []string{labelInverter}},
	{MetricErrorsTotal, "Total poll errors", prometheus.CounterValue, []string{labelInverter}},
	{MetricScrapeDuration, "Duration of the most recent poll in seconds, retries included", prometheus.GaugeValue, []string{labelInverter}},
	{MetricLastSuccessTimestamp, "Unix timestamp of last successful poll", prometheus.GaugeValue, []string{labelInverter}},
	{MetricLastAttemptTimestamp, "Unix timestamp of last poll attempt", prometheus.GaugeValue, []string{labelInverter}},
	{MetricRatedPowerWatts, "Rated power in watts (if available, else -1)", prometheus.GaugeValue, []string{labelInverter}},
	{MetricUptimeSeconds, "Uptime seconds (if available, else -1)", prometheus.GaugeValue, []string{labelInverter}},
	{MetricAlarmPresent, "1 if alarm field is not empty, else 0", prometheus.GaugeValue, []string{labelInverter}},
	{MetricRemoteStatusA, "Remote status A (1 enabled, 0 disabled, -1 unknown)", prometheus.GaugeValue, []string{labelInverter}},
	{MetricRemoteStatusB, "Remote status B (1 enabled, 0 disabled, -1 unknown)", prometheus.GaugeValue, []string{labelInverter}},
	{MetricRemoteStatusC, "Remote status C (1 enabled, 0 disabled, -1 unknown)", prometheus.GaugeValue, []string{labelInverter}},
	{MetricStaRSSIPercent, "STA RSSI percent (0..100, -1 unknown)", prometheus.GaugeValue, []string{labelInverter}},
	{MetricNetworkInfo, "Static network info as labels (value=1)", prometheus.GaugeValue, networkInfoLabels},
	{MetricDeviceInfo, "Static device info as labels (value=1)", prometheus.GaugeValue, deviceInfoLabels},
	{MetricBuildInfo, "Build info", prometheus.GaugeValue, []string{"version"}},
	{MetricReady, "1 once every inverter has completed its first poll attempt", prometheus.GaugeValue, nil},
}

// SelfMetrics instruments the polling engine itself.
type SelfMetrics struct {
	PollDuration *prometheus.HistogramVec
	PollsTotal   *prometheus.CounterVec
	PollsSkipped *prometheus.CounterVec
	PollsPanics  prometheus.Counter
	InFlight     prometheus.Gauge
}

// NewSelfMetrics creates the engine metrics and registers them with reg. A nil
// registerer leaves them unregistered, which tests use.
func NewSelfMetrics(reg prometheus.Registerer) *SelfMetrics {
	factory := promauto.With(reg)
	return &SelfMetrics{
		PollDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solis_exporter_poll_duration_seconds",
				Help:    "Wall-clock duration of device polls, retries included",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{labelInverter},
		),
		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solis_exporter_polls_total",
				Help: "Completed device polls by outcome",
			},
			[]string{labelInverter, "outcome"},
		),
		PollsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solis_exporter_polls_skipped_total",
				Help: "Scheduled polls skipped because the previous poll was still running",
			},
			[]string{labelInverter},
		),
		PollsPanics: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "solis_exporter_poll_panics_total",
				Help: "Device polls that panicked and were recovered",
			},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "solis_exporter_polls_in_flight",
				Help: "Device polls currently holding a worker slot",
			},
		),
	}
}

// NewExpositionRegistry creates the dedicated registry served on /metrics.
// Go runtime and process collectors are only added when exposeDefault is set.
func NewExpositionRegistry(exposeDefault bool) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if exposeDefault {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return reg
}
