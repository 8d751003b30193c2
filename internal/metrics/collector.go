// Package metrics turns cached inverter state into Prometheus metrics and
// runs the polling engine that keeps that state current.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sbaerlocher/solis-exporter/internal/cache"
	"github.com/sbaerlocher/solis-exporter/internal/config"
)

// Sample is one metric value produced by Project.
type Sample struct {
	Name        string
	LabelValues []string
	Value       float64
}

// Project maps device views to samples. It performs no I/O and its output
// depends only on its arguments: devices in view order, metrics in a fixed
// order per device.
func Project(views []cache.DeviceView, features config.Features) []Sample {
	out := make([]Sample, 0, len(views)*20)

	for _, v := range views {
		name := v.Config.Name.String()
		add := func(metric string, value float64) {
			out = append(out, Sample{Name: metric, LabelValues: []string{name}, Value: value})
		}

		add(MetricUp, boolToFloat64(v.Up))
		add(MetricPowerWatts, v.PowerWatts)
		if v.EnergyTodayKWh != nil {
			add(MetricEnergyTodayKWh, *v.EnergyTodayKWh)
		}
		if v.EnergyTotalKWh != nil {
			add(MetricEnergyTotalKWh, *v.EnergyTotalKWh)
		}
		add(MetricStale, boolToFloat64(v.Stale))
		add(MetricLastSuccessAge, v.LastSuccessAgeSeconds)
		add(MetricErrorsTotal, float64(v.ErrorsTotal))
		add(MetricScrapeDuration, v.ScrapeDuration.Seconds())
		add(MetricLastSuccessTimestamp, unixSeconds(v.LastSuccessAt))
		add(MetricLastAttemptTimestamp, unixSeconds(v.LastAttemptAt))

		if features.Extras {
			r := v.Reading
			add(MetricRatedPowerWatts, r.RatedPowerWatts)
			add(MetricUptimeSeconds, r.UptimeSeconds)
			add(MetricAlarmPresent, r.AlarmPresent)
			add(MetricRemoteStatusA, r.RemoteStatusA)
			add(MetricRemoteStatusB, r.RemoteStatusB)
			add(MetricRemoteStatusC, r.RemoteStatusC)
			add(MetricStaRSSIPercent, r.StaRSSIPercent)
		}

		if !v.HasSucceeded() {
			continue
		}
		if features.NetworkInfo {
			out = append(out, Sample{
				Name:        MetricNetworkInfo,
				LabelValues: append([]string{name}, v.Reading.Network.Labels()...),
				Value:       1,
			})
		}
		if features.DeviceInfo {
			out = append(out, Sample{
				Name:        MetricDeviceInfo,
				LabelValues: append([]string{name}, v.Reading.Device.Labels()...),
				Value:       1,
			})
		}
	}

	return out
}

// ViewOptions configures a View.
type ViewOptions struct {
	Features config.Features
	Version  string
	// Ready reports exporter readiness for the ready gauge. Nil means never ready.
	Ready func() bool
	Clock Clock
}

// View is a prometheus.Collector that exposes the current registry state on
// every scrape. Collect only reads already-published state and never triggers
// device I/O.
type View struct {
	source SnapshotSource
	opts   ViewOptions
	descs  map[string]*prometheus.Desc
	types  map[string]prometheus.ValueType
}

// NewView creates a collector over source.
func NewView(source SnapshotSource, opts ViewOptions) *View {
	if opts.Clock == nil {
		opts.Clock = defaultClock
	}
	v := &View{
		source: source,
		opts:   opts,
		descs:  make(map[string]*prometheus.Desc, len(metricSpecs)),
		types:  make(map[string]prometheus.ValueType, len(metricSpecs)),
	}
	for _, spec := range metricSpecs {
		v.descs[spec.name] = prometheus.NewDesc(spec.name, spec.help, spec.labels, nil)
		v.types[spec.name] = spec.valueType
	}
	return v
}

// Describe implements prometheus.Collector.
func (v *View) Describe(ch chan<- *prometheus.Desc) {
	for _, spec := range metricSpecs {
		ch <- v.descs[spec.name]
	}
}

// Collect implements prometheus.Collector.
func (v *View) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(v.descs[MetricBuildInfo], prometheus.GaugeValue, 1, v.opts.Version)

	ready := v.opts.Ready != nil && v.opts.Ready()
	ch <- prometheus.MustNewConstMetric(v.descs[MetricReady], prometheus.GaugeValue, boolToFloat64(ready))

	for _, s := range Project(v.source.SnapshotAll(v.opts.Clock()), v.opts.Features) {
		desc := v.descs[s.Name]
		m, err := prometheus.NewConstMetric(desc, v.types[s.Name], s.Value, s.LabelValues...)
		if err != nil {
			// Reported by Gather; the remaining samples are still served.
			m = prometheus.NewInvalidMetric(desc, err)
		}
		ch <- m
	}
}

func defaultClock() time.Time {
	return time.Now()
}

// boolToFloat64 converts a boolean to float64 for Prometheus metrics.
func boolToFloat64(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// unixSeconds returns t as fractional Unix seconds, or 0 for the zero time.
func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
