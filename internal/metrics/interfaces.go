package metrics

import (
	"time"

	"github.com/sbaerlocher/solis-exporter/internal/cache"
	"github.com/sbaerlocher/solis-exporter/pkg/device"
)

// ResultSink receives completed polls. The cache Registry is the production sink.
type ResultSink interface {
	Apply(name string, result device.PollResult, now time.Time) error
}

// SnapshotSource provides read-only device views for exposition.
type SnapshotSource interface {
	SnapshotAll(now time.Time) []cache.DeviceView
}

// Clock returns the current time.
type Clock func() time.Time
