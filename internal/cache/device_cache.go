// Package cache holds the last-known-good state of every configured inverter.
//
// Each DeviceState is written only by its device's poll loop and read
// concurrently by the exposition path. Staleness is never stored; it is
// derived from the time of the read.
package cache

import (
	"sync"
	"time"

	"github.com/sbaerlocher/solis-exporter/pkg/device"
)

// Freshness is the staleness state of a device at a point in time.
type Freshness int

const (
	NeverSucceeded Freshness = iota
	Fresh
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "never_succeeded"
	}
}

// DeviceState tracks poll outcomes for one device.
type DeviceState struct {
	cfg device.Config

	mutex             sync.RWMutex
	attempted         bool
	up                bool
	lastAttemptAt     time.Time
	lastDuration      time.Duration
	lastSuccess       *device.PollResult
	lastSuccessAt     time.Time
	consecutiveErrors uint64
	errorsTotal       uint64

	// Mandatory values are merged across successes: a page that omits one of
	// them keeps the previously reported value.
	powerWatts     *float64
	energyTodayKWh *float64
	energyTotalKWh *float64
}

// DeviceView is a consistent, read-only snapshot of a DeviceState.
type DeviceView struct {
	Config    device.Config
	Attempted bool
	Up        bool
	Freshness Freshness
	Stale     bool

	// PowerWatts is zero when the device is stale or never succeeded.
	PowerWatts float64
	// Energy values are nil until known and are never zeroed by staleness.
	EnergyTodayKWh *float64
	EnergyTotalKWh *float64

	// LastSuccessAgeSeconds is -1 if the device never succeeded.
	LastSuccessAgeSeconds float64
	ErrorsTotal           uint64
	ConsecutiveErrors     uint64
	ScrapeDuration        time.Duration
	LastSuccessAt         time.Time
	LastAttemptAt         time.Time

	// Reading carries extras and label sets of the last success, or unknown
	// values before the first success.
	Reading device.Reading
}

// HasSucceeded reports whether the device produced at least one reading.
func (v DeviceView) HasSucceeded() bool {
	return v.Freshness != NeverSucceeded
}

// NewDeviceState creates the initial state: never succeeded, down.
func NewDeviceState(cfg device.Config) *DeviceState {
	return &DeviceState{cfg: cfg}
}

// Config returns the static device configuration.
func (s *DeviceState) Config() device.Config {
	return s.cfg
}

// Apply records the outcome of one poll. A failure never touches the last
// success. A success older than the current one is not accepted.
func (s *DeviceState) Apply(result device.PollResult, now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.attempted = true
	s.lastAttemptAt = now
	s.lastDuration = result.Duration
	s.up = result.Succeeded()

	if !result.Succeeded() {
		s.consecutiveErrors++
		s.errorsTotal++
		return
	}

	s.consecutiveErrors = 0
	if s.lastSuccess != nil && result.AttemptedAt.Before(s.lastSuccess.AttemptedAt) {
		return
	}

	r := result
	s.lastSuccess = &r
	s.lastSuccessAt = now

	if v := result.Reading.PowerWatts; v != nil {
		s.powerWatts = copyFloat(v)
	}
	if v := result.Reading.EnergyTodayKWh; v != nil {
		s.energyTodayKWh = copyFloat(v)
	}
	if v := result.Reading.EnergyTotalKWh; v != nil {
		s.energyTotalKWh = copyFloat(v)
	}
}

// Snapshot derives the view of the device at now using the device's
// configured stale threshold.
func (s *DeviceState) Snapshot(now time.Time) DeviceView {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	view := DeviceView{
		Config:                s.cfg,
		Attempted:             s.attempted,
		Up:                    s.up,
		Freshness:             NeverSucceeded,
		Stale:                 true,
		LastSuccessAgeSeconds: -1,
		ErrorsTotal:           s.errorsTotal,
		ConsecutiveErrors:     s.consecutiveErrors,
		ScrapeDuration:        s.lastDuration,
		LastAttemptAt:         s.lastAttemptAt,
		Reading:               device.UnknownReading(),
	}

	if s.lastSuccess == nil {
		return view
	}

	age := now.Sub(s.lastSuccessAt)
	if age < 0 {
		age = 0
	}

	view.LastSuccessAt = s.lastSuccessAt
	view.LastSuccessAgeSeconds = age.Seconds()
	view.Reading = s.lastSuccess.Reading
	view.EnergyTodayKWh = copyFloat(s.energyTodayKWh)
	view.EnergyTotalKWh = copyFloat(s.energyTotalKWh)

	if age > s.cfg.StaleAfter {
		view.Freshness = Stale
		return view
	}

	view.Freshness = Fresh
	view.Stale = false
	if s.powerWatts != nil {
		view.PowerWatts = *s.powerWatts
	}
	return view
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
