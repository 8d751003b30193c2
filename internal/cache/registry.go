package cache

import (
	"fmt"
	"time"

	"github.com/sbaerlocher/solis-exporter/internal/errors"
	"github.com/sbaerlocher/solis-exporter/pkg/device"
)

// Registry maps device names to their state. The set of devices is fixed at
// construction, so the map itself needs no lock.
type Registry struct {
	order  []string
	states map[string]*DeviceState
}

// NewRegistry creates a registry for the given devices, preserving their order.
// Duplicate names are rejected.
func NewRegistry(devices []device.Config) (*Registry, error) {
	r := &Registry{
		order:  make([]string, 0, len(devices)),
		states: make(map[string]*DeviceState, len(devices)),
	}
	for _, d := range devices {
		name := d.Name.String()
		if _, exists := r.states[name]; exists {
			return nil, fmt.Errorf("duplicate device name %q", name)
		}
		r.order = append(r.order, name)
		r.states[name] = NewDeviceState(d)
	}
	return r, nil
}

// Apply records a poll result for the named device.
func (r *Registry) Apply(name string, result device.PollResult, now time.Time) error {
	s, ok := r.states[name]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownDevice, name)
	}
	s.Apply(result, now)
	return nil
}

// SnapshotAll returns a view of every device in configuration order.
func (r *Registry) SnapshotAll(now time.Time) []DeviceView {
	views := make([]DeviceView, 0, len(r.order))
	for _, name := range r.order {
		views = append(views, r.states[name].Snapshot(now))
	}
	return views
}

// Devices returns the device configurations in configuration order.
func (r *Registry) Devices() []device.Config {
	out := make([]device.Config, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.states[name].Config())
	}
	return out
}

// Names returns the device names in configuration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	return len(r.order)
}

// Stats summarizes the registry at a point in time.
type Stats struct {
	Devices   int `json:"devices"`
	Up        int `json:"up"`
	Stale     int `json:"stale"`
	Attempted int `json:"attempted"`
}

// Stats counts devices by state at now.
func (r *Registry) Stats(now time.Time) Stats {
	st := Stats{Devices: r.Len()}
	for _, v := range r.SnapshotAll(now) {
		if v.Up {
			st.Up++
		}
		if v.Stale {
			st.Stale++
		}
		if v.Attempted {
			st.Attempted++
		}
	}
	return st
}
