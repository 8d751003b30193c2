// Package health provides liveness and readiness checks for the exporter.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sbaerlocher/solis-exporter/internal/cache"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Component string    `json:"component"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus represents the overall health status and individual component checks.
type HealthStatus struct {
	Overall Status                 `json:"overall"`
	Checks  map[string]CheckResult `json:"checks"`
}

// ComponentChecker defines the interface for individual component health checks.
type ComponentChecker interface {
	CheckHealth(ctx context.Context) error
	ComponentName() string
}

// Degrader is implemented by components that keep serving while impaired.
// A non-empty reason marks the component degraded.
type Degrader interface {
	DegradedReason(now time.Time) string
}

// HealthChecker manages health checks for multiple components.
type HealthChecker struct {
	components  map[string]ComponentChecker
	mu          sync.RWMutex
	startupTime time.Time
	now         func() time.Time
}

// NewHealthChecker creates a new health checker instance.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		components:  make(map[string]ComponentChecker),
		startupTime: time.Now(),
		now:         time.Now,
	}
}

func (hc *HealthChecker) RegisterComponent(checker ComponentChecker) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.components[checker.ComponentName()] = checker
}

// Uptime returns the time since the checker was created.
func (hc *HealthChecker) Uptime() time.Duration {
	return time.Since(hc.startupTime)
}

// LivenessCheck only verifies that the process responds. Device failures never
// make the exporter unhealthy.
func (hc *HealthChecker) LivenessCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// ReadinessCheck requires every registered component to pass.
func (hc *HealthChecker) ReadinessCheck(ctx context.Context) error {
	components := hc.snapshotComponents()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for name, component := range components {
		if err := component.CheckHealth(ctx); err != nil {
			return fmt.Errorf("component %s not ready: %w", name, err)
		}
	}

	return nil
}

// GetHealthStatus checks every component. A failing check makes the exporter
// unhealthy; a passing component that reports a degraded reason makes it
// degraded.
func (hc *HealthChecker) GetHealthStatus(ctx context.Context) HealthStatus {
	components := hc.snapshotComponents()
	now := hc.now()

	results := make(map[string]CheckResult, len(components))
	overall := StatusHealthy

	for name, component := range components {
		result := CheckResult{Component: name, Status: StatusHealthy, Timestamp: now}

		if err := component.CheckHealth(ctx); err != nil {
			result.Status = StatusUnhealthy
			result.Message = err.Error()
			overall = StatusUnhealthy
		} else if d, ok := component.(Degrader); ok {
			if reason := d.DegradedReason(now); reason != "" {
				result.Status = StatusDegraded
				result.Message = reason
				if overall == StatusHealthy {
					overall = StatusDegraded
				}
			}
		}

		results[name] = result
	}

	return HealthStatus{
		Overall: overall,
		Checks:  results,
	}
}

func (hc *HealthChecker) snapshotComponents() map[string]ComponentChecker {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	components := make(map[string]ComponentChecker, len(hc.components))
	for name, comp := range hc.components {
		components[name] = comp
	}
	return components
}

// RegistryHealthChecker reports the device registry as unhealthy when it
// holds no devices, which only happens if configuration was never loaded,
// and as degraded while a polled inverter is down or stale.
type RegistryHealthChecker struct {
	registry *cache.Registry
}

// NewRegistryHealthChecker creates a new registry health checker.
func NewRegistryHealthChecker(registry *cache.Registry) *RegistryHealthChecker {
	return &RegistryHealthChecker{registry: registry}
}

func (rc *RegistryHealthChecker) ComponentName() string {
	return "device_registry"
}

func (rc *RegistryHealthChecker) CheckHealth(ctx context.Context) error {
	if rc.registry == nil {
		return fmt.Errorf("registry not initialized")
	}
	if rc.registry.Len() == 0 {
		return fmt.Errorf("no devices configured")
	}
	return nil
}

// DegradedReason lists inverters whose last poll failed or whose data is
// stale. Inverters that were never polled do not count.
func (rc *RegistryHealthChecker) DegradedReason(now time.Time) string {
	if rc.registry == nil {
		return ""
	}

	var failing []string
	for _, v := range rc.registry.SnapshotAll(now) {
		if v.Attempted && (!v.Up || v.Stale) {
			failing = append(failing, v.Config.Name.String())
		}
	}
	if len(failing) == 0 {
		return ""
	}
	return fmt.Sprintf("%d of %d inverters failing: %s", len(failing), rc.registry.Len(), strings.Join(failing, ", "))
}

// Report is the JSON body served on /health.
type Report struct {
	Status        Status                 `json:"status"`
	Version       string                 `json:"version"`
	Timestamp     time.Time              `json:"timestamp"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Devices       cache.Stats            `json:"devices"`
	Runtime       RuntimeStats           `json:"runtime"`
	Checks        map[string]CheckResult `json:"checks"`
}

// WriteHealthResponse writes report as JSON with the given status code.
func WriteHealthResponse(w http.ResponseWriter, report Report, httpStatus int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		slog.Error("failed to write health response", "error", err)
	}
}

func DetermineHTTPStatus(status Status) int {
	switch status {
	case StatusHealthy:
		return http.StatusOK
	case StatusDegraded:
		return http.StatusOK // Still considered healthy for K8s
	case StatusUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
