package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/sbaerlocher/solis-exporter/internal/client"
	"github.com/sbaerlocher/solis-exporter/internal/errors"
	"github.com/sbaerlocher/solis-exporter/pkg/device"
)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// MaxParallel bounds the number of polls that run at the same time.
	MaxParallel int
	Logger      *slog.Logger
	// Metrics is optional.
	Metrics *SelfMetrics
	Clock   Clock
}

// Scheduler runs one poll loop per device. Each loop ticks at the device's
// poll interval; all loops share a weighted semaphore of MaxParallel slots.
// A tick that finds the device's previous poll still running is skipped, so
// at most one poll per device is ever in flight.
//
// Start and Stop are safe for concurrent use.
type Scheduler struct {
	devices []device.Config
	fetcher client.Fetcher
	sink    ResultSink
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics *SelfMetrics
	now     Clock

	inFlight  map[string]*atomic.Bool
	attempted map[string]*atomic.Bool
	pending   atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped bool
}

// NewScheduler creates a scheduler for a fixed set of devices.
func NewScheduler(devices []device.Config, fetcher client.Fetcher, sink ResultSink, opts SchedulerOptions) (*Scheduler, error) {
	if opts.MaxParallel < 1 {
		return nil, fmt.Errorf("%w: max parallel must be at least 1, got %d", errors.ErrInvalidConcurrency, opts.MaxParallel)
	}
	for _, d := range devices {
		if d.PollInterval <= 0 {
			return nil, fmt.Errorf("device %s: %w: %v", d.Name, errors.ErrInvalidInterval, d.PollInterval)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	s := &Scheduler{
		devices:   devices,
		fetcher:   fetcher,
		sink:      sink,
		sem:       semaphore.NewWeighted(int64(opts.MaxParallel)),
		logger:    logger,
		metrics:   opts.Metrics,
		now:       now,
		inFlight:  make(map[string]*atomic.Bool, len(devices)),
		attempted: make(map[string]*atomic.Bool, len(devices)),
	}
	for _, d := range devices {
		s.inFlight[d.Name.String()] = &atomic.Bool{}
		s.attempted[d.Name.String()] = &atomic.Bool{}
	}
	s.pending.Store(int64(len(devices)))
	return s, nil
}

// Start launches the poll loops. Every device is polled immediately, then on
// its interval. Calling Start more than once has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() || s.stopped {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for _, d := range s.devices {
		s.wg.Add(1)
		go s.loop(ctx, d)
	}
	s.started.Store(true)

	s.logger.Info("scheduler started", "devices", len(s.devices))
}

// Stop cancels all loops and in-flight polls and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Started reports whether the poll loops are running.
func (s *Scheduler) Started() bool {
	return s.started.Load()
}

// FirstCycleDone reports whether every device has completed its first poll.
func (s *Scheduler) FirstCycleDone() bool {
	return s.pending.Load() <= 0
}

// CheckHealth implements health.ComponentChecker.
func (s *Scheduler) CheckHealth(ctx context.Context) error {
	if !s.Started() {
		return fmt.Errorf("scheduler not started")
	}
	return nil
}

// ComponentName implements health.ComponentChecker.
func (s *Scheduler) ComponentName() string {
	return "scheduler"
}

func (s *Scheduler) loop(ctx context.Context, cfg device.Config) {
	defer s.wg.Done()

	s.tick(ctx, cfg)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, cfg)
		}
	}
}

// tick starts a poll unless the previous one for the device is still running.
// It never blocks, so a slow poll does not shift the device's cadence.
func (s *Scheduler) tick(ctx context.Context, cfg device.Config) bool {
	name := cfg.Name.String()
	flag := s.inFlight[name]
	if !flag.CompareAndSwap(false, true) {
		if s.metrics != nil {
			s.metrics.PollsSkipped.WithLabelValues(name).Inc()
		}
		s.logger.Debug("skipping poll, previous poll still running", "inverter", name)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer flag.Store(false)
		s.poll(ctx, cfg)
	}()
	return true
}

func (s *Scheduler) poll(ctx context.Context, cfg device.Config) {
	name := cfg.Name.String()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	if s.metrics != nil {
		s.metrics.InFlight.Inc()
		defer s.metrics.InFlight.Dec()
	}

	result := s.safeFetch(ctx, cfg)

	// A poll cut short by shutdown is abandoned rather than counted.
	if !result.Succeeded() && ctx.Err() != nil {
		s.logger.Debug("poll abandoned on shutdown", "inverter", name)
		return
	}

	if err := s.sink.Apply(name, result, s.now()); err != nil {
		s.logger.Error("failed to apply poll result", "inverter", name, "error", err)
		return
	}

	if flag := s.attempted[name]; flag.CompareAndSwap(false, true) {
		if s.pending.Add(-1) == 0 {
			s.logger.Info("first poll cycle complete", "devices", len(s.devices))
		}
	}

	s.observe(cfg, result)
}

// safeFetch runs the fetcher and converts a panic into a failed poll.
func (s *Scheduler) safeFetch(ctx context.Context, cfg device.Config) (result device.PollResult) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("device poll panic",
				"inverter", cfg.Name.String(),
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			if s.metrics != nil {
				s.metrics.PollsPanics.Inc()
			}
			result = device.PollResult{
				Outcome:     device.OutcomeFailure,
				AttemptedAt: start,
				Duration:    s.now().Sub(start),
				Err: errors.InternalError{
					Device:        cfg.Name.String(),
					CorrelationID: correlationID,
					Underlying:    fmt.Errorf("panic: %v", r),
				},
			}
		}
	}()
	return s.fetcher.Fetch(ctx, cfg)
}

func (s *Scheduler) observe(cfg device.Config, result device.PollResult) {
	name := cfg.Name.String()

	if s.metrics != nil {
		s.metrics.PollDuration.WithLabelValues(name).Observe(result.Duration.Seconds())
		s.metrics.PollsTotal.WithLabelValues(name, result.Outcome.String()).Inc()
	}

	if result.Succeeded() {
		s.logger.Debug("poll succeeded",
			"inverter", name,
			"attempts", result.Attempts,
			"duration", result.Duration)
		return
	}

	s.logger.Warn("poll failed",
		"inverter", name,
		"error_kind", errors.Classify(result.Err),
		"attempts", result.Attempts,
		"duration", result.Duration,
		"error", result.Err)
}
