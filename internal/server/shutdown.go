package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ShutdownManager stops HTTP servers first and then runs the registered
// hooks in priority order, lowest first, all within one overall timeout.
type ShutdownManager struct {
	timeout     time.Duration
	logger      *slog.Logger
	hooks       []ShutdownHook
	httpServers []*http.Server
	mutex       sync.RWMutex
	once        sync.Once
	err         error
}

// ShutdownHook is a named cleanup step.
type ShutdownHook struct {
	Name     string
	Priority int
	Timeout  time.Duration
	Handler  func(ctx context.Context) error
}

func NewShutdownManager(timeout time.Duration, logger *slog.Logger) *ShutdownManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownManager{
		timeout: timeout,
		logger:  logger,
	}
}

func (sm *ShutdownManager) AddHTTPServer(server *http.Server) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.httpServers = append(sm.httpServers, server)
}

func (sm *ShutdownManager) RegisterHook(hook ShutdownHook) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if hook.Timeout == 0 {
		hook.Timeout = 30 * time.Second
	}

	sm.hooks = append(sm.hooks, hook)
	sort.SliceStable(sm.hooks, func(i, j int) bool {
		return sm.hooks[i].Priority < sm.hooks[j].Priority
	})
}

// Shutdown runs the shutdown sequence once. Later calls return the first
// result without doing anything.
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		start := time.Now()
		sm.logger.Info("starting graceful shutdown", "timeout", sm.timeout)

		ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()

		sm.err = errors.Join(
			sm.shutdownHTTPServers(ctx),
			sm.executeShutdownHooks(ctx),
		)

		sm.logger.Info("graceful shutdown completed", "duration", time.Since(start))
	})
	return sm.err
}

func (sm *ShutdownManager) shutdownHTTPServers(ctx context.Context) error {
	sm.mutex.RLock()
	servers := make([]*http.Server, len(sm.httpServers))
	copy(servers, sm.httpServers)
	sm.mutex.RUnlock()

	if len(servers) == 0 {
		return nil
	}

	sm.logger.Debug("shutting down HTTP servers", "count", len(servers))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, server := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()

			if err := srv.Shutdown(ctx); err != nil {
				sm.logger.Error("HTTP server shutdown error", "addr", srv.Addr, "error", err)
				if closeErr := srv.Close(); closeErr != nil {
					sm.logger.Error("HTTP server close error", "addr", srv.Addr, "error", closeErr)
				}
				mu.Lock()
				errs = append(errs, fmt.Errorf("http server %s: %w", srv.Addr, err))
				mu.Unlock()
			}
		}(server)
	}

	wg.Wait()
	return errors.Join(errs...)
}

func (sm *ShutdownManager) executeShutdownHooks(ctx context.Context) error {
	sm.mutex.RLock()
	hooks := make([]ShutdownHook, len(sm.hooks))
	copy(hooks, sm.hooks)
	sm.mutex.RUnlock()

	var errs []error
	for _, hook := range hooks {
		select {
		case <-ctx.Done():
			sm.logger.Warn("shutdown timeout reached, skipping remaining hooks")
			return errors.Join(append(errs, ctx.Err())...)
		default:
		}

		if err := sm.executeHook(ctx, hook); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (sm *ShutdownManager) executeHook(ctx context.Context, hook ShutdownHook) error {
	hookStart := time.Now()

	hookCtx, cancel := context.WithTimeout(ctx, hook.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- hook.Handler(hookCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			sm.logger.Error("shutdown hook failed", "name", hook.Name, "error", err)
			return fmt.Errorf("shutdown hook %s: %w", hook.Name, err)
		}
		sm.logger.Debug("shutdown hook completed", "name", hook.Name, "duration", time.Since(hookStart))
		return nil
	case <-hookCtx.Done():
		sm.logger.Warn("shutdown hook timeout", "name", hook.Name, "timeout", hook.Timeout)
		return fmt.Errorf("shutdown hook %s: %w", hook.Name, hookCtx.Err())
	}
}
