package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownHookOrder(t *testing.T) {
	sm := NewShutdownManager(time.Second, nil)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	sm.RegisterHook(ShutdownHook{Name: "close-client", Priority: 3, Handler: record("close-client")})
	sm.RegisterHook(ShutdownHook{Name: "stop-scheduler", Priority: 1, Handler: record("stop-scheduler")})
	sm.RegisterHook(ShutdownHook{Name: "close-tsnet", Priority: 5, Handler: record("close-tsnet")})

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"stop-scheduler", "close-client", "close-tsnet"}, order)
}

func TestShutdownRunsOnce(t *testing.T) {
	sm := NewShutdownManager(time.Second, nil)

	calls := 0
	sm.RegisterHook(ShutdownHook{Name: "count", Handler: func(ctx context.Context) error {
		calls++
		return nil
	}})

	require.NoError(t, sm.Shutdown())
	require.NoError(t, sm.Shutdown())
	assert.Equal(t, 1, calls)
}

func TestShutdownCollectsHookErrors(t *testing.T) {
	sm := NewShutdownManager(time.Second, nil)

	boom := errors.New("boom")
	sm.RegisterHook(ShutdownHook{Name: "failing", Priority: 1, Handler: func(ctx context.Context) error { return boom }})

	ran := false
	sm.RegisterHook(ShutdownHook{Name: "after", Priority: 2, Handler: func(ctx context.Context) error {
		ran = true
		return nil
	}})

	err := sm.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran, "a failing hook must not stop later hooks")
}

func TestShutdownHookTimeout(t *testing.T) {
	sm := NewShutdownManager(time.Second, nil)

	sm.RegisterHook(ShutdownHook{
		Name:    "hung",
		Timeout: 20 * time.Millisecond,
		Handler: func(ctx context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		},
	})

	start := time.Now()
	err := sm.Shutdown()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
