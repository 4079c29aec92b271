package repair

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/autonomic/internal/authz"
)

func newTestEngine(t *testing.T, gate authz.Gate, config Config, handlers ...Handler) *Engine {
	t.Helper()
	if len(handlers) == 0 {
		handlers = []Handler{HandlerFunc{
			Name: "restart",
			Fn: func(context.Context, *Action) (string, error) {
				return "ok", nil
			},
		}}
	}
	e, err := NewEngine(gate, nil, config, handlers...)
	require.NoError(t, err)
	return e
}

func TestNewEngineFailsFastOnBadHandlers(t *testing.T) {
	tests := []struct {
		name     string
		handlers []Handler
	}{
		{name: "nil handler", handlers: []Handler{nil}},
		{name: "empty type", handlers: []Handler{HandlerFunc{Name: ""}}},
		{name: "duplicate type", handlers: []Handler{
			HandlerFunc{Name: "restart", Fn: func(context.Context, *Action) (string, error) { return "", nil }},
			HandlerFunc{Name: "restart", Fn: func(context.Context, *Action) (string, error) { return "", nil }},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(nil, nil, Config{}, tt.handlers...)
			assert.Error(t, err)
		})
	}
}

func TestExecuteCompletes(t *testing.T) {
	e := newTestEngine(t, nil, Config{})
	a := NewAction("asset_ledger", "restart", "high")

	require.NoError(t, e.Execute(context.Background(), a))
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, "ok", a.Result)
	assert.False(t, a.StartedAt.IsZero())
	assert.False(t, a.CompletedAt.IsZero())
	assert.Equal(t, 0, e.ActiveCount())

	got, ok := e.Status(a.ID)
	require.True(t, ok, "completed action must be found in history")
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestExecuteHandlerFailure(t *testing.T) {
	e := newTestEngine(t, nil, Config{}, HandlerFunc{
		Name: "restart",
		Fn: func(context.Context, *Action) (string, error) {
			return "", errors.New("process would not stop")
		},
	})
	a := NewAction("asset_ledger", "restart", "high")

	err := e.Execute(context.Background(), a)
	assert.ErrorIs(t, err, ErrHandlerFailed)
	assert.Equal(t, StatusFailed, a.Status)
	assert.Contains(t, a.Error, "process would not stop")
}

func TestExecuteHandlerPanicIsIsolated(t *testing.T) {
	e := newTestEngine(t, nil, Config{}, HandlerFunc{
		Name: "restart",
		Fn: func(context.Context, *Action) (string, error) {
			panic("handler exploded")
		},
	})
	a := NewAction("voice_pipeline", "restart", "medium")

	err := e.Execute(context.Background(), a)
	assert.ErrorIs(t, err, ErrHandlerFailed)
	assert.Equal(t, StatusFailed, a.Status)
	assert.Contains(t, a.Error, "handler exploded")
	assert.Equal(t, 0, e.ActiveCount())
}

func TestExecuteUnknownActionType(t *testing.T) {
	e := newTestEngine(t, nil, Config{})
	a := NewAction("asset_ledger", "defragment", "low")

	err := e.Execute(context.Background(), a)
	assert.ErrorIs(t, err, ErrUnknownActionType)
	assert.Equal(t, StatusFailed, a.Status)
	assert.Contains(t, a.Error, "defragment")
}

func TestExecuteAuthorizationDenied(t *testing.T) {
	invoked := false
	e := newTestEngine(t, authz.DenyAll{Reason: "sealed"}, Config{}, HandlerFunc{
		Name: "restart",
		Fn: func(context.Context, *Action) (string, error) {
			invoked = true
			return "ok", nil
		},
	})
	a := NewAction("asset_ledger", "restart", "critical")

	err := e.Execute(context.Background(), a)
	assert.ErrorIs(t, err, ErrAuthorizationDenied)
	assert.False(t, invoked, "handler must not run after a denial")
	assert.Equal(t, StatusFailed, a.Status)
	assert.Contains(t, a.Error, "authorization denied")
}

func TestConcurrencyCapRejectsNotQueues(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	var peak atomic.Int32
	var inflight atomic.Int32

	e := newTestEngine(t, nil, Config{MaxConcurrent: 2}, HandlerFunc{
		Name: "restart",
		Fn: func(ctx context.Context, _ *Action) (string, error) {
			n := inflight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			started <- struct{}{}
			<-release
			inflight.Add(-1)
			return "ok", nil
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Execute(context.Background(), NewAction("c", "restart", "high"))
		}()
	}
	<-started
	<-started

	// Capacity is full: the third submission must be rejected immediately
	// and the action must stay Pending.
	extra := NewAction("c", "restart", "high")
	err := e.Execute(context.Background(), extra)
	assert.ErrorIs(t, err, ErrCapacityExhausted)
	assert.Equal(t, StatusPending, extra.Status)

	close(release)
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCancelActiveAction(t *testing.T) {
	entered := make(chan struct{})
	e := newTestEngine(t, nil, Config{}, HandlerFunc{
		Name: "restart",
		Fn: func(ctx context.Context, _ *Action) (string, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		},
	})

	a := NewAction("api_gateway", "restart", "high")
	done := make(chan error, 1)
	go func() { done <- e.Execute(context.Background(), a) }()
	<-entered

	require.True(t, e.Cancel(a.ID))
	<-done

	got, ok := e.Status(a.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, got.Status)

	// Second cancel on the same id: not active anymore.
	assert.False(t, e.Cancel(a.ID))
}

func TestContextCancellationMarksCancelled(t *testing.T) {
	entered := make(chan struct{})
	e := newTestEngine(t, nil, Config{}, HandlerFunc{
		Name: "restart",
		Fn: func(ctx context.Context, _ *Action) (string, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	a := NewAction("api_gateway", "restart", "high")
	done := make(chan error, 1)
	go func() { done <- e.Execute(ctx, a) }()
	<-entered

	cancel()
	err := <-done
	assert.ErrorIs(t, err, ErrHandlerFailed)
	assert.Equal(t, StatusCancelled, a.Status)
	assert.Equal(t, int64(1), e.GetStats().Cancelled)
}

func TestCancelUnknownReturnsFalse(t *testing.T) {
	e := newTestEngine(t, nil, Config{})
	assert.False(t, e.Cancel("no-such-id"))
}

func TestTerminalStatesAreSticky(t *testing.T) {
	e := newTestEngine(t, nil, Config{})
	a := NewAction("asset_ledger", "restart", "high")
	require.NoError(t, e.Execute(context.Background(), a))
	require.Equal(t, StatusCompleted, a.Status)

	// Re-executing a terminal action is refused and changes nothing.
	err := e.Execute(context.Background(), a)
	assert.ErrorIs(t, err, ErrNotPending)
	assert.Equal(t, StatusCompleted, a.Status)
	assert.False(t, e.Cancel(a.ID))
}

func TestCancelAll(t *testing.T) {
	entered := make(chan struct{}, 3)
	e := newTestEngine(t, nil, Config{MaxConcurrent: 3}, HandlerFunc{
		Name: "restart",
		Fn: func(ctx context.Context, _ *Action) (string, error) {
			entered <- struct{}{}
			<-ctx.Done()
			return "", ctx.Err()
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Execute(context.Background(), NewAction("c", "restart", "low"))
		}()
	}
	for i := 0; i < 3; i++ {
		<-entered
	}

	assert.Equal(t, 3, e.CancelAll())
	wg.Wait()
	assert.Equal(t, 0, e.ActiveCount())
	assert.Equal(t, int64(3), e.GetStats().Cancelled)
}

func TestHistoryIsCapped(t *testing.T) {
	e := newTestEngine(t, nil, Config{})
	for i := 0; i < historyCap+20; i++ {
		require.NoError(t, e.Execute(context.Background(), NewAction("c", "restart", "low")))
	}
	assert.Len(t, e.History(), historyCap)
}

func TestBuiltinHandlers(t *testing.T) {
	e, err := NewEngine(nil, nil, Config{}, BuiltinHandlers(0)...)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"restart", "buffer_reset", "isolate", "reconnect", "clear_cache"},
		e.ActionTypes())

	a := NewAction("voice_pipeline", "buffer_reset", "medium")
	require.NoError(t, e.Execute(context.Background(), a))
	assert.Contains(t, a.Result, "voice_pipeline")
}

func TestBuiltinHandlerHonorsCancellation(t *testing.T) {
	h := BuiltinHandlers(5 * time.Second)[0]
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Execute(ctx, NewAction("c", "restart", "low"))
	assert.Error(t, err)
}
