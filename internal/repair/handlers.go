package repair

import (
	"context"
	"fmt"
	"time"
)

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	Name string
	Fn   func(ctx context.Context, action *Action) (string, error)
}

func (h HandlerFunc) Type() string { return h.Name }

func (h HandlerFunc) Execute(ctx context.Context, action *Action) (string, error) {
	return h.Fn(ctx, action)
}

// waitHandler is the built-in remediation shape: a context-aware wait that
// stands in for the external call (process restart, buffer flush, ...),
// then a result message. The wait is the handler's suspension point; a
// cancelled context aborts it.
type waitHandler struct {
	name   string
	wait   time.Duration
	result string
}

func (h *waitHandler) Type() string { return h.name }

func (h *waitHandler) Execute(ctx context.Context, action *Action) (string, error) {
	if h.wait > 0 {
		timer := time.NewTimer(h.wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%s interrupted: %w", h.name, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Sprintf(h.result, action.Component), nil
}

// BuiltinHandlers returns the default remediation set. The wait scales a
// nominal per-action duration; pass 0 for immediate completion (tests).
func BuiltinHandlers(wait time.Duration) []Handler {
	return []Handler{
		&waitHandler{name: "restart", wait: wait, result: "restarted %s"},
		&waitHandler{name: "buffer_reset", wait: wait / 2, result: "reset buffers of %s"},
		&waitHandler{name: "isolate", wait: wait / 2, result: "isolated %s from traffic"},
		&waitHandler{name: "reconnect", wait: wait, result: "re-established connections for %s"},
		&waitHandler{name: "clear_cache", wait: wait / 4, result: "cleared caches of %s"},
	}
}
