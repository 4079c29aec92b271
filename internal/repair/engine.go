package repair

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sentinelops/autonomic/internal/authz"
)

const (
	// DefaultMaxConcurrent is the default cap on simultaneous repairs.
	DefaultMaxConcurrent = 3

	// historyCap bounds the retained terminal actions.
	historyCap = 100
)

// Sentinel errors returned by Execute. Callers switch on these; reasons for
// humans live on the action itself.
var (
	ErrCapacityExhausted   = errors.New("repair capacity exhausted")
	ErrAuthorizationDenied = errors.New("repair authorization denied")
	ErrUnknownActionType   = errors.New("unknown action type")
	ErrNotPending          = errors.New("action is not pending")
	ErrHandlerFailed       = errors.New("repair handler failed")
)

// Handler executes one kind of remediation. Implementations must be
// idempotent and side-effect-isolated: a failing handler may only affect
// its own action. Execute should honor ctx cancellation at its internal
// wait points, but is not forcibly interrupted.
type Handler interface {
	Type() string
	Execute(ctx context.Context, action *Action) (string, error)
}

// Config tunes the repair engine.
type Config struct {
	// MaxConcurrent caps simultaneous InProgress actions; <=0 means default.
	MaxConcurrent int

	// DispatchRate limits handler dispatches per second; 0 disables the
	// limiter. Burst defaults to the ceiling of the rate.
	DispatchRate  float64
	DispatchBurst int
}

// Engine runs repair actions. Safe for concurrent use; Execute blocks for
// the duration of the handler.
type Engine struct {
	gate     authz.Gate
	log      *zap.Logger
	handlers map[string]Handler
	sem      *semaphore.Weighted
	limiter  *rate.Limiter

	mu      sync.Mutex
	active  map[string]*running
	history []Action

	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

// running pairs an in-flight action with its cancellation hook.
type running struct {
	action *Action
	cancel context.CancelFunc
}

// Stats summarizes engine activity.
type Stats struct {
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// NewEngine creates a repair engine with a closed handler set. The handler
// table is checked exhaustively here: a nil handler, empty type, or
// duplicate registration fails construction rather than surfacing at
// dispatch time.
func NewEngine(gate authz.Gate, log *zap.Logger, config Config, handlers ...Handler) (*Engine, error) {
	if gate == nil {
		gate = authz.AllowAll{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}

	table := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		if h == nil {
			return nil, errors.New("nil repair handler")
		}
		if h.Type() == "" {
			return nil, errors.New("repair handler with empty action type")
		}
		if _, dup := table[h.Type()]; dup {
			return nil, fmt.Errorf("duplicate repair handler for action type %q", h.Type())
		}
		table[h.Type()] = h
	}

	var limiter *rate.Limiter
	if config.DispatchRate > 0 {
		burst := config.DispatchBurst
		if burst <= 0 {
			burst = int(config.DispatchRate) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.DispatchRate), burst)
	}

	return &Engine{
		gate:     gate,
		log:      log,
		handlers: table,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrent)),
		limiter:  limiter,
		active:   make(map[string]*running),
	}, nil
}

// Execute runs the action to a terminal state. The returned error is nil
// only when the action Completed. ErrCapacityExhausted means the submission
// was rejected and the action remains Pending; every other path leaves the
// action terminal with a human-readable reason.
func (e *Engine) Execute(ctx context.Context, action *Action) error {
	if action.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, action.ID, action.Status)
	}

	query := fmt.Sprintf("repair %s %s", action.Component, action.Type)
	decision, err := e.gate.Validate(ctx, query, authz.OpRepair, true)
	if err != nil || !decision.Approved {
		reason := decision.Reason
		if err != nil {
			reason = err.Error()
		}
		e.finalize(action, StatusFailed, "", "authorization denied: "+reason)
		e.log.Warn("repair denied",
			zap.String("action_id", action.ID),
			zap.String("action_type", action.Type),
			zap.String("reason", reason))
		return fmt.Errorf("%w: %s", ErrAuthorizationDenied, reason)
	}

	handler, ok := e.handlers[action.Type]
	if !ok {
		e.finalize(action, StatusFailed, "", fmt.Sprintf("unknown action type %q", action.Type))
		return fmt.Errorf("%w: %q", ErrUnknownActionType, action.Type)
	}

	// Reject, never queue: the caller throttles submission.
	if !e.sem.TryAcquire(1) {
		return ErrCapacityExhausted
	}
	defer e.sem.Release(1)

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			e.finalize(action, StatusFailed, "", fmt.Sprintf("dispatch rate limit: %v", err))
			return fmt.Errorf("%w: rate limit wait: %v", ErrHandlerFailed, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	action.Status = StatusInProgress
	action.StartedAt = time.Now()
	e.active[action.ID] = &running{action: action, cancel: cancel}
	e.mu.Unlock()

	e.log.Info("repair started",
		zap.String("action_id", action.ID),
		zap.String("component", action.Component),
		zap.String("action_type", action.Type))

	result, handlerErr := runHandler(runCtx, handler, action)

	if handlerErr != nil {
		// A handler aborted by context cancellation is a cancelled repair,
		// not a failed one: Stop tears loops down this way.
		if errors.Is(runCtx.Err(), context.Canceled) {
			if e.finalize(action, StatusCancelled, "", "cancelled: "+handlerErr.Error()) {
				e.cancelled.Add(1)
			}
			e.log.Info("repair cancelled mid-flight", zap.String("action_id", action.ID))
			return fmt.Errorf("%w: action %s was cancelled", ErrHandlerFailed, action.ID)
		}
		e.finalize(action, StatusFailed, "", handlerErr.Error())
		e.log.Warn("repair failed",
			zap.String("action_id", action.ID),
			zap.String("action_type", action.Type),
			zap.Error(handlerErr))
		return fmt.Errorf("%w: %v", ErrHandlerFailed, handlerErr)
	}

	if e.finalize(action, StatusCompleted, result, "") {
		e.log.Info("repair completed",
			zap.String("action_id", action.ID),
			zap.String("action_type", action.Type))
		return nil
	}
	// Cancelled mid-flight: the terminal state was already recorded.
	return fmt.Errorf("%w: action %s was cancelled", ErrHandlerFailed, action.ID)
}

// Cancel marks an active action Cancelled and removes it from the active
// set. It returns false when the action is unknown or already terminal.
// The handler is asked to stop via its context but is not interrupted;
// partial side effects may remain.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	entry, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.active, id)
	entry.action.Status = StatusCancelled
	entry.action.CompletedAt = time.Now()
	entry.action.Error = "cancelled by operator"
	e.appendHistoryLocked(*entry.action)
	e.mu.Unlock()

	entry.cancel()
	e.cancelled.Add(1)
	e.log.Info("repair cancelled", zap.String("action_id", id))
	return true
}

// CancelAll cancels every active action and returns how many were affected.
func (e *Engine) CancelAll() int {
	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	n := 0
	for _, id := range ids {
		if e.Cancel(id) {
			n++
		}
	}
	return n
}

// Status looks up an action by ID, active set first, then history.
func (e *Engine) Status(id string) (Action, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.active[id]; ok {
		return *entry.action, true
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == id {
			return e.history[i], true
		}
	}
	return Action{}, false
}

// Active returns copies of the in-flight actions.
func (e *Engine) Active() []Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Action, 0, len(e.active))
	for _, entry := range e.active {
		out = append(out, *entry.action)
	}
	return out
}

// ActiveCount returns the number of in-flight actions.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// History returns the retained terminal actions, oldest first.
func (e *Engine) History() []Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Action, len(e.history))
	copy(out, e.history)
	return out
}

// ActionTypes returns the registered handler types.
func (e *Engine) ActionTypes() []string {
	out := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		out = append(out, t)
	}
	return out
}

// GetStats returns a snapshot of engine counters.
func (e *Engine) GetStats() Stats {
	return Stats{
		Active:    e.ActiveCount(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		Cancelled: e.cancelled.Load(),
	}
}

// finalize moves an action to a terminal state and into history. It
// returns false when the action already reached a terminal state (a
// concurrent Cancel won), in which case nothing is changed.
func (e *Engine) finalize(action *Action, status Status, result, errMsg string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if action.Status.Terminal() {
		return false
	}
	delete(e.active, action.ID)
	action.Status = status
	action.CompletedAt = time.Now()
	action.Result = result
	action.Error = errMsg
	e.appendHistoryLocked(*action)

	switch status {
	case StatusCompleted:
		e.completed.Add(1)
	case StatusFailed:
		e.failed.Add(1)
	}
	return true
}

func (e *Engine) appendHistoryLocked(a Action) {
	e.history = append(e.history, a)
	if len(e.history) > historyCap {
		e.history = e.history[len(e.history)-historyCap:]
	}
}

// runHandler invokes a handler with panic recovery so a crashing handler
// fails only its own action.
func runHandler(ctx context.Context, h Handler, action *Action) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Execute(ctx, action)
}
