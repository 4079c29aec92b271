// Package predict implements trend-based risk scoring with pre-emptive
// remediation. It runs independently of the diagnostic cycle: health
// samples stream into fixed-capacity per-module ring buffers, each scan
// recomputes a 0-100 risk score from the window's trend, and a score at or
// above the prevention threshold triggers a repair before the module
// actually fails.
package predict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelops/autonomic/internal/repair"
)

const (
	// WindowCap is the fixed capacity of each module's sample ring.
	WindowCap = 50

	// minSamples is how many samples a trend needs before risk is scored.
	minSamples = 3

	// DefaultPreventionThreshold triggers pre-emptive repair at this risk.
	DefaultPreventionThreshold = 70

	// eventCap bounds the retained prevention events.
	eventCap = 200
)

// Sample is one health observation for a module.
type Sample struct {
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Score     int       `json:"health_score"`

	// Optional probe measurements.
	Load      float64 `json:"load,omitempty"`
	Latency   float64 `json:"latency_ms,omitempty"`
	ErrorRate float64 `json:"error_rate,omitempty"`
}

// ModuleStatus is the operational state the predictor reports per module.
type ModuleStatus string

const (
	StatusOperational ModuleStatus = "operational"
	StatusRepairing   ModuleStatus = "repairing"
)

// PreventionEvent records a pre-emptive repair triggered by risk score
// rather than by a detected issue.
type PreventionEvent struct {
	Module     string    `json:"module"`
	Risk       int       `json:"risk"`
	ActionType string    `json:"action_type"`
	Succeeded  bool      `json:"succeeded"`
	Timestamp  time.Time `json:"timestamp"`
}

// OutcomeSink receives the prevention action's terminal outcome, exactly
// as a normal repair outcome would be analyzed. The learning engine
// satisfies this.
type OutcomeSink interface {
	AnalyzeOutcome(action *repair.Action)
}

// window is a fixed-capacity ring of samples, oldest evicted first.
type window struct {
	samples [WindowCap]Sample
	next    int
	full    bool
}

func (w *window) push(s Sample) {
	w.samples[w.next] = s
	w.next++
	if w.next >= WindowCap {
		w.next = 0
		w.full = true
	}
}

func (w *window) len() int {
	if w.full {
		return WindowCap
	}
	return w.next
}

// ordered returns the samples oldest first.
func (w *window) ordered() []Sample {
	n := w.len()
	out := make([]Sample, 0, n)
	if w.full {
		out = append(out, w.samples[w.next:]...)
	}
	out = append(out, w.samples[:w.next]...)
	return out
}

// Engine is the predictive risk engine. Safe for concurrent use; only
// RecordSample mutates the ring buffers.
type Engine struct {
	log      *zap.Logger
	repairs  *repair.Engine
	learning OutcomeSink

	threshold      int
	defaultActions map[string]string
	fallbackAction string

	mu       sync.RWMutex
	windows  map[string]*window
	statuses map[string]ModuleStatus
	risks    map[string]int
	events   []PreventionEvent
}

// Config tunes the predictive engine.
type Config struct {
	// PreventionThreshold is the risk score at which pre-emptive repair
	// fires; <=0 means default.
	PreventionThreshold int

	// DefaultActions maps module name to the action type used for its
	// pre-emptive repair. Unlisted modules use FallbackAction.
	DefaultActions map[string]string

	// FallbackAction is used when a module has no specific default;
	// empty means "restart".
	FallbackAction string
}

// NewEngine creates a predictive risk engine. The repair engine is
// required; the outcome sink may be nil.
func NewEngine(log *zap.Logger, repairs *repair.Engine, learning OutcomeSink, config Config) (*Engine, error) {
	if repairs == nil {
		return nil, errors.New("predict: repair engine is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if config.PreventionThreshold <= 0 {
		config.PreventionThreshold = DefaultPreventionThreshold
	}
	if config.FallbackAction == "" {
		config.FallbackAction = "restart"
	}
	actions := make(map[string]string, len(config.DefaultActions))
	for k, v := range config.DefaultActions {
		actions[k] = v
	}
	return &Engine{
		log:            log,
		repairs:        repairs,
		learning:       learning,
		threshold:      config.PreventionThreshold,
		defaultActions: actions,
		fallbackAction: config.FallbackAction,
		windows:        make(map[string]*window),
		statuses:       make(map[string]ModuleStatus),
		risks:          make(map[string]int),
	}, nil
}

// RecordSample appends a health sample to the module's ring buffer.
func (e *Engine) RecordSample(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[s.Module]
	if !ok {
		w = &window{}
		e.windows[s.Module] = w
		e.statuses[s.Module] = StatusOperational
	}
	w.push(s)
}

// ComputeRisk scores the module's current window. Fewer than three samples
// score 0; otherwise the health delta across the window is bucketed —
// the steeper the decline, the higher the risk.
func (e *Engine) ComputeRisk(module string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.windows[module]
	if !ok {
		return 0
	}
	return riskFromWindow(w)
}

func riskFromWindow(w *window) int {
	if w.len() < minSamples {
		return 0
	}
	samples := w.ordered()
	delta := samples[len(samples)-1].Score - samples[0].Score
	switch {
	case delta < -15:
		return 95
	case delta < -10:
		return 90
	case delta < -5:
		return 75
	case delta < -2:
		return 60
	default:
		return 10 // stable or improving
	}
}

// Scan recomputes every module's risk and fires pre-emptive repair for
// those at or above the prevention threshold. It returns the modules that
// were remediated this pass.
func (e *Engine) Scan(ctx context.Context) []string {
	e.mu.Lock()
	type candidate struct {
		module string
		risk   int
	}
	var candidates []candidate
	for module, w := range e.windows {
		risk := riskFromWindow(w)
		e.risks[module] = risk
		if risk >= e.threshold && e.statuses[module] == StatusOperational {
			candidates = append(candidates, candidate{module: module, risk: risk})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].module < candidates[j].module })
	e.mu.Unlock()

	var prevented []string
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		if e.preventFailure(ctx, c.module, c.risk) {
			prevented = append(prevented, c.module)
		}
	}
	return prevented
}

// preventFailure runs the pre-emptive repair path for one module: mark it
// repairing, execute its default action through the repair engine, record
// the prevention event, restore operational status, and hand the outcome
// to the learning sink like any other repair.
func (e *Engine) preventFailure(ctx context.Context, module string, risk int) bool {
	actionType, ok := e.defaultActions[module]
	if !ok {
		actionType = e.fallbackAction
	}

	e.mu.Lock()
	e.statuses[module] = StatusRepairing
	e.mu.Unlock()

	action := repair.NewAction(module, actionType, "high")
	err := e.repairs.Execute(ctx, action)

	e.mu.Lock()
	e.statuses[module] = StatusOperational
	e.events = append(e.events, PreventionEvent{
		Module:     module,
		Risk:       risk,
		ActionType: actionType,
		Succeeded:  err == nil,
		Timestamp:  time.Now(),
	})
	if len(e.events) > eventCap {
		e.events = e.events[len(e.events)-eventCap:]
	}
	e.mu.Unlock()

	if errors.Is(err, repair.ErrCapacityExhausted) {
		// Rejected, not executed: nothing for the learning engine.
		e.log.Warn("prevention skipped, repair capacity exhausted",
			zap.String("module", module), zap.Int("risk", risk))
		return false
	}
	if e.learning != nil {
		e.learning.AnalyzeOutcome(action)
	}

	if err != nil {
		e.log.Warn("prevention repair failed",
			zap.String("module", module),
			zap.Int("risk", risk),
			zap.Error(err))
		return false
	}
	e.log.Info("pre-emptive repair executed",
		zap.String("module", module),
		zap.Int("risk", risk),
		zap.String("action_type", actionType))
	return true
}

// Risk returns the last computed risk for a module (0 if never scanned).
func (e *Engine) Risk(module string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.risks[module]
}

// Risks returns the last computed risk per module.
func (e *Engine) Risks() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int, len(e.risks))
	for k, v := range e.risks {
		out[k] = v
	}
	return out
}

// ModuleState returns the predictor's status for a module.
func (e *Engine) ModuleState(module string) ModuleStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.statuses[module]; ok {
		return s
	}
	return StatusOperational
}

// Events returns the retained prevention events, oldest first.
func (e *Engine) Events() []PreventionEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PreventionEvent, len(e.events))
	copy(out, e.events)
	return out
}

// Window returns the module's current samples, oldest first.
func (e *Engine) Window(module string) []Sample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.windows[module]
	if !ok {
		return nil
	}
	return w.ordered()
}

// String implements fmt.Stringer for log-friendly summaries.
func (e *Engine) String() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("predict.Engine{modules: %d, events: %d}", len(e.windows), len(e.events))
}
