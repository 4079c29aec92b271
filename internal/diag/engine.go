package diag

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelops/autonomic/internal/authz"
)

const (
	// DefaultProbeWorkers caps how many probes run at once in one cycle.
	DefaultProbeWorkers = 4

	// historyCap bounds the retained diagnostic runs.
	historyCap = 50
)

// Report is what a health probe returns for its component.
type Report struct {
	// Score is the component's own health estimate in [0,100].
	Score int

	// Issues lists problems the probe detected. The engine fills in the
	// Component and DetectedAt fields if the probe left them empty.
	Issues []Issue

	// Metrics carries optional probe measurements (load, latency, ...).
	Metrics map[string]float64
}

// ProbeFunc checks the health of a single named component. A returned error
// (or a panic) is converted into one diagnostic_error issue for that
// component and never aborts the rest of the cycle.
type ProbeFunc func(ctx context.Context) (Report, error)

// Result is the outcome of one diagnostic cycle.
type Result struct {
	Issues   []Issue       `json:"issues"`
	Health   SystemHealth  `json:"health"`
	Duration time.Duration `json:"duration"`
}

// Config tunes the diagnostic engine.
type Config struct {
	// ProbeWorkers bounds concurrent probe execution; <=0 means default.
	ProbeWorkers int

	// ProbeTimeout applies per probe invocation; <=0 disables it.
	ProbeTimeout time.Duration
}

// Engine runs registered component probes and aggregates their findings.
// Safe for concurrent use.
type Engine struct {
	gate   authz.Gate
	log    *zap.Logger
	config Config

	mu      sync.RWMutex
	probes  map[string]ProbeFunc
	names   []string
	history []Result
}

// NewEngine creates a diagnostic engine. A nil gate means allow-all; a nil
// logger means no-op logging.
func NewEngine(gate authz.Gate, log *zap.Logger, config Config) *Engine {
	if gate == nil {
		gate = authz.AllowAll{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if config.ProbeWorkers <= 0 {
		config.ProbeWorkers = DefaultProbeWorkers
	}
	return &Engine{
		gate:   gate,
		log:    log,
		config: config,
		probes: make(map[string]ProbeFunc),
	}
}

// Register adds or replaces the probe for a component.
func (e *Engine) Register(component string, probe ProbeFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.probes[component]; !exists {
		e.names = append(e.names, component)
		sort.Strings(e.names)
	}
	e.probes[component] = probe
}

// Components returns the registered component names in sorted order.
func (e *Engine) Components() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// Run executes one diagnostic cycle. With target == "" every registered
// component is probed; otherwise only the named one. Probes run
// concurrently and their order is not significant; results are sorted by
// component before scoring so output is deterministic.
func (e *Engine) Run(ctx context.Context, target string) (*Result, error) {
	start := time.Now()

	decision, err := e.gate.Validate(ctx, "run system diagnostics", authz.OpDiagnostic, true)
	if err != nil || !decision.Approved {
		reason := decision.Reason
		if err != nil {
			reason = err.Error()
		}
		e.log.Warn("diagnostics denied by authorization gate", zap.String("reason", reason))
		return e.finishRun(start, []Issue{{
			Component:   "diagnostic_engine",
			Type:        IssueTypeDiagnosticError,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("authorization denied: %s", reason),
			DetectedAt:  time.Now(),
		}}, nil), nil
	}

	targets, probes, err := e.selectProbes(target)
	if err != nil {
		return nil, err
	}

	type probeOutcome struct {
		component string
		report    Report
		err       error
	}

	outcomes := make([]probeOutcome, len(targets))
	sem := make(chan struct{}, e.config.ProbeWorkers)
	var wg sync.WaitGroup

	for i, component := range targets {
		wg.Add(1)
		go func(slot int, name string, probe ProbeFunc) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			probeCtx := ctx
			if e.config.ProbeTimeout > 0 {
				var cancel context.CancelFunc
				probeCtx, cancel = context.WithTimeout(ctx, e.config.ProbeTimeout)
				defer cancel()
			}

			report, probeErr := runProbe(probeCtx, probe)
			outcomes[slot] = probeOutcome{component: name, report: report, err: probeErr}
		}(i, component, probes[i])
	}
	wg.Wait()

	now := time.Now()
	var issues []Issue
	components := make(map[string]int, len(targets))

	for _, out := range outcomes {
		if out.err != nil {
			components[out.component] = 0
			issues = append(issues, Issue{
				Component:   out.component,
				Type:        IssueTypeDiagnosticError,
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("health probe failed: %v", out.err),
				DetectedAt:  now,
			})
			e.log.Warn("health probe failed",
				zap.String("component", out.component),
				zap.Error(out.err))
			continue
		}

		components[out.component] = clampScore(out.report.Score)
		for _, is := range out.report.Issues {
			if is.Component == "" {
				is.Component = out.component
			}
			if is.DetectedAt.IsZero() {
				is.DetectedAt = now
			}
			issues = append(issues, is)
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Component != issues[j].Component {
			return issues[i].Component < issues[j].Component
		}
		return issues[i].Type < issues[j].Type
	})

	result := e.finishRun(start, issues, components)
	e.log.Info("diagnostic cycle complete",
		zap.Int("components", len(targets)),
		zap.Int("issues", len(issues)),
		zap.Int("score", result.Health.OverallScore),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// History returns the retained diagnostic results, oldest first.
func (e *Engine) History() []Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Result, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) selectProbes(target string) ([]string, []ProbeFunc, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if target != "" {
		probe, ok := e.probes[target]
		if !ok {
			return nil, nil, fmt.Errorf("no probe registered for component %q", target)
		}
		return []string{target}, []ProbeFunc{probe}, nil
	}

	names := make([]string, len(e.names))
	copy(names, e.names)
	probes := make([]ProbeFunc, len(names))
	for i, name := range names {
		probes[i] = e.probes[name]
	}
	return names, probes, nil
}

func (e *Engine) finishRun(start time.Time, issues []Issue, components map[string]int) *Result {
	if components == nil {
		components = make(map[string]int)
	}
	result := &Result{
		Issues: issues,
		Health: SystemHealth{
			Timestamp:      time.Now(),
			OverallScore:   ScoreIssues(issues),
			Components:     components,
			IssuesDetected: len(issues),
		},
		Duration: time.Since(start),
	}

	e.mu.Lock()
	e.history = append(e.history, *result)
	if len(e.history) > historyCap {
		e.history = e.history[len(e.history)-historyCap:]
	}
	e.mu.Unlock()
	return result
}

// runProbe invokes a probe with panic recovery so one misbehaving probe
// cannot take down the cycle.
func runProbe(ctx context.Context, probe ProbeFunc) (report Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return probe(ctx)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
