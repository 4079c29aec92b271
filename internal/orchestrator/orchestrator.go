// Package orchestrator owns the two control loops and wires the engines
// together: diagnostics feed the policy matcher, matched policies feed the
// repair engine, repair outcomes feed the learning engine, and the
// predictive loop runs its own scan against the same repair engine.
//
// All cross-engine effects flow through these explicit calls; no engine
// mutates another's state directly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelops/autonomic/internal/authz"
	"github.com/sentinelops/autonomic/internal/diag"
	"github.com/sentinelops/autonomic/internal/learning"
	"github.com/sentinelops/autonomic/internal/metrics"
	"github.com/sentinelops/autonomic/internal/policy"
	"github.com/sentinelops/autonomic/internal/predict"
	"github.com/sentinelops/autonomic/internal/repair"
)

// Config tunes the orchestrator's loops.
type Config struct {
	// Mode is the operating mode applied to policy evaluation.
	Mode policy.Mode

	// DiagnosticInterval is the diagnostic loop period; <=0 means 60s.
	DiagnosticInterval time.Duration

	// PredictiveInterval is the predictive loop period; <=0 means 5s.
	PredictiveInterval time.Duration

	// ErrorBackoff is the shortened delay after a recovered loop failure;
	// <=0 means 5s.
	ErrorBackoff time.Duration
}

// Deps are the engines the orchestrator coordinates. Gate, Sink, Metrics,
// and Log are optional; the engines are not.
type Deps struct {
	Gate     authz.Gate
	Diag     *diag.Engine
	Policies *policy.Table
	Repairs  *repair.Engine
	Learning *learning.Engine
	Predict  *predict.Engine
	Sink     policy.Sink
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// Orchestrator runs the diagnostic and predictive loops over shared
// engines. Start/Stop are safe to call from any goroutine; Start is
// one-shot per instance.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	diagLoop *loop
	predLoop *loop

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	healthMu   sync.RWMutex
	lastHealth *diag.SystemHealth
}

// Status is a point-in-time summary for operators.
type Status struct {
	Mode            policy.Mode        `json:"mode"`
	DiagnosticState string             `json:"diagnostic_loop"`
	PredictiveState string             `json:"predictive_loop"`
	LastHealth      *diag.SystemHealth `json:"last_health,omitempty"`
	Repairs         repair.Stats       `json:"repairs"`
	Patterns        int                `json:"learning_patterns"`
	Risks           map[string]int     `json:"risks"`
	ActiveRepairs   []repair.Action    `json:"active_repairs,omitempty"`
	Insights        []learning.Insight `json:"insights,omitempty"`
}

// New creates an orchestrator over the given engines.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Diag == nil || deps.Policies == nil || deps.Repairs == nil ||
		deps.Learning == nil || deps.Predict == nil {
		return nil, errors.New("orchestrator: all engines are required")
	}
	if deps.Gate == nil {
		deps.Gate = authz.AllowAll{}
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Sink == nil {
		deps.Sink = policy.LogSink{Log: deps.Log}
	}
	if !cfg.Mode.Valid() {
		cfg.Mode = policy.ModeAggressive
	}
	if cfg.DiagnosticInterval <= 0 {
		cfg.DiagnosticInterval = time.Minute
	}
	if cfg.PredictiveInterval <= 0 {
		cfg.PredictiveInterval = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}

	// Every action type the policy table can propose must have a handler
	// now, not when the proposal first fires.
	registered := make(map[string]struct{})
	for _, a := range deps.Repairs.ActionTypes() {
		registered[a] = struct{}{}
	}
	for _, a := range deps.Policies.Actions() {
		if _, ok := registered[a]; !ok {
			return nil, fmt.Errorf("policy table proposes action %q with no registered handler", a)
		}
	}

	o := &Orchestrator{cfg: cfg, deps: deps, log: deps.Log}

	o.diagLoop = &loop{
		name:     "diagnostic",
		interval: cfg.DiagnosticInterval,
		backoff:  cfg.ErrorBackoff,
		tick:     o.diagnosticTick,
		log:      deps.Log,
		onError:  o.loopErrorCounter("diagnostic"),
	}
	o.predLoop = &loop{
		name:     "predictive",
		interval: cfg.PredictiveInterval,
		backoff:  cfg.ErrorBackoff,
		tick:     o.predictiveTick,
		log:      deps.Log,
		onError:  o.loopErrorCounter("predictive"),
	}
	return o, nil
}

// Start validates authorization once and launches both loops as
// independent concurrent tasks.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("orchestrator already started")
	}

	decision, err := o.deps.Gate.Validate(ctx, "start self-healing loops", authz.OpLifecycle, true)
	if err != nil {
		return fmt.Errorf("authorization gate: %w", err)
	}
	if !decision.Approved {
		return fmt.Errorf("start denied by authorization gate: %s", decision.Reason)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.started = true

	for _, l := range []*loop{o.diagLoop, o.predLoop} {
		o.wg.Add(1)
		go func(l *loop) {
			defer o.wg.Done()
			l.run(loopCtx)
		}(l)
	}

	o.log.Info("self-healing loops started",
		zap.String("mode", string(o.cfg.Mode)),
		zap.Duration("diagnostic_interval", o.cfg.DiagnosticInterval),
		zap.Duration("predictive_interval", o.cfg.PredictiveInterval))
	return nil
}

// Stop cancels both loops and every active repair. Cancellation is
// cooperative: handlers are asked to stop and marked Cancelled, not
// forcibly interrupted.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	cancelled := o.deps.Repairs.CancelAll()
	o.log.Info("self-healing loops stopped", zap.Int("repairs_cancelled", cancelled))
}

// Status reports the current state of the loops and engines.
func (o *Orchestrator) Status() Status {
	o.healthMu.RLock()
	health := o.lastHealth
	o.healthMu.RUnlock()

	return Status{
		Mode:            o.cfg.Mode,
		DiagnosticState: o.diagLoop.State().String(),
		PredictiveState: o.predLoop.State().String(),
		LastHealth:      health,
		Repairs:         o.deps.Repairs.GetStats(),
		Patterns:        len(o.deps.Learning.Patterns()),
		Risks:           o.deps.Predict.Risks(),
		ActiveRepairs:   o.deps.Repairs.Active(),
		Insights:        o.deps.Learning.PredictiveInsights(),
	}
}

// RunDiagnosticCycle runs one diagnostic tick outside the loop schedule.
// The CLI's one-shot diagnose path uses this.
func (o *Orchestrator) RunDiagnosticCycle(ctx context.Context) (*diag.Result, error) {
	result, err := o.deps.Diag.Run(ctx, "")
	if err != nil {
		return nil, err
	}
	o.applyResult(ctx, result)
	return result, nil
}

// diagnosticTick is one pass of diagnose → match → repair → learn.
func (o *Orchestrator) diagnosticTick(ctx context.Context) error {
	result, err := o.deps.Diag.Run(ctx, "")
	if err != nil {
		o.observeDiagnostics(nil)
		return err
	}
	o.diagLoop.setState(LoopApplying)
	o.applyResult(ctx, result)
	return nil
}

func (o *Orchestrator) applyResult(ctx context.Context, result *diag.Result) {
	o.healthMu.Lock()
	healthCopy := result.Health
	o.lastHealth = &healthCopy
	o.healthMu.Unlock()

	o.observeDiagnostics(result)

	// Every component's score becomes a predictive sample, so the trend
	// window fills even while the system is healthy.
	for component, score := range result.Health.Components {
		o.deps.Predict.RecordSample(predict.Sample{
			Module:    component,
			Timestamp: result.Health.Timestamp,
			Score:     score,
		})
	}

	proposals := o.deps.Policies.Evaluate(result.Issues, o.cfg.Mode)
	for _, p := range proposals {
		if p.Action == policy.ActionEscalate {
			o.escalate(ctx, p, result)
			continue
		}
		if !p.AutoExecute {
			o.log.Info("remediation proposed, awaiting approval",
				zap.String("policy", p.Policy),
				zap.String("component", p.Component),
				zap.String("action_type", p.Action),
				zap.String("priority", string(p.Priority)))
			continue
		}
		o.executeProposal(ctx, p)
	}

	// Periodic learning maintenance rides the diagnostic cadence.
	o.deps.Learning.Cleanup(time.Now())
}

func (o *Orchestrator) executeProposal(ctx context.Context, p policy.Proposal) {
	action := repair.NewAction(p.Component, p.Action, string(p.Priority))
	err := o.deps.Repairs.Execute(ctx, action)
	if errors.Is(err, repair.ErrCapacityExhausted) {
		// Rejected before execution: no outcome to learn from. The next
		// cycle re-evaluates the policy if the issue persists.
		if o.deps.Metrics != nil {
			o.deps.Metrics.RepairRejections.Inc()
		}
		o.log.Warn("repair rejected at capacity",
			zap.String("policy", p.Policy),
			zap.String("component", p.Component))
		return
	}

	o.deps.Learning.AnalyzeOutcome(action)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RepairsTotal.WithLabelValues(action.Type, string(action.Status)).Inc()
	}
}

func (o *Orchestrator) escalate(ctx context.Context, p policy.Proposal, result *diag.Result) {
	esc := policy.Escalation{
		Policy:    p.Policy,
		Component: p.Component,
		Priority:  p.Priority,
		Summary: fmt.Sprintf("%d issues detected, overall score %d",
			len(result.Issues), result.Health.OverallScore),
		RaisedAt: time.Now(),
	}
	if err := o.deps.Sink.Notify(ctx, esc); err != nil {
		o.log.Warn("escalation sink failed", zap.String("policy", p.Policy), zap.Error(err))
		return
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.EscalationsTotal.Inc()
	}
}

// predictiveTick is one pass of the predictive risk scan.
func (o *Orchestrator) predictiveTick(ctx context.Context) error {
	o.predLoop.setState(LoopApplying)
	prevented := o.deps.Predict.Scan(ctx)

	if o.deps.Metrics != nil {
		for module, risk := range o.deps.Predict.Risks() {
			o.deps.Metrics.RiskScore.WithLabelValues(module).Set(float64(risk))
		}
		for range prevented {
			o.deps.Metrics.PreventionsTotal.WithLabelValues("succeeded").Inc()
		}
		o.deps.Metrics.ActiveRepairs.Set(float64(o.deps.Repairs.ActiveCount()))
	}
	return nil
}

func (o *Orchestrator) observeDiagnostics(result *diag.Result) {
	if o.deps.Metrics == nil {
		return
	}
	if result == nil {
		o.deps.Metrics.DiagnosticRuns.WithLabelValues("error").Inc()
		return
	}
	o.deps.Metrics.DiagnosticRuns.WithLabelValues("ok").Inc()
	o.deps.Metrics.HealthScore.Set(float64(result.Health.OverallScore))
	for component, score := range result.Health.Components {
		o.deps.Metrics.ComponentHealth.WithLabelValues(component).Set(float64(score))
	}
	for _, is := range result.Issues {
		o.deps.Metrics.IssuesDetected.WithLabelValues(string(is.Severity)).Inc()
	}
	o.deps.Metrics.ActiveRepairs.Set(float64(o.deps.Repairs.ActiveCount()))
}

func (o *Orchestrator) loopErrorCounter(name string) func() {
	return func() {
		if o.deps.Metrics != nil {
			o.deps.Metrics.LoopErrors.WithLabelValues(name).Inc()
		}
	}
}
