// Package learning turns repair outcomes into success-rate statistics and
// predictive insights, feeding the results back into diagnosis confidence.
//
// State is in-memory; Snapshot/Restore expose a serializable shape so an
// external store can persist it (the storage mechanism is not defined
// here).
package learning

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentinelops/autonomic/internal/repair"
)

const (
	// DefaultMinSamples is how many outcomes a pattern needs before it can
	// produce an insight.
	DefaultMinSamples = 3

	// DefaultConfidenceThreshold is the success rate below which a pattern
	// becomes an insight.
	DefaultConfidenceThreshold = 0.7

	// DefaultRetentionDays is how long inactive patterns are kept.
	DefaultRetentionDays = 30

	// errorSampleCap bounds the recent-error list per pattern.
	errorSampleCap = 5
)

// Pattern aggregates outcomes for one (component, action_type) pair.
type Pattern struct {
	Component    string    `json:"component"`
	ActionType   string    `json:"action_type"`
	Frequency    int       `json:"frequency"`
	Successes    int       `json:"successes"`
	SuccessRate  float64   `json:"success_rate"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	RecentErrors []string  `json:"recent_errors,omitempty"`
}

// Key identifies the pattern for an action.
func Key(component, actionType string) string {
	return component + "/" + actionType
}

// Rule is a diagnostic rule whose confidence tracks the success rate of
// its associated pattern.
type Rule struct {
	ID         string  `json:"rule_id"`
	Component  string  `json:"component"`
	Condition  string  `json:"condition"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// RiskLevel tags an insight.
type RiskLevel string

const (
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Insight flags a pattern whose remediation keeps underperforming.
type Insight struct {
	ID             string    `json:"id"`
	Component      string    `json:"component"`
	ActionType     string    `json:"action_type"`
	SuccessRate    float64   `json:"success_rate"`
	Risk           RiskLevel `json:"risk_level"`
	Recommendation string    `json:"recommendation"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Config tunes the learning engine. Zero values take the defaults above.
type Config struct {
	MinSamples          int
	ConfidenceThreshold float64
	RetentionDays       int
}

// Engine owns the pattern map and rule confidences. Safe for concurrent
// use; only AnalyzeOutcome mutates patterns.
type Engine struct {
	log    *zap.Logger
	config Config

	mu       sync.RWMutex
	patterns map[string]*Pattern
	rules    map[string]*Rule
	insights []Insight
}

// NewEngine creates a learning engine.
func NewEngine(log *zap.Logger, config Config) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if config.MinSamples <= 0 {
		config.MinSamples = DefaultMinSamples
	}
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = DefaultRetentionDays
	}
	return &Engine{
		log:      log,
		config:   config,
		patterns: make(map[string]*Pattern),
		rules:    make(map[string]*Rule),
	}
}

// RegisterRule adds a diagnostic rule whose confidence will track the
// pattern keyed by (component, action).
func (e *Engine) RegisterRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	e.rules[r.ID] = &r
}

// AnalyzeOutcome folds one terminal repair action into the statistics:
// frequency, recomputed success rate, bounded novel error samples, and the
// confidence of every rule matching the pattern.
func (e *Engine) AnalyzeOutcome(action *repair.Action) {
	if action == nil || !action.Status.Terminal() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	key := Key(action.Component, action.Type)
	p, ok := e.patterns[key]
	if !ok {
		p = &Pattern{
			Component:  action.Component,
			ActionType: action.Type,
			FirstSeen:  now,
		}
		e.patterns[key] = p
	}

	p.Frequency++
	if action.Succeeded() {
		p.Successes++
	}
	p.SuccessRate = float64(p.Successes) / float64(p.Frequency)
	p.LastSeen = now

	if action.Error != "" {
		novel := true
		for _, sample := range p.RecentErrors {
			if sample == action.Error {
				novel = false
				break
			}
		}
		if novel {
			p.RecentErrors = append(p.RecentErrors, action.Error)
			if len(p.RecentErrors) > errorSampleCap {
				p.RecentErrors = p.RecentErrors[len(p.RecentErrors)-errorSampleCap:]
			}
		}
	}

	for _, r := range e.rules {
		if r.Component == action.Component && r.Action == action.Type {
			r.Confidence = p.SuccessRate
		}
	}

	e.log.Debug("outcome analyzed",
		zap.String("pattern", key),
		zap.Int("frequency", p.Frequency),
		zap.Float64("success_rate", p.SuccessRate))
}

// PredictiveInsights regenerates and returns insights for every pattern
// with enough samples and a success rate below the confidence threshold.
func (e *Engine) PredictiveInsights() []Insight {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.insights = e.insights[:0]
	for _, p := range e.patterns {
		if p.Frequency < e.config.MinSamples || p.SuccessRate >= e.config.ConfidenceThreshold {
			continue
		}
		risk := RiskMedium
		if p.SuccessRate < 0.5 {
			risk = RiskHigh
		}
		e.insights = append(e.insights, Insight{
			ID:          uuid.NewString(),
			Component:   p.Component,
			ActionType:  p.ActionType,
			SuccessRate: p.SuccessRate,
			Risk:        risk,
			Recommendation: fmt.Sprintf(
				"%s on %s succeeds only %.0f%% of the time; component needs proactive attention",
				p.ActionType, p.Component, p.SuccessRate*100),
			GeneratedAt: now,
		})
	}

	sort.Slice(e.insights, func(i, j int) bool {
		return e.insights[i].SuccessRate < e.insights[j].SuccessRate
	})

	out := make([]Insight, len(e.insights))
	copy(out, e.insights)
	return out
}

// Confidence returns the success rate for a (component, action_type) pair,
// or 1.0 when the pair has never been observed.
func (e *Engine) Confidence(component, actionType string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.patterns[Key(component, actionType)]; ok {
		return p.SuccessRate
	}
	return 1.0
}

// Pattern returns a copy of the pattern for a (component, action_type)
// pair.
func (e *Engine) Pattern(component, actionType string) (Pattern, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.patterns[Key(component, actionType)]
	if !ok {
		return Pattern{}, false
	}
	return *p, true
}

// Patterns returns copies of all patterns, sorted by key.
func (e *Engine) Patterns() []Pattern {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Pattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return Key(out[i].Component, out[i].ActionType) < Key(out[j].Component, out[j].ActionType)
	})
	return out
}

// Rules returns copies of all registered rules.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cleanup removes patterns (and their derived insights) that have been
// inactive past the retention window. It returns how many patterns were
// pruned.
func (e *Engine) Cleanup(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now.AddDate(0, 0, -e.config.RetentionDays)
	pruned := 0
	for key, p := range e.patterns {
		if p.LastSeen.Before(cutoff) {
			delete(e.patterns, key)
			pruned++
		}
	}

	if pruned > 0 {
		kept := e.insights[:0]
		for _, in := range e.insights {
			if _, ok := e.patterns[Key(in.Component, in.ActionType)]; ok {
				kept = append(kept, in)
			}
		}
		e.insights = kept
		e.log.Info("pruned stale learning patterns", zap.Int("pruned", pruned))
	}
	return pruned
}
