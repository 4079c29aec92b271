// Package policy maps diagnosed issues to candidate remediation actions.
//
// A policy is a predicate over the structured fields of the cycle's issue
// list plus a target action, a priority, and an auto-execute flag. Every
// policy is evaluated every cycle — matching is exhaustive, never
// first-match — so independent remediations can be proposed in one pass.
// Whether a matched policy actually auto-executes is further gated by the
// operating mode.
package policy

import (
	"sort"
	"sync"

	"github.com/sentinelops/autonomic/internal/diag"
)

// Mode controls which matched policies may execute without approval.
type Mode string

const (
	// ModeConservative auto-executes only critical-priority policies.
	ModeConservative Mode = "conservative"
	// ModeStandard auto-executes high and critical priorities.
	ModeStandard Mode = "standard"
	// ModeAggressive auto-executes everything except escalations.
	ModeAggressive Mode = "aggressive"
)

// Valid reports whether m is a known operating mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeConservative, ModeStandard, ModeAggressive:
		return true
	}
	return false
}

// Priority orders proposed remediations. It reuses the severity ranking.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// ActionEscalate hands the matched condition to the escalation sink instead
// of the repair engine. It never auto-executes in any mode.
const ActionEscalate = "escalate"

// Predicate decides whether a policy matches the cycle's issue list.
type Predicate func(issues []diag.Issue) bool

// Policy binds a predicate to a candidate remediation.
type Policy struct {
	Name        string
	Match       Predicate
	Component   string // target component for the synthesized action
	Action      string // repair action type, or ActionEscalate
	Priority    Priority
	AutoExecute bool
}

// Proposal is a matched policy for the current cycle, with the
// mode-resolved auto-execution decision.
type Proposal struct {
	Policy      string   `json:"policy"`
	Component   string   `json:"component"`
	Action      string   `json:"action"`
	Priority    Priority `json:"priority"`
	AutoExecute bool     `json:"auto_execute"`
}

// Table holds named policies. Safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewTable creates an empty policy table.
func NewTable() *Table {
	return &Table{policies: make(map[string]Policy)}
}

// Set adds or replaces a policy under its name.
func (t *Table) Set(p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.policies[p.Name] = p
}

// Delete removes a policy by name.
func (t *Table) Delete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.policies, name)
}

// Len returns the number of registered policies.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.policies)
}

// Actions returns the distinct action types the table can propose, sorted,
// excluding escalation. Startup wiring checks these against the repair
// engine's registered handlers so an unknown action type fails fast rather
// than at proposal time.
func (t *Table) Actions() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{}, len(t.policies))
	for _, p := range t.policies {
		if p.Action == ActionEscalate {
			continue
		}
		seen[p.Action] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Evaluate runs every policy against the issue list and returns the matched
// proposals sorted by descending priority (name breaks ties). AutoExecute
// in the returned proposals already reflects the operating mode.
func (t *Table) Evaluate(issues []diag.Issue, mode Mode) []Proposal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var proposals []Proposal
	for _, p := range t.policies {
		if p.Match == nil || !p.Match(issues) {
			continue
		}
		proposals = append(proposals, Proposal{
			Policy:      p.Name,
			Component:   p.Component,
			Action:      p.Action,
			Priority:    p.Priority,
			AutoExecute: allowAuto(p, mode),
		})
	}

	sort.Slice(proposals, func(i, j int) bool {
		if proposals[i].Priority.rank() != proposals[j].Priority.rank() {
			return proposals[i].Priority.rank() > proposals[j].Priority.rank()
		}
		return proposals[i].Policy < proposals[j].Policy
	})
	return proposals
}

// allowAuto applies the operating-mode gate on top of the policy's own
// auto_execute flag.
func allowAuto(p Policy, mode Mode) bool {
	if !p.AutoExecute || p.Action == ActionEscalate {
		return false
	}
	switch mode {
	case ModeConservative:
		return p.Priority == PriorityCritical
	case ModeStandard:
		return p.Priority == PriorityHigh || p.Priority == PriorityCritical
	default: // aggressive is the default mode
		return true
	}
}

// HasSeverity matches when any issue for the component (any component if
// component is empty) is at least the given severity.
func HasSeverity(component string, min diag.Severity) Predicate {
	return func(issues []diag.Issue) bool {
		for _, is := range issues {
			if component != "" && is.Component != component {
				continue
			}
			if is.Severity.Rank() >= min.Rank() {
				return true
			}
		}
		return false
	}
}

// HasIssueType matches when an issue of the given type exists for the
// component (any component if component is empty).
func HasIssueType(component, issueType string) Predicate {
	return func(issues []diag.Issue) bool {
		for _, is := range issues {
			if component != "" && is.Component != component {
				continue
			}
			if is.Type == issueType {
				return true
			}
		}
		return false
	}
}

// MinIssueCount matches when at least n issues were detected in the cycle.
func MinIssueCount(n int) Predicate {
	return func(issues []diag.Issue) bool {
		return len(issues) >= n
	}
}

// AllOf matches when every sub-predicate matches.
func AllOf(preds ...Predicate) Predicate {
	return func(issues []diag.Issue) bool {
		for _, p := range preds {
			if !p(issues) {
				return false
			}
		}
		return true
	}
}
