package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/autonomic/internal/diag"
)

func issue(component, issueType string, sev diag.Severity) diag.Issue {
	return diag.Issue{
		Component:  component,
		Type:       issueType,
		Severity:   sev,
		DetectedAt: time.Now(),
	}
}

func TestEvaluateIsExhaustive(t *testing.T) {
	table := NewTable()
	table.Set(Policy{
		Name:        "cache_clear",
		Match:       HasIssueType("memory_store", "memory_pressure"),
		Component:   "memory_store",
		Action:      ActionClearCache,
		Priority:    PriorityMedium,
		AutoExecute: true,
	})
	table.Set(Policy{
		Name:        "ledger_restart",
		Match:       HasSeverity("asset_ledger", diag.SeverityCritical),
		Component:   "asset_ledger",
		Action:      ActionRestart,
		Priority:    PriorityCritical,
		AutoExecute: true,
	})
	table.Set(Policy{
		Name:        "unrelated",
		Match:       HasIssueType("voice_pipeline", "buffer_overrun"),
		Component:   "voice_pipeline",
		Action:      ActionBufferReset,
		Priority:    PriorityLow,
		AutoExecute: true,
	})

	issues := []diag.Issue{
		issue("memory_store", "memory_pressure", diag.SeverityMedium),
		issue("asset_ledger", "crash_loop", diag.SeverityCritical),
	}

	proposals := table.Evaluate(issues, ModeAggressive)
	require.Len(t, proposals, 2, "both matching policies must be proposed in one pass")
	assert.Equal(t, "ledger_restart", proposals[0].Policy, "higher priority sorts first")
	assert.Equal(t, "cache_clear", proposals[1].Policy)
}

func TestModeGating(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		priority Priority
		action   string
		auto     bool
		want     bool
	}{
		{name: "conservative blocks medium", mode: ModeConservative, priority: PriorityMedium, action: ActionRestart, auto: true, want: false},
		{name: "conservative blocks high", mode: ModeConservative, priority: PriorityHigh, action: ActionRestart, auto: true, want: false},
		{name: "conservative allows critical", mode: ModeConservative, priority: PriorityCritical, action: ActionRestart, auto: true, want: true},
		{name: "standard blocks low", mode: ModeStandard, priority: PriorityLow, action: ActionRestart, auto: true, want: false},
		{name: "standard blocks medium", mode: ModeStandard, priority: PriorityMedium, action: ActionRestart, auto: true, want: false},
		{name: "standard allows high", mode: ModeStandard, priority: PriorityHigh, action: ActionRestart, auto: true, want: true},
		{name: "aggressive allows low", mode: ModeAggressive, priority: PriorityLow, action: ActionRestart, auto: true, want: true},
		{name: "escalate never auto", mode: ModeAggressive, priority: PriorityCritical, action: ActionEscalate, auto: true, want: false},
		{name: "policy flag off wins", mode: ModeAggressive, priority: PriorityCritical, action: ActionRestart, auto: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable()
			table.Set(Policy{
				Name:        "p",
				Match:       MinIssueCount(1),
				Component:   "c",
				Action:      tt.action,
				Priority:    tt.priority,
				AutoExecute: tt.auto,
			})
			proposals := table.Evaluate([]diag.Issue{issue("c", "x", diag.SeverityLow)}, tt.mode)
			require.Len(t, proposals, 1)
			assert.Equal(t, tt.want, proposals[0].AutoExecute)
		})
	}
}

func TestPredicatesUseStructuredFields(t *testing.T) {
	// A description containing trigger words must not match: predicates
	// look only at component, issue type, and severity.
	issues := []diag.Issue{{
		Component:   "voice_pipeline",
		Type:        "latency_spike",
		Severity:    diag.SeverityLow,
		Description: "memory_pressure mentioned in passing by a human note",
	}}

	assert.False(t, HasIssueType("memory_store", "memory_pressure")(issues))
	assert.False(t, HasIssueType("", "memory_pressure")(issues))
	assert.True(t, HasIssueType("voice_pipeline", "latency_spike")(issues))
}

func TestHasSeverityAnyComponent(t *testing.T) {
	issues := []diag.Issue{
		issue("a", "x", diag.SeverityLow),
		issue("b", "y", diag.SeverityHigh),
	}
	assert.True(t, HasSeverity("", diag.SeverityHigh)(issues))
	assert.False(t, HasSeverity("", diag.SeverityCritical)(issues))
	assert.False(t, HasSeverity("a", diag.SeverityHigh)(issues))
}

func TestDefaultTableEscalations(t *testing.T) {
	table := DefaultTable()
	require.Greater(t, table.Len(), 0)

	// Three probe failures trigger the escalation policy, which must stay
	// non-auto even in aggressive mode.
	issues := []diag.Issue{
		issue("a", diag.IssueTypeDiagnosticError, diag.SeverityMedium),
		issue("b", diag.IssueTypeDiagnosticError, diag.SeverityMedium),
		issue("c", diag.IssueTypeDiagnosticError, diag.SeverityMedium),
	}
	proposals := table.Evaluate(issues, ModeAggressive)

	var found bool
	for _, p := range proposals {
		if p.Action == ActionEscalate {
			found = true
			assert.False(t, p.AutoExecute)
		}
	}
	assert.True(t, found, "expected an escalation proposal")
}

func TestLogSinkNotify(t *testing.T) {
	err := LogSink{}.Notify(context.Background(), Escalation{
		Policy:    "systemwide_critical_escalate",
		Component: "platform",
		Priority:  PriorityCritical,
		Summary:   "4 critical issues in one cycle",
		RaisedAt:  time.Now(),
	})
	assert.NoError(t, err)
}
