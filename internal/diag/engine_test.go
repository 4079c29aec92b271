package diag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/autonomic/internal/authz"
)

func healthyProbe(score int) ProbeFunc {
	return func(context.Context) (Report, error) {
		return Report{Score: score}, nil
	}
}

func issueProbe(score int, issues ...Issue) ProbeFunc {
	return func(context.Context) (Report, error) {
		return Report{Score: score, Issues: issues}, nil
	}
}

func TestScoreIssues(t *testing.T) {
	tests := []struct {
		name       string
		severities []Severity
		want       int
	}{
		{name: "no issues", severities: nil, want: 100},
		{name: "single low", severities: []Severity{SeverityLow}, want: 97},
		{name: "two critical one high", severities: []Severity{SeverityCritical, SeverityCritical, SeverityHigh}, want: 35},
		{name: "floors at zero", severities: []Severity{SeverityCritical, SeverityCritical, SeverityCritical, SeverityCritical, SeverityCritical}, want: 0},
		{name: "mixed", severities: []Severity{SeverityMedium, SeverityMedium, SeverityLow}, want: 81},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := make([]Issue, len(tt.severities))
			for i, s := range tt.severities {
				issues[i] = Issue{Severity: s}
			}
			assert.Equal(t, tt.want, ScoreIssues(issues))
		})
	}
}

func TestRunAggregatesIssues(t *testing.T) {
	e := NewEngine(nil, nil, Config{})
	e.Register("asset_ledger", issueProbe(60, Issue{
		Type:        "sync_lag",
		Severity:    SeverityHigh,
		Description: "ledger sync is 40 blocks behind",
	}))
	e.Register("voice_pipeline", healthyProbe(100))

	res, err := e.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Len(t, res.Issues, 1)
	assert.Equal(t, "asset_ledger", res.Issues[0].Component)
	assert.False(t, res.Issues[0].DetectedAt.IsZero())
	assert.Equal(t, 85, res.Health.OverallScore)
	assert.Equal(t, 60, res.Health.Components["asset_ledger"])
	assert.Equal(t, 100, res.Health.Components["voice_pipeline"])
	assert.Equal(t, 1, res.Health.IssuesDetected)
}

func TestProbeErrorIsIsolated(t *testing.T) {
	e := NewEngine(nil, nil, Config{})
	e.Register("broken", func(context.Context) (Report, error) {
		return Report{}, errors.New("connection refused")
	})
	e.Register("panicky", func(context.Context) (Report, error) {
		panic("probe exploded")
	})
	e.Register("stable", healthyProbe(95))

	res, err := e.Run(context.Background(), "")
	require.NoError(t, err)

	// One diagnostic_error per failing probe, nothing for the healthy one.
	require.Len(t, res.Issues, 2)
	for _, is := range res.Issues {
		assert.Equal(t, IssueTypeDiagnosticError, is.Type)
		assert.Equal(t, SeverityMedium, is.Severity)
	}
	assert.Equal(t, 95, res.Health.Components["stable"])
	assert.Equal(t, 0, res.Health.Components["broken"])
	assert.Equal(t, 100-8-8, res.Health.OverallScore)
}

func TestRunTargetedComponent(t *testing.T) {
	e := NewEngine(nil, nil, Config{})
	e.Register("api_gateway", healthyProbe(90))
	e.Register("asset_ledger", issueProbe(10, Issue{Type: "down", Severity: SeverityCritical}))

	res, err := e.Run(context.Background(), "api_gateway")
	require.NoError(t, err)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 100, res.Health.OverallScore)
	_, probed := res.Health.Components["asset_ledger"]
	assert.False(t, probed, "untargeted component must not be probed")

	_, err = e.Run(context.Background(), "no_such_component")
	assert.Error(t, err)
}

func TestGateDenialShortCircuits(t *testing.T) {
	probeRan := false
	e := NewEngine(authz.DenyAll{Reason: "sealed"}, nil, Config{})
	e.Register("asset_ledger", func(context.Context) (Report, error) {
		probeRan = true
		return Report{Score: 100}, nil
	})

	res, err := e.Run(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, probeRan, "probes must not run after a gate denial")
	require.Len(t, res.Issues, 1)
	assert.Equal(t, IssueTypeDiagnosticError, res.Issues[0].Type)
	assert.Contains(t, res.Issues[0].Description, "sealed")
}

func TestHistoryIsCapped(t *testing.T) {
	e := NewEngine(nil, nil, Config{})
	e.Register("stable", healthyProbe(100))

	for i := 0; i < historyCap+10; i++ {
		_, err := e.Run(context.Background(), "")
		require.NoError(t, err)
	}
	assert.Len(t, e.History(), historyCap)
}

func TestProbeTimeoutBecomesIssue(t *testing.T) {
	e := NewEngine(nil, nil, Config{ProbeTimeout: 10 * time.Millisecond})
	e.Register("slow", func(ctx context.Context) (Report, error) {
		select {
		case <-ctx.Done():
			return Report{}, ctx.Err()
		case <-time.After(time.Second):
			return Report{Score: 100}, nil
		}
	})

	res, err := e.Run(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, IssueTypeDiagnosticError, res.Issues[0].Type)
}
