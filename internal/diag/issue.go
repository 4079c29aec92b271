// Package diag implements the diagnostic engine: per-component health
// probes, structured issue reporting, and the weighted aggregate health
// score consumed by the rest of the control loop.
package diag

import "time"

// Severity classifies how badly an issue degrades its component.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the number of points an issue of this severity subtracts
// from the aggregate health score.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 25
	case SeverityHigh:
		return 15
	case SeverityMedium:
		return 8
	case SeverityLow:
		return 3
	default:
		return 0
	}
}

// Rank orders severities for comparisons; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// IssueTypeDiagnosticError marks issues synthesized from probe failures or
// gate denials rather than reported by a probe.
const IssueTypeDiagnosticError = "diagnostic_error"

// Issue is a structured record of a detected problem. Immutable once
// created: the engine hands out copies, never shared pointers.
type Issue struct {
	Component         string    `json:"component"`
	Type              string    `json:"issue_type"`
	Severity          Severity  `json:"severity"`
	Description       string    `json:"description"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
	DetectedAt        time.Time `json:"detected_at"`
}

// SystemHealth is the aggregate picture computed by one diagnostic cycle.
// A fresh value is built each run; previous snapshots are never mutated.
type SystemHealth struct {
	Timestamp      time.Time      `json:"timestamp"`
	OverallScore   int            `json:"overall_score"`
	Components     map[string]int `json:"components"`
	IssuesDetected int            `json:"issues_detected"`
}

// ScoreIssues computes the aggregate health score for a set of issues:
// start at 100, subtract each issue's severity weight, floor at 0.
func ScoreIssues(issues []Issue) int {
	score := 100
	for _, is := range issues {
		score -= is.Severity.Weight()
	}
	if score < 0 {
		score = 0
	}
	return score
}
