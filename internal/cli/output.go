package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sentinelops/autonomic/internal/diag"
	"github.com/sentinelops/autonomic/internal/orchestrator"
	"github.com/sentinelops/autonomic/internal/repair"
)

// diagnoseReport is the serializable shape of a one-shot diagnose run.
type diagnoseReport struct {
	Health   diag.SystemHealth `json:"health" yaml:"health"`
	Issues   []diag.Issue      `json:"issues" yaml:"issues"`
	Repairs  []repair.Action   `json:"repairs" yaml:"repairs"`
	Duration string            `json:"duration" yaml:"duration"`
}

// OutputResult formats a diagnostic cycle's outcome, including repairs the
// cycle triggered, in json, yaml, or table form.
func OutputResult(result *diag.Result, repairs []repair.Action, format string, verbose bool, w io.Writer) error {
	report := diagnoseReport{
		Health:   result.Health,
		Issues:   result.Issues,
		Repairs:  repairs,
		Duration: result.Duration.String(),
	}
	switch strings.ToLower(format) {
	case "json":
		return outputJSON(report, w)
	case "yaml":
		return outputYAML(report, w)
	case "table":
		outputResultTable(report, verbose, w)
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// OutputStatus formats an orchestrator status summary.
func OutputStatus(st orchestrator.Status, format string, w io.Writer) error {
	switch strings.ToLower(format) {
	case "json":
		return outputJSON(st, w)
	case "yaml":
		return outputYAML(st, w)
	case "table":
		outputStatusTable(st, w)
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func outputJSON(v any, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func outputYAML(v any, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(v)
}

func outputResultTable(report diagnoseReport, verbose bool, w io.Writer) {
	fmt.Fprintln(w, "Autonomic Diagnostic Report")
	fmt.Fprintln(w, "===========================")
	fmt.Fprintf(w, "Overall health: %d/100  (%d issues, %s)\n\n",
		report.Health.OverallScore, len(report.Issues), report.Duration)

	if len(report.Health.Components) > 0 {
		fmt.Fprintln(w, "Components:")
		for _, name := range sortedKeys(report.Health.Components) {
			fmt.Fprintf(w, "  %-20s %d/100\n", name, report.Health.Components[name])
		}
		fmt.Fprintln(w)
	}

	if len(report.Issues) > 0 {
		fmt.Fprintln(w, "Issues:")
		for _, issue := range report.Issues {
			fmt.Fprintf(w, "  [%s] %s: %s\n", issue.Severity, issue.Component, issue.Type)
			if verbose && issue.Description != "" {
				fmt.Fprintf(w, "      %s\n", issue.Description)
			}
			if verbose && issue.RecommendedAction != "" {
				fmt.Fprintf(w, "      recommended: %s\n", issue.RecommendedAction)
			}
		}
		fmt.Fprintln(w)
	}

	if len(report.Repairs) > 0 {
		fmt.Fprintln(w, "Repairs:")
		for _, a := range report.Repairs {
			fmt.Fprintf(w, "  %-12s %-20s %s\n", a.Status, a.Component, a.Type)
			if verbose && a.Result != "" {
				fmt.Fprintf(w, "      %s\n", a.Result)
			}
			if a.Error != "" {
				fmt.Fprintf(w, "      error: %s\n", a.Error)
			}
		}
	}
}

func outputStatusTable(st orchestrator.Status, w io.Writer) {
	fmt.Fprintln(w, "Autonomic Status")
	fmt.Fprintln(w, "================")
	fmt.Fprintf(w, "Mode:            %s\n", st.Mode)
	fmt.Fprintf(w, "Diagnostic loop: %s\n", st.DiagnosticState)
	fmt.Fprintf(w, "Predictive loop: %s\n", st.PredictiveState)
	if st.LastHealth != nil {
		fmt.Fprintf(w, "Last health:     %d/100 at %s\n",
			st.LastHealth.OverallScore, st.LastHealth.Timestamp.Format("15:04:05"))
	}
	fmt.Fprintf(w, "Repairs:         %d active, %d completed, %d failed, %d cancelled\n",
		st.Repairs.Active, st.Repairs.Completed, st.Repairs.Failed, st.Repairs.Cancelled)
	fmt.Fprintf(w, "Patterns:        %d\n", st.Patterns)

	if len(st.Risks) > 0 {
		fmt.Fprintln(w, "\nRisks:")
		for _, name := range sortedKeys(st.Risks) {
			fmt.Fprintf(w, "  %-20s %d\n", name, st.Risks[name])
		}
	}
	if len(st.Insights) > 0 {
		fmt.Fprintln(w, "\nInsights:")
		for _, in := range st.Insights {
			fmt.Fprintf(w, "  [%s] %s/%s: %s\n", in.Risk, in.Component, in.ActionType, in.Recommendation)
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
