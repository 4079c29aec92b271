package policy

import "github.com/sentinelops/autonomic/internal/diag"

// Built-in repair action types. Handlers for these are registered with the
// repair engine at startup; an action type outside this vocabulary fails
// fast there.
const (
	ActionRestart     = "restart"
	ActionBufferReset = "buffer_reset"
	ActionIsolate     = "isolate"
	ActionReconnect   = "reconnect"
	ActionClearCache  = "clear_cache"
)

// DefaultTable returns the built-in policy set for the monitored platform
// components. Callers may Set/Delete entries afterwards.
func DefaultTable() *Table {
	t := NewTable()

	t.Set(Policy{
		Name:        "ledger_critical_restart",
		Match:       HasSeverity("asset_ledger", diag.SeverityCritical),
		Component:   "asset_ledger",
		Action:      ActionRestart,
		Priority:    PriorityCritical,
		AutoExecute: true,
	})
	t.Set(Policy{
		Name:        "ledger_sync_reconnect",
		Match:       HasIssueType("asset_ledger", "sync_lag"),
		Component:   "asset_ledger",
		Action:      ActionReconnect,
		Priority:    PriorityHigh,
		AutoExecute: true,
	})
	t.Set(Policy{
		Name:        "voice_buffer_reset",
		Match:       HasIssueType("voice_pipeline", "buffer_overrun"),
		Component:   "voice_pipeline",
		Action:      ActionBufferReset,
		Priority:    PriorityMedium,
		AutoExecute: true,
	})
	t.Set(Policy{
		Name:        "gateway_degraded_isolate",
		Match:       HasSeverity("api_gateway", diag.SeverityHigh),
		Component:   "api_gateway",
		Action:      ActionIsolate,
		Priority:    PriorityHigh,
		AutoExecute: true,
	})
	t.Set(Policy{
		Name:        "memory_pressure_clear_cache",
		Match:       HasIssueType("memory_store", "memory_pressure"),
		Component:   "memory_store",
		Action:      ActionClearCache,
		Priority:    PriorityMedium,
		AutoExecute: true,
	})
	t.Set(Policy{
		Name:        "probe_failures_escalate",
		Match:       AllOf(HasIssueType("", diag.IssueTypeDiagnosticError), MinIssueCount(3)),
		Component:   "diagnostic_engine",
		Action:      ActionEscalate,
		Priority:    PriorityHigh,
		AutoExecute: false,
	})
	t.Set(Policy{
		Name:        "systemwide_critical_escalate",
		Match:       AllOf(HasSeverity("", diag.SeverityCritical), MinIssueCount(4)),
		Component:   "platform",
		Action:      ActionEscalate,
		Priority:    PriorityCritical,
		AutoExecute: false,
	})

	return t
}
