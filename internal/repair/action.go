// Package repair executes remediation actions under a hard concurrency
// cap and tracks their lifecycle from Pending to a terminal state.
//
// The state machine is strictly one-directional:
//
//	Pending → InProgress → {Completed | Failed | Cancelled}
//
// Completed, Failed, and Cancelled are terminal; no sequence of operations
// moves an action back to Pending or InProgress. Submissions beyond the
// concurrency cap are rejected outright rather than queued — throttling is
// the caller's responsibility.
package repair

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a repair action.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Action is a unit of remediation work. The ID is unique and immutable;
// once submitted, the action is owned by the engine until it reaches a
// terminal state.
type Action struct {
	ID          string    `json:"id"`
	Component   string    `json:"target_component"`
	Type        string    `json:"action_type"`
	Priority    string    `json:"priority"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Succeeded reports whether the action reached Completed.
func (a *Action) Succeeded() bool {
	return a.Status == StatusCompleted
}

// NewAction creates a Pending action for the given component and type.
func NewAction(component, actionType, priority string) *Action {
	return &Action{
		ID:        uuid.NewString(),
		Component: component,
		Type:      actionType,
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}
