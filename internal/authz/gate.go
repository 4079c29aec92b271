// Package authz defines the authorization gate consulted before every
// diagnostic run and every repair execution.
//
// The gate is an external collaborator: the control loop only knows that a
// denied decision aborts the single operation that requested it. The package
// ships three built-in gates — AllowAll for normal operation, DenyAll for
// lockdown, and RuleGate for targeted deny-lists — but callers are free to
// supply their own implementation.
package authz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Operation identifies what kind of work is requesting authorization.
type Operation string

const (
	OpDiagnostic Operation = "diagnostic"
	OpRepair     Operation = "repair"
	OpLifecycle  Operation = "lifecycle"
)

// Decision is the outcome of a gate validation.
type Decision struct {
	Approved  bool      `json:"approved"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decided_at"`
}

// Gate approves or denies an operation before it runs.
//
// Validate must be safe for concurrent use. The query string is a
// human-readable description of the operation ("run diagnostics",
// "repair memory_system restart", ...); EthicalCheck requests the gate's
// stricter review path where one exists.
type Gate interface {
	Validate(ctx context.Context, query string, op Operation, ethicalCheck bool) (Decision, error)
}

// AllowAll approves every operation. This is the default gate.
type AllowAll struct{}

func (AllowAll) Validate(_ context.Context, _ string, _ Operation, _ bool) (Decision, error) {
	return Decision{Approved: true, Reason: "no gate policy configured", DecidedAt: time.Now()}, nil
}

// DenyAll rejects every operation with a fixed reason. Intended for
// lockdown modes and for tests exercising denial paths.
type DenyAll struct {
	Reason string
}

func (d DenyAll) Validate(_ context.Context, _ string, _ Operation, _ bool) (Decision, error) {
	reason := d.Reason
	if reason == "" {
		reason = "all operations denied by policy"
	}
	return Decision{Approved: false, Reason: reason, DecidedAt: time.Now()}, nil
}

// RuleGate denies operations whose query contains a blocked token or whose
// operation kind is blocked outright. Everything else is approved.
type RuleGate struct {
	mu         sync.RWMutex
	blockedOps map[Operation]string
	blocked    []string
}

// NewRuleGate builds a gate with no rules; all operations pass until
// BlockOperation or BlockToken is called.
func NewRuleGate() *RuleGate {
	return &RuleGate{blockedOps: make(map[Operation]string)}
}

// BlockOperation denies every validation for the given operation kind.
func (g *RuleGate) BlockOperation(op Operation, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if reason == "" {
		reason = fmt.Sprintf("%s operations are blocked", op)
	}
	g.blockedOps[op] = reason
}

// BlockToken denies any query containing the given substring
// (case-insensitive). Useful for fencing off a component by name.
func (g *RuleGate) BlockToken(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked = append(g.blocked, strings.ToLower(token))
}

func (g *RuleGate) Validate(_ context.Context, query string, op Operation, _ bool) (Decision, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := time.Now()
	if reason, ok := g.blockedOps[op]; ok {
		return Decision{Approved: false, Reason: reason, DecidedAt: now}, nil
	}
	lowered := strings.ToLower(query)
	for _, token := range g.blocked {
		if strings.Contains(lowered, token) {
			return Decision{
				Approved:  false,
				Reason:    fmt.Sprintf("query matches blocked token %q", token),
				DecidedAt: now,
			}, nil
		}
	}
	return Decision{Approved: true, Reason: "no matching deny rule", DecidedAt: now}, nil
}
