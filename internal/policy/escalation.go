package policy

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Escalation is a matched condition handed off for human attention.
//
// Escalations deliberately do not flow through the repair engine: a human
// hand-off has no InProgress/Cancelled lifecycle, and routing it through
// the action state machine would mix notification delivery into the
// remediation success statistics.
type Escalation struct {
	Policy    string    `json:"policy"`
	Component string    `json:"component"`
	Priority  Priority  `json:"priority"`
	Summary   string    `json:"summary"`
	RaisedAt  time.Time `json:"raised_at"`
}

// Sink receives escalations. Delivery is fire-and-forget: the control loop
// neither retries nor polls for completion of escalated items.
type Sink interface {
	Notify(ctx context.Context, esc Escalation) error
}

// LogSink writes escalations to the structured log. It is the default sink
// when no external notification channel is wired.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Notify(_ context.Context, esc Escalation) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Warn("escalation raised",
		zap.String("policy", esc.Policy),
		zap.String("component", esc.Component),
		zap.String("priority", string(esc.Priority)),
		zap.String("summary", esc.Summary))
	return nil
}
