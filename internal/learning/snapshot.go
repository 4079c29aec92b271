package learning

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is the serializable export of the learning state. The core
// defines only this shape; where it is persisted is the caller's concern.
type Snapshot struct {
	ExportedAt time.Time `json:"exported_at"`
	Patterns   []Pattern `json:"patterns"`
	Rules      []Rule    `json:"rules"`
	Insights   []Insight `json:"insights"`
}

// Snapshot exports the current learning state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	insights := make([]Insight, len(e.insights))
	copy(insights, e.insights)
	e.mu.RUnlock()

	return Snapshot{
		ExportedAt: time.Now(),
		Patterns:   e.Patterns(),
		Rules:      e.Rules(),
		Insights:   insights,
	}
}

// Restore replaces the learning state with the snapshot's contents.
func (e *Engine) Restore(s Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.patterns = make(map[string]*Pattern, len(s.Patterns))
	for i := range s.Patterns {
		p := s.Patterns[i]
		e.patterns[Key(p.Component, p.ActionType)] = &p
	}
	e.rules = make(map[string]*Rule, len(s.Rules))
	for i := range s.Rules {
		r := s.Rules[i]
		e.rules[r.ID] = &r
	}
	e.insights = append(e.insights[:0], s.Insights...)
}

// MarshalSnapshot serializes a snapshot to JSON.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal learning snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot parses a snapshot from JSON.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal learning snapshot: %w", err)
	}
	return s, nil
}
