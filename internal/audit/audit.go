// Package audit records every mutation of a necessity line. The trail is
// what lets a corrected or excluded line be traced back to its original
// generation event.
package audit

import (
	"context"
	"time"

	id "merenda/pkg/domain"
)

// Action names the mutation an event records.
type Action string

const (
	ActionGenerated           Action = "line_generated"
	ActionImported            Action = "line_imported"
	ActionSubstitutionApplied Action = "substitution_applied"
	ActionSubstitutionUndone  Action = "substitution_undone"
	ActionReleased            Action = "line_released"
	ActionFinalized           Action = "line_finalized"
	ActionExcluded            Action = "line_excluded"
	ActionCorrected           Action = "line_corrected"
)

// Event is emitted from domain logic to capture one mutation. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	Action    Action      `json:"action"`
	LineID    id.LineID   `json:"line_id"`
	SchoolID  id.SchoolID `json:"school_id,omitempty"`
	GroupKey  string      `json:"group_key,omitempty"`
	Operator  string      `json:"operator,omitempty"`
	Role      string      `json:"role,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher accepts events from domain services. Implementations must not
// block the request path.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards events. Default for services constructed without
// an audit pipeline, such as in unit tests.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
