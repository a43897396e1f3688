// Package observe carries diagnostic events out of the pipeline. Events are
// observability only; nothing in the invocation path depends on them being
// delivered.
package observe

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a diagnostic.
type EventType string

const (
	EventInvocationStarted   EventType = "invocation.started"
	EventInvocationBlocked   EventType = "invocation.blocked"
	EventInvocationCompleted EventType = "invocation.completed"
	EventInvocationCancelled EventType = "invocation.cancelled"
	EventInvocationFailed    EventType = "invocation.failed"
	EventGateVerdict         EventType = "gate.verdict"
	EventGateUnavailable     EventType = "gate.unavailable"
	EventPromptResolved      EventType = "prompt.resolved"
	EventToolCall            EventType = "tool.call"
)

// Event is one diagnostic record.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Normalize fills in the id and timestamp when they are missing.
func (e *Event) Normalize() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}
