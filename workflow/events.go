package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

func init() {
	// Register Event for message deserialization so consumers can
	// unwrap BaseMessage envelopes into typed events.
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "ticket",
		Category:    "event",
		Version:     "v1",
		Description: "Ticket workflow event (progress, results, errors)",
		Factory:     func() any { return &Event{} },
	})
}

// TicketEventType is the message type for workflow events.
var TicketEventType = message.Type{
	Domain:   "ticket",
	Category: "event",
	Version:  "v1",
}

// EventKind discriminates the event union. Exactly one payload field of
// Event is set per kind.
type EventKind string

const (
	// EventProgress carries a phase/percent/message progress update.
	EventProgress EventKind = "progress"
	// EventAnalysisCompleted carries the finished AnalysisResult.
	EventAnalysisCompleted EventKind = "analysis_completed"
	// EventImplementationCompleted carries the finished ImplementationResult.
	EventImplementationCompleted EventKind = "implementation_completed"
	// EventWorkflowError carries a non-fatal error notification.
	EventWorkflowError EventKind = "error"
)

// IsValid returns true if the kind is a known event kind.
func (k EventKind) IsValid() bool {
	switch k {
	case EventProgress, EventAnalysisCompleted, EventImplementationCompleted, EventWorkflowError:
		return true
	default:
		return false
	}
}

// Progress is the payload of an EventProgress event.
type Progress struct {
	// Phase is the workflow phase the ticket entered.
	Phase Phase `json:"phase"`

	// Percent is the completion percentage, 0 to 100.
	Percent int `json:"percent"`

	// Message is a free-text progress message.
	Message string `json:"message,omitempty"`
}

// WorkflowError is the payload of an EventWorkflowError event.
type WorkflowError struct {
	// Phase is the phase during which the error occurred.
	Phase Phase `json:"phase"`

	// Message is the error text.
	Message string `json:"message"`
}

// Event is the tagged union delivered to ticket subscribers. Events are
// ephemeral: the broadcaster owns them for the duration of delivery and
// nothing retains them afterwards.
type Event struct {
	// Kind selects which payload field is set.
	Kind EventKind `json:"kind"`

	// TicketKey identifies the ticket the event belongs to.
	TicketKey string `json:"ticket_key"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Progress is set when Kind is EventProgress.
	Progress *Progress `json:"progress,omitempty"`

	// Analysis is set when Kind is EventAnalysisCompleted.
	Analysis *AnalysisResult `json:"analysis,omitempty"`

	// Implementation is set when Kind is EventImplementationCompleted.
	Implementation *ImplementationResult `json:"implementation,omitempty"`

	// Error is set when Kind is EventWorkflowError.
	Error *WorkflowError `json:"error,omitempty"`
}

// Schema returns the message type for Event.
func (e *Event) Schema() message.Type {
	return TicketEventType
}

// Validate checks that the event's payload matches its kind.
func (e *Event) Validate() error {
	if e.TicketKey == "" {
		return &ValidationError{Field: "ticket_key", Message: "ticket_key is required"}
	}
	if !e.Kind.IsValid() {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown event kind %q", string(e.Kind))}
	}
	switch e.Kind {
	case EventProgress:
		if e.Progress == nil {
			return &ValidationError{Field: "progress", Message: "progress payload is required for progress events"}
		}
		if e.Progress.Percent < 0 || e.Progress.Percent > 100 {
			return &ValidationError{Field: "progress.percent", Message: "percent must be between 0 and 100"}
		}
	case EventAnalysisCompleted:
		if e.Analysis == nil {
			return &ValidationError{Field: "analysis", Message: "analysis payload is required for analysis_completed events"}
		}
	case EventImplementationCompleted:
		if e.Implementation == nil {
			return &ValidationError{Field: "implementation", Message: "implementation payload is required for implementation_completed events"}
		}
	case EventWorkflowError:
		if e.Error == nil {
			return &ValidationError{Field: "error", Message: "error payload is required for error events"}
		}
	}
	return nil
}

// MarshalJSON marshals the Event to JSON.
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the Event from JSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	return json.Unmarshal(data, (*Alias)(e))
}
