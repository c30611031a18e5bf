package workflow

import (
	"encoding/json"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

func init() {
	// Register trigger payloads for message deserialization.
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "ticket",
		Category:    "trigger",
		Version:     "v1",
		Description: "Ticket workflow trigger payload",
		Factory:     func() any { return &TriggerPayload{} },
	})

	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "ticket",
		Category:    "approval",
		Version:     "v1",
		Description: "Ticket approval decision payload",
		Factory:     func() any { return &ApprovalPayload{} },
	})
}

// TicketTriggerType is the message type for workflow trigger payloads.
var TicketTriggerType = message.Type{
	Domain:   "ticket",
	Category: "trigger",
	Version:  "v1",
}

// TicketApprovalType is the message type for approval payloads.
var TicketApprovalType = message.Type{
	Domain:   "ticket",
	Category: "approval",
	Version:  "v1",
}

// TriggerPayload starts a workflow run for a ticket.
type TriggerPayload struct {
	// TicketKey is the tracker key of the ticket to work on.
	TicketKey string `json:"ticket_key"`

	// RequestedBy identifies who asked for the run.
	RequestedBy string `json:"requested_by,omitempty"`

	// RequestID correlates the run across logs and events.
	RequestID string `json:"request_id,omitempty"`

	// AutoApprove skips the manual approval gate for this run. It
	// overrides the config default when true.
	AutoApprove bool `json:"auto_approve,omitempty"`
}

// Schema returns the message type for TriggerPayload.
func (p *TriggerPayload) Schema() message.Type {
	return TicketTriggerType
}

// Validate validates the TriggerPayload.
func (p *TriggerPayload) Validate() error {
	return ValidateTicketKey(p.TicketKey)
}

// MarshalJSON marshals the TriggerPayload to JSON.
func (p *TriggerPayload) MarshalJSON() ([]byte, error) {
	type Alias TriggerPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the TriggerPayload from JSON.
func (p *TriggerPayload) UnmarshalJSON(data []byte) error {
	type Alias TriggerPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// ApprovalPayload resolves a run parked at the approval gate.
type ApprovalPayload struct {
	// TicketKey is the tracker key of the parked run.
	TicketKey string `json:"ticket_key"`

	// Approved is true to proceed to implementation, false to fail the
	// run.
	Approved bool `json:"approved"`

	// Approver identifies who decided.
	Approver string `json:"approver,omitempty"`

	// Comment is an optional decision note.
	Comment string `json:"comment,omitempty"`
}

// Schema returns the message type for ApprovalPayload.
func (p *ApprovalPayload) Schema() message.Type {
	return TicketApprovalType
}

// Validate validates the ApprovalPayload.
func (p *ApprovalPayload) Validate() error {
	return ValidateTicketKey(p.TicketKey)
}

// MarshalJSON marshals the ApprovalPayload to JSON.
func (p *ApprovalPayload) MarshalJSON() ([]byte, error) {
	type Alias ApprovalPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the ApprovalPayload from JSON.
func (p *ApprovalPayload) UnmarshalJSON(data []byte) error {
	type Alias ApprovalPayload
	return json.Unmarshal(data, (*Alias)(p))
}
