package workflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for workflow operations. Callers branch on these with
// errors.Is; the richer error types below wrap them with context.
var (
	// ErrUnknownTicket indicates a transition was requested for a ticket
	// with no record, from a phase other than none.
	ErrUnknownTicket = errors.New("unknown ticket")

	// ErrIllegalTransition indicates the requested phase edge is not in
	// the transition graph.
	ErrIllegalTransition = errors.New("illegal phase transition")

	// ErrWorkflowBusy indicates the ticket already has an active run in
	// a different phase than the transition expects.
	ErrWorkflowBusy = errors.New("workflow busy")

	// ErrApprovalRequired indicates implementation was requested while
	// the run is parked awaiting manual approval.
	ErrApprovalRequired = errors.New("approval required")

	// ErrBroadcasterClosed indicates a publish or subscribe was attempted
	// after the broadcaster shut down.
	ErrBroadcasterClosed = errors.New("broadcaster closed")
)

// TransitionError describes a rejected phase transition. It wraps one of
// the sentinel errors above so callers can branch with errors.Is while
// logs carry the full context.
type TransitionError struct {
	TicketKey string
	From      Phase
	To        Phase
	Current   Phase
	Err       error
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("ticket %s: transition %s -> %s rejected (current phase %s): %v",
		e.TicketKey, e.From, e.To, e.Current, e.Err)
}

// Unwrap returns the underlying sentinel error.
func (e *TransitionError) Unwrap() error {
	return e.Err
}

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}
