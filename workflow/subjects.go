// NATS subject layout for the ticket workflow. Triggers arrive on fixed
// subjects under "ticket.trigger"; per-ticket events fan out under
// "ticket.events.<key>.<kind>" so remote subscribers can filter by
// ticket with a plain subject subscription.
package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/semstreams/natsclient"
)

const (
	// TriggerWorkflowSubject starts a new workflow run for a ticket.
	TriggerWorkflowSubject = "ticket.trigger.workflow"

	// TriggerApprovalSubject resolves the awaiting-approval gate.
	TriggerApprovalSubject = "ticket.trigger.approval"

	// EventSubjectPrefix is the root of the per-ticket event namespace.
	EventSubjectPrefix = "ticket.events"
)

// Typed subjects for the fixed trigger endpoints.
var (
	WorkflowTrigger = natsclient.NewSubject[TriggerPayload](TriggerWorkflowSubject)
	ApprovalTrigger = natsclient.NewSubject[ApprovalPayload](TriggerApprovalSubject)
)

// ticketKeyRe matches tracker keys like "PROJ-123".
var ticketKeyRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*-[0-9]+$`)

// ValidateTicketKey checks that the key is a well-formed tracker key.
// Keys double as NATS subject tokens, so the shape is restricted.
func ValidateTicketKey(key string) error {
	if key == "" {
		return &ValidationError{Field: "ticket_key", Message: "must not be empty"}
	}
	if !ticketKeyRe.MatchString(key) {
		return &ValidationError{Field: "ticket_key",
			Message: fmt.Sprintf("%q is not a valid ticket key (expected PROJECT-NUMBER)", key)}
	}
	return nil
}

// EventSubject returns the subject events of the given kind for the
// ticket are published to.
func EventSubject(ticketKey string, kind EventKind) string {
	return fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, ticketKey, string(kind))
}

// EventSubjectAll returns the wildcard subject matching every event
// kind for the ticket.
func EventSubjectAll(ticketKey string) string {
	return fmt.Sprintf("%s.%s.>", EventSubjectPrefix, ticketKey)
}

// TicketKeyFromSubject extracts the ticket key from a per-ticket event
// subject. Returns an error for subjects outside the event namespace.
func TicketKeyFromSubject(subject string) (string, error) {
	rest, ok := strings.CutPrefix(subject, EventSubjectPrefix+".")
	if !ok {
		return "", fmt.Errorf("subject %q is not under %s", subject, EventSubjectPrefix)
	}
	key, _, ok := strings.Cut(rest, ".")
	if !ok || key == "" {
		return "", fmt.Errorf("subject %q has no event kind token", subject)
	}
	return key, nil
}

// envelope is the subset of the BaseMessage wire format needed to
// unwrap payloads.
type envelope struct {
	Payload json.RawMessage `json:"payload"`
}

// ParseTicketMessage decodes raw NATS message data into T. Data wrapped
// in a BaseMessage envelope is unwrapped first; bare payloads decode
// directly, so hand-published test messages work too.
func ParseTicketMessage[T any](data []byte) (*T, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Payload) > 0 {
		data = env.Payload
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
