package workflow

import (
	"encoding/json"
	"testing"
)

func TestValidateTicketKey(t *testing.T) {
	valid := []string{"PROJ-1", "ABC-12345", "ticket-7", "A1-9"}
	for _, key := range valid {
		if err := ValidateTicketKey(key); err != nil {
			t.Errorf("ValidateTicketKey(%q) = %v, want nil", key, err)
		}
	}

	invalid := []string{"", "PROJ", "PROJ-", "-1", "PROJ-1a", "PROJ.1", "PROJ 1", "../etc", "PROJ-1.>", "1PROJ-2"}
	for _, key := range invalid {
		if err := ValidateTicketKey(key); err == nil {
			t.Errorf("ValidateTicketKey(%q) = nil, want error", key)
		}
	}
}

func TestEventSubject(t *testing.T) {
	got := EventSubject("PROJ-42", EventProgress)
	want := "ticket.events.PROJ-42.progress"
	if got != want {
		t.Errorf("EventSubject() = %q, want %q", got, want)
	}

	if got := EventSubjectAll("PROJ-42"); got != "ticket.events.PROJ-42.>" {
		t.Errorf("EventSubjectAll() = %q", got)
	}
}

func TestTypedSubjectPatterns(t *testing.T) {
	if WorkflowTrigger.Pattern != "ticket.trigger.workflow" {
		t.Errorf("WorkflowTrigger.Pattern = %q", WorkflowTrigger.Pattern)
	}
	if ApprovalTrigger.Pattern != "ticket.trigger.approval" {
		t.Errorf("ApprovalTrigger.Pattern = %q", ApprovalTrigger.Pattern)
	}
}

func TestTicketKeyFromSubject(t *testing.T) {
	key, err := TicketKeyFromSubject("ticket.events.PROJ-42.progress")
	if err != nil {
		t.Fatal(err)
	}
	if key != "PROJ-42" {
		t.Errorf("key = %q, want PROJ-42", key)
	}

	if _, err := TicketKeyFromSubject("other.subject"); err == nil {
		t.Error("expected error for subject outside event namespace")
	}
	if _, err := TicketKeyFromSubject("ticket.events.PROJ-42"); err == nil {
		t.Error("expected error for subject without kind token")
	}
}

func TestParseTicketMessageBarePayload(t *testing.T) {
	data := []byte(`{"ticket_key":"PROJ-1","auto_approve":true}`)
	p, err := ParseTicketMessage[TriggerPayload](data)
	if err != nil {
		t.Fatal(err)
	}
	if p.TicketKey != "PROJ-1" || !p.AutoApprove {
		t.Errorf("parsed payload = %+v", p)
	}
}

func TestParseTicketMessageEnvelope(t *testing.T) {
	envelope := map[string]any{
		"type":    map[string]string{"domain": "ticket", "category": "trigger", "version": "v1"},
		"source":  "test",
		"payload": map[string]any{"ticket_key": "PROJ-2", "requested_by": "alice"},
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatal(err)
	}

	p, err := ParseTicketMessage[TriggerPayload](data)
	if err != nil {
		t.Fatal(err)
	}
	if p.TicketKey != "PROJ-2" || p.RequestedBy != "alice" {
		t.Errorf("parsed payload = %+v", p)
	}
}

func TestParseTicketMessageInvalid(t *testing.T) {
	if _, err := ParseTicketMessage[TriggerPayload]([]byte("not json")); err == nil {
		t.Error("expected error for malformed data")
	}
}
