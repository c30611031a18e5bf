package workflow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ProgressEmitter receives one progress event per accepted transition.
// Implementations must not block: the machine calls Emit while holding
// its lock so that per-ticket event order matches phase order.
type ProgressEmitter interface {
	Emit(ticketKey string, phase Phase, percent int, message string)
}

// Machine is the keyed phase store and transition guard. It owns the
// per-ticket current phase; no other component mutates it. All methods
// are safe for concurrent use.
type Machine struct {
	mu      sync.Mutex
	phases  map[string]phaseRecord
	emitter ProgressEmitter
	logger  *slog.Logger
}

type phaseRecord struct {
	phase     Phase
	updatedAt time.Time
}

// NewMachine creates a phase machine that emits one progress event per
// accepted transition through the given emitter.
func NewMachine(emitter ProgressEmitter, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		phases:  make(map[string]phaseRecord),
		emitter: emitter,
		logger:  logger.With("component", "phase-machine"),
	}
}

// Current returns the ticket's current phase. Tickets with no record
// report PhaseNone.
func (m *Machine) Current(ticketKey string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.phases[ticketKey]
	if !ok {
		return PhaseNone
	}
	return rec.phase
}

// RequestTransition validates and commits the transition from -> to for
// the ticket, emitting exactly one progress event before returning
// success. The commit is atomic: on rejection the stored phase is
// unchanged and nothing is emitted.
//
// Rejections wrap a sentinel error:
//   - ErrUnknownTicket when no record exists and from is not PhaseNone
//   - ErrWorkflowBusy when a non-terminal run is in a different phase
//     than from
//   - ErrIllegalTransition when the edge is not in the transition graph
func (m *Machine) RequestTransition(ticketKey string, from, to Phase, message string) error {
	if ticketKey == "" {
		return &ValidationError{Field: "ticket_key", Message: "must not be empty"}
	}
	if !from.IsValid() {
		return &ValidationError{Field: "from", Message: fmt.Sprintf("unknown phase %q", string(from))}
	}
	if !to.IsValid() || to == PhaseNone {
		return &ValidationError{Field: "to", Message: fmt.Sprintf("unknown phase %q", string(to))}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(ticketKey, from, to, message)
}

// transitionLocked is the commit path shared by RequestTransition and
// Fail. Callers hold m.mu.
func (m *Machine) transitionLocked(ticketKey string, from, to Phase, message string) error {
	rec, exists := m.phases[ticketKey]
	current := PhaseNone
	if exists {
		current = rec.phase
	}

	// A terminal record does not block a fresh run: the previous run is
	// over, so none -> Analyzing starts a new one.
	effective := current
	if current.IsTerminal() && from == PhaseNone {
		effective = PhaseNone
	}

	if effective != from {
		reason := ErrWorkflowBusy
		switch {
		case !exists:
			// Caller expects an active run that was never started.
			reason = ErrUnknownTicket
		case current.IsTerminal():
			// Nothing is in flight; the caller's expectation is stale.
			reason = ErrIllegalTransition
		}
		err := &TransitionError{TicketKey: ticketKey, From: from, To: to, Current: current, Err: reason}
		m.logger.Warn("transition rejected",
			"ticket", ticketKey, "from", from.String(), "to", to.String(),
			"current", current.String(), "reason", reason.Error())
		return err
	}

	if !from.CanTransitionTo(to) {
		err := &TransitionError{TicketKey: ticketKey, From: from, To: to, Current: current, Err: ErrIllegalTransition}
		m.logger.Warn("transition rejected",
			"ticket", ticketKey, "from", from.String(), "to", to.String(),
			"current", current.String(), "reason", "illegal edge")
		return err
	}

	m.phases[ticketKey] = phaseRecord{phase: to, updatedAt: time.Now().UTC()}

	m.logger.Info("phase transition",
		"ticket", ticketKey, "from", from.String(), "to", to.String())

	// Emitted under the lock so per-ticket event order matches phase
	// order. The emitter enqueues without blocking; delivery happens
	// elsewhere and its failure never rolls back the commit.
	if m.emitter != nil {
		if message == "" {
			message = defaultTransitionMessage(to)
		}
		m.emitter.Emit(ticketKey, to, PhasePercent[to], message)
	}
	return nil
}

// Fail moves the ticket to PhaseFailed from whatever non-terminal phase
// it is in, attaching the cause to the progress message. It is a no-op
// returning an error for tickets with no active run.
func (m *Machine) Fail(ticketKey string, cause string) error {
	if ticketKey == "" {
		return &ValidationError{Field: "ticket_key", Message: "must not be empty"}
	}

	// Read and commit under one lock so a transition cannot interleave
	// between deciding the from phase and applying the failure.
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.phases[ticketKey]
	if !exists || rec.phase.IsTerminal() {
		current := PhaseNone
		if exists {
			current = rec.phase
		}
		return &TransitionError{TicketKey: ticketKey, From: current, To: PhaseFailed, Current: current, Err: ErrIllegalTransition}
	}
	msg := "workflow failed"
	if cause != "" {
		msg = "workflow failed: " + cause
	}
	return m.transitionLocked(ticketKey, rec.phase, PhaseFailed, msg)
}

// Active returns the keys of all tickets with a non-terminal phase.
func (m *Machine) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.phases))
	for key, rec := range m.phases {
		if !rec.phase.IsTerminal() && rec.phase != PhaseNone {
			keys = append(keys, key)
		}
	}
	return keys
}

func defaultTransitionMessage(p Phase) string {
	switch p {
	case PhaseAnalyzing:
		return "Analyzing ticket"
	case PhaseAwaitingApproval:
		return "Analysis complete, awaiting approval"
	case PhaseImplementing:
		return "Implementing change"
	case PhaseBuilding:
		return "Building"
	case PhaseTesting:
		return "Running tests"
	case PhaseCompleted:
		return "Workflow completed"
	case PhaseFailed:
		return "Workflow failed"
	default:
		return ""
	}
}
