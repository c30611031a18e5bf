package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func collectEvents(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	deadline := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d events, want %d", len(events), n)
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out after %d events, want %d", len(events), n)
		}
	}
	return events
}

func TestBroadcasterPerTicketFIFO(t *testing.T) {
	b := NewBroadcaster(nil)
	defer func() { _ = b.Close(time.Second) }()

	ch, cancel, err := b.Subscribe("PROJ-1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	phases := []Phase{PhaseAnalyzing, PhaseAwaitingApproval, PhaseImplementing}
	for _, p := range phases {
		b.Emit("PROJ-1", p, PhasePercent[p], "")
	}

	events := collectEvents(t, ch, len(phases))
	for i, ev := range events {
		if ev.Kind != EventProgress {
			t.Fatalf("event %d kind = %s, want progress", i, ev.Kind)
		}
		if ev.Progress.Phase != phases[i] {
			t.Errorf("event %d phase = %s, want %s (order must match emission)", i, ev.Progress.Phase, phases[i])
		}
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte) error {
	return errors.New("nats: connection closed")
}

func TestBroadcasterFailingPublisherStillDeliversLocally(t *testing.T) {
	b := NewBroadcaster(nil, WithPublisher(failingPublisher{}, "test"))
	defer func() { _ = b.Close(time.Second) }()

	ch, cancel, err := b.Subscribe("PROJ-1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	b.Emit("PROJ-1", PhaseAnalyzing, PhasePercent[PhaseAnalyzing], "")
	b.Emit("PROJ-1", PhaseAwaitingApproval, PhasePercent[PhaseAwaitingApproval], "")

	events := collectEvents(t, ch, 2)
	if events[0].Progress.Phase != PhaseAnalyzing || events[1].Progress.Phase != PhaseAwaitingApproval {
		t.Errorf("local delivery disturbed by publish failures: %+v", events)
	}
}

func TestBroadcasterTicketIsolation(t *testing.T) {
	b := NewBroadcaster(nil)
	defer func() { _ = b.Close(time.Second) }()

	ch1, cancel1, _ := b.Subscribe("PROJ-1")
	defer cancel1()
	ch2, cancel2, _ := b.Subscribe("PROJ-2")
	defer cancel2()

	b.Emit("PROJ-1", PhaseAnalyzing, 10, "only for PROJ-1")

	ev := collectEvents(t, ch1, 1)[0]
	if ev.TicketKey != "PROJ-1" {
		t.Errorf("event ticket = %s, want PROJ-1", ev.TicketKey)
	}

	select {
	case ev := <-ch2:
		t.Errorf("PROJ-2 subscriber received %s event for %s", ev.Kind, ev.TicketKey)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcasterResultEvents(t *testing.T) {
	b := NewBroadcaster(nil)
	defer func() { _ = b.Close(time.Second) }()

	ch, cancel, _ := b.Subscribe("PROJ-3")
	defer cancel()

	analysis := &AnalysisResult{TicketKey: "PROJ-3", Complexity: ComplexityLow}
	impl := &ImplementationResult{TicketKey: "PROJ-3", Status: StatusCompleted}
	b.EmitAnalysisCompleted("PROJ-3", analysis)
	b.EmitImplementationCompleted("PROJ-3", impl)
	b.EmitError("PROJ-3", PhaseBuilding, "compiler crashed")

	events := collectEvents(t, ch, 3)
	if events[0].Kind != EventAnalysisCompleted || events[0].Analysis == nil {
		t.Errorf("event 0 = %+v, want analysis_completed with payload", events[0])
	}
	if events[1].Kind != EventImplementationCompleted || events[1].Implementation == nil {
		t.Errorf("event 1 = %+v, want implementation_completed with payload", events[1])
	}
	if events[2].Kind != EventWorkflowError || events[2].Error == nil {
		t.Errorf("event 2 = %+v, want error with payload", events[2])
	}
	if events[2].Error.Message != "compiler crashed" {
		t.Errorf("error message = %q", events[2].Error.Message)
	}
}

func TestBroadcasterSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	b := NewBroadcaster(nil, WithQueueSize(4))
	defer func() { _ = b.Close(time.Second) }()

	// Subscriber that never reads. Emitting far past every buffer bound
	// must still return promptly; overflow is dropped, not blocked on.
	_, cancel, _ := b.Subscribe("PROJ-4")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Emit("PROJ-4", PhaseAnalyzing, 10, "flood")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(nil)

	ch, cancel, _ := b.Subscribe("PROJ-5")
	defer cancel()
	b.Emit("PROJ-5", PhaseAnalyzing, 10, "before close")

	if err := b.Close(time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Queued event is drained, then the channel closes.
	ev := collectEvents(t, ch, 1)[0]
	if ev.Progress == nil || ev.Progress.Message != "before close" {
		t.Errorf("unexpected event %+v", ev)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel close after drain")
		}
	case <-time.After(time.Second):
		t.Error("subscriber channel not closed after Close")
	}

	// Post-close operations are safe no-ops or errors, never panics.
	b.Emit("PROJ-5", PhaseTesting, 80, "after close")
	if _, _, err := b.Subscribe("PROJ-5"); !errors.Is(err, ErrBroadcasterClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrBroadcasterClosed", err)
	}
	if err := b.Close(time.Second); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer func() { _ = b.Close(time.Second) }()

	ch, cancel, _ := b.Subscribe("PROJ-6")
	cancel()
	cancel() // Idempotent.

	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel should be closed")
	}

	// Emitting after unsubscribe reaches nobody but must not panic.
	b.Emit("PROJ-6", PhaseAnalyzing, 10, "")
}

func TestBroadcasterDropsInvalidEvents(t *testing.T) {
	b := NewBroadcaster(nil)
	defer func() { _ = b.Close(time.Second) }()

	ch, cancel, _ := b.Subscribe("PROJ-7")
	defer cancel()

	// Missing payload for the kind fails validation and is dropped.
	b.enqueue(Event{Kind: EventProgress, TicketKey: "PROJ-7", Timestamp: time.Now()})
	b.Emit("PROJ-7", PhaseAnalyzing, 10, "valid")

	ev := collectEvents(t, ch, 1)[0]
	if ev.Progress == nil || ev.Progress.Message != "valid" {
		t.Errorf("invalid event was delivered: %+v", ev)
	}
}
