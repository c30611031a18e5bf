package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semstreams/message"
)

const (
	// defaultQueueSize bounds the per-ticket event queue.
	defaultQueueSize = 64

	// subscriberBuffer bounds each subscriber channel. A subscriber that
	// falls this far behind starts losing events.
	subscriberBuffer = 16

	// publishTimeout bounds each remote publish attempt.
	publishTimeout = 5 * time.Second
)

// Publisher pushes serialized events to remote subscribers. The NATS
// client satisfies this. A nil Publisher keeps fan-out in-process only.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Broadcaster fans workflow events out to subscribers partitioned by
// ticket key. Delivery is best-effort and never blocks the emitter: each
// ticket gets a worker goroutine draining a bounded queue, so a slow
// subscriber on one ticket cannot stall another ticket's events. Events
// for a single ticket are delivered in emission order.
type Broadcaster struct {
	mu        sync.Mutex
	streams   map[string]*ticketStream
	closed    bool
	wg        sync.WaitGroup
	queueSize int
	publisher Publisher
	source    string
	logger    *slog.Logger
}

type ticketStream struct {
	mu     sync.Mutex
	queue  chan Event
	subs   map[int]chan Event
	nextID int
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithPublisher mirrors every event to the remote transport. Publish
// failures are logged and never surface to emitters.
func WithPublisher(p Publisher, sourceName string) BroadcasterOption {
	return func(b *Broadcaster) {
		b.publisher = p
		b.source = sourceName
	}
}

// WithQueueSize overrides the per-ticket queue bound.
func WithQueueSize(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// NewBroadcaster creates a broadcaster. Call Close to release its
// worker goroutines.
func NewBroadcaster(logger *slog.Logger, opts ...BroadcasterOption) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broadcaster{
		streams:   make(map[string]*ticketStream),
		queueSize: defaultQueueSize,
		source:    "ticketflow",
		logger:    logger.With("component", "broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit enqueues a progress event for the ticket.
func (b *Broadcaster) Emit(ticketKey string, phase Phase, percent int, message string) {
	b.enqueue(Event{
		Kind:      EventProgress,
		TicketKey: ticketKey,
		Timestamp: time.Now().UTC(),
		Progress:  &Progress{Phase: phase, Percent: percent, Message: message},
	})
}

// EmitAnalysisCompleted enqueues the finished analysis for the ticket.
func (b *Broadcaster) EmitAnalysisCompleted(ticketKey string, result *AnalysisResult) {
	b.enqueue(Event{
		Kind:      EventAnalysisCompleted,
		TicketKey: ticketKey,
		Timestamp: time.Now().UTC(),
		Analysis:  result,
	})
}

// EmitImplementationCompleted enqueues the finished implementation for
// the ticket.
func (b *Broadcaster) EmitImplementationCompleted(ticketKey string, result *ImplementationResult) {
	b.enqueue(Event{
		Kind:           EventImplementationCompleted,
		TicketKey:      ticketKey,
		Timestamp:      time.Now().UTC(),
		Implementation: result,
	})
}

// EmitError enqueues a non-fatal error notification for the ticket.
func (b *Broadcaster) EmitError(ticketKey string, phase Phase, errorMessage string) {
	b.enqueue(Event{
		Kind:      EventWorkflowError,
		TicketKey: ticketKey,
		Timestamp: time.Now().UTC(),
		Error:     &WorkflowError{Phase: phase, Message: errorMessage},
	})
}

// Subscribe registers a subscriber for one ticket's events and returns
// the event channel plus an unsubscribe function. The channel is closed
// on unsubscribe or broadcaster shutdown. Events emitted while the
// subscriber's buffer is full are dropped for that subscriber only.
func (b *Broadcaster) Subscribe(ticketKey string) (<-chan Event, func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrBroadcasterClosed
	}
	ts := b.stream(ticketKey)
	b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	ts.mu.Lock()
	id := ts.nextID
	ts.nextID++
	ts.subs[id] = ch
	ts.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ts.mu.Lock()
			if _, ok := ts.subs[id]; ok {
				delete(ts.subs, id)
				close(ch)
			}
			ts.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// Close stops all ticket workers, waiting up to timeout for queued
// events to drain. Subscriber channels are closed once their worker
// exits. Emit calls after Close are dropped.
func (b *Broadcaster) Close(timeout time.Duration) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, ts := range b.streams {
		close(ts.queue)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		b.logger.Warn("broadcaster close timed out with events still queued")
		return context.DeadlineExceeded
	}
}

// stream returns the ticket's stream, starting its worker on first use.
// Caller holds b.mu.
func (b *Broadcaster) stream(ticketKey string) *ticketStream {
	ts, ok := b.streams[ticketKey]
	if !ok {
		ts = &ticketStream{
			queue: make(chan Event, b.queueSize),
			subs:  make(map[int]chan Event),
		}
		b.streams[ticketKey] = ts
		b.wg.Add(1)
		go b.run(ticketKey, ts)
	}
	return ts
}

func (b *Broadcaster) enqueue(ev Event) {
	if err := ev.Validate(); err != nil {
		b.logger.Error("dropping invalid event", "ticket", ev.TicketKey, "kind", string(ev.Kind), "error", err)
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("event emitted after close", "ticket", ev.TicketKey, "kind", string(ev.Kind))
		return
	}
	ts := b.stream(ev.TicketKey)
	b.mu.Unlock()

	select {
	case ts.queue <- ev:
	default:
		// Queue overflow drops the newest event. Progress is advisory;
		// correctness never depends on delivery.
		b.logger.Warn("event queue full, dropping event",
			"ticket", ev.TicketKey, "kind", string(ev.Kind))
	}
}

// run drains one ticket's queue until the broadcaster closes.
func (b *Broadcaster) run(ticketKey string, ts *ticketStream) {
	defer b.wg.Done()
	for ev := range ts.queue {
		b.publishRemote(&ev)

		ts.mu.Lock()
		for id, ch := range ts.subs {
			select {
			case ch <- ev:
			default:
				b.logger.Warn("subscriber buffer full, dropping event",
					"ticket", ticketKey, "subscriber", id, "kind", string(ev.Kind))
			}
		}
		ts.mu.Unlock()
	}

	ts.mu.Lock()
	for id, ch := range ts.subs {
		delete(ts.subs, id)
		close(ch)
	}
	ts.mu.Unlock()
}

func (b *Broadcaster) publishRemote(ev *Event) {
	if b.publisher == nil {
		return
	}
	msg := message.NewBaseMessage(ev.Schema(), ev, b.source)
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal event", "ticket", ev.TicketKey, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.publisher.Publish(ctx, EventSubject(ev.TicketKey, ev.Kind), data); err != nil {
		// Delivery failure must never reach the emitter.
		b.logger.Warn("remote event publish failed",
			"ticket", ev.TicketKey, "kind", string(ev.Kind), "error", err)
	}
}
