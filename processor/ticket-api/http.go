package ticketapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/c360studio/ticketflow/workflow"
)

// registerRoutes wires the ticket API endpoints onto the mux.
func (c *Component) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/tickets", c.handleListRuns)
	mux.HandleFunc("/tickets/", c.handleTicket)
	mux.HandleFunc("/healthz", c.handleHealthz)
}

func (c *Component) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleListRuns handles GET /tickets and returns all persisted runs.
func (c *Component) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c.requestsServed.Add(1)
	c.updateLastActivity()

	runs, err := c.store.List(r.Context())
	if err != nil {
		c.requestsFailed.Add(1)
		c.logger.Error("Failed to list runs", "error", err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	c.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleTicket routes /tickets/{key}/{endpoint} requests.
func (c *Component) handleTicket(w http.ResponseWriter, r *http.Request) {
	c.requestsServed.Add(1)
	c.updateLastActivity()

	key, endpoint := extractKeyAndEndpoint(r.URL.Path)
	if err := workflow.ValidateTicketKey(key); err != nil {
		http.Error(w, "Invalid ticket key", http.StatusBadRequest)
		return
	}

	switch {
	case endpoint == "workflow" && r.Method == http.MethodPost:
		c.handleTrigger(w, r, key)
	case endpoint == "approval" && r.Method == http.MethodPost:
		c.handleApprove(w, r, key)
	case endpoint == "" && r.Method == http.MethodGet:
		c.handleGetRun(w, r, key)
	case endpoint == "events" && r.Method == http.MethodGet:
		c.handleEvents(w, r, key)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// triggerRequest is the POST /tickets/{key}/workflow body.
type triggerRequest struct {
	RequestedBy string `json:"requested_by"`
	AutoApprove bool   `json:"auto_approve"`
}

// handleTrigger publishes a workflow trigger for the ticket.
func (c *Component) handleTrigger(w http.ResponseWriter, r *http.Request, key string) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	trigger := &workflow.TriggerPayload{
		TicketKey:   key,
		RequestedBy: req.RequestedBy,
		RequestID:   uuid.NewString(),
		AutoApprove: req.AutoApprove,
	}

	if err := c.publishPayload(r.Context(), workflow.WorkflowTrigger.Pattern, trigger); err != nil {
		c.requestsFailed.Add(1)
		c.logger.Error("Failed to publish trigger", "ticket", key, "error", err)
		http.Error(w, "Failed to publish trigger", http.StatusInternalServerError)
		return
	}

	c.logger.Info("Workflow trigger published",
		"ticket", key,
		"request_id", trigger.RequestID,
		"auto_approve", trigger.AutoApprove)

	c.writeJSON(w, http.StatusAccepted, map[string]string{
		"ticket_key": key,
		"request_id": trigger.RequestID,
		"status":     "triggered",
	})
}

// approveRequest is the POST /tickets/{key}/approval body.
type approveRequest struct {
	Approved bool   `json:"approved"`
	Approver string `json:"approver"`
	Comment  string `json:"comment"`
}

// handleApprove publishes an approval gate decision for the ticket.
func (c *Component) handleApprove(w http.ResponseWriter, r *http.Request, key string) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	approval := &workflow.ApprovalPayload{
		TicketKey: key,
		Approved:  req.Approved,
		Approver:  req.Approver,
		Comment:   req.Comment,
	}

	if err := c.publishPayload(r.Context(), workflow.ApprovalTrigger.Pattern, approval); err != nil {
		c.requestsFailed.Add(1)
		c.logger.Error("Failed to publish approval", "ticket", key, "error", err)
		http.Error(w, "Failed to publish approval", http.StatusInternalServerError)
		return
	}

	c.logger.Info("Approval decision published",
		"ticket", key,
		"approved", req.Approved,
		"approver", req.Approver)

	c.writeJSON(w, http.StatusAccepted, map[string]any{
		"ticket_key": key,
		"approved":   req.Approved,
		"status":     "submitted",
	})
}

// handleGetRun handles GET /tickets/{key} and returns the persisted run.
func (c *Component) handleGetRun(w http.ResponseWriter, r *http.Request, key string) {
	rec, err := c.store.Load(r.Context(), key)
	if err != nil {
		if errors.Is(err, workflow.ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		c.requestsFailed.Add(1)
		c.logger.Error("Failed to load run", "ticket", key, "error", err)
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return
	}

	c.writeJSON(w, http.StatusOK, rec)
}

// handleEvents streams per-ticket workflow events over SSE.
func (c *Component) handleEvents(w http.ResponseWriter, r *http.Request, key string) {
	ctx := r.Context()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	flusher.Flush()

	nc := c.natsClient.GetConnection()
	if nc == nil {
		c.sendSSEEvent(w, flusher, "error", map[string]string{"message": "event stream not available"})
		return
	}

	msgCh := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(workflow.EventSubjectAll(key), msgCh)
	if err != nil {
		c.logger.Error("Failed to subscribe to ticket events", "ticket", key, "error", err)
		c.sendSSEEvent(w, flusher, "error", map[string]string{"message": "failed to subscribe"})
		return
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug("Unsubscribe failed", "ticket", key, "error", err)
		}
	}()

	if err := c.sendSSEEvent(w, flusher, "connected", map[string]string{"ticket_key": key}); err != nil {
		return
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	var eventID uint64

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			eventID++
			if err := c.sendSSEEventWithID(w, flusher, eventID, "heartbeat", map[string]any{}); err != nil {
				c.logger.Debug("Client disconnected during heartbeat", "ticket", key, "error", err)
				return
			}

		case msg, ok := <-msgCh:
			if !ok {
				return
			}

			event, err := workflow.ParseTicketMessage[workflow.Event](msg.Data)
			if err != nil {
				c.logger.Warn("Failed to parse ticket event", "subject", msg.Subject, "error", err)
				continue
			}

			eventID++
			if err := c.sendSSEEventWithID(w, flusher, eventID, string(event.Kind), event); err != nil {
				c.logger.Debug("Client disconnected during event", "ticket", key, "error", err)
				return
			}
		}
	}
}

// publishPayload wraps a payload in a base message and publishes it to
// the trigger stream.
func (c *Component) publishPayload(ctx context.Context, subject string, payload message.Payload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	baseMsg := message.NewBaseMessage(payload.Schema(), payload, "ticket-api")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.natsClient.PublishToStream(ctx, subject, data)
}

func (c *Component) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.Warn("Failed to write response", "error", err)
	}
}

func (c *Component) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	return c.sendSSEEventWithID(w, flusher, 0, eventType, data)
}

func (c *Component) sendSSEEventWithID(w http.ResponseWriter, flusher http.Flusher, id uint64, eventType string, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("Failed to marshal SSE data", "error", err)
		return nil
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return fmt.Errorf("write event type: %w", err)
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", dataBytes); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}

	flusher.Flush()
	return nil
}

// extractKeyAndEndpoint splits /tickets/{key}/{endpoint} paths.
func extractKeyAndEndpoint(path string) (key, endpoint string) {
	idx := strings.Index(path, "/tickets/")
	if idx == -1 {
		return "", ""
	}

	remainder := path[idx+len("/tickets/"):]
	parts := strings.SplitN(remainder, "/", 2)
	if len(parts) == 0 {
		return "", ""
	}

	key = parts[0]
	if len(parts) > 1 {
		endpoint = strings.TrimSuffix(parts[1], "/")
	}
	return key, endpoint
}
