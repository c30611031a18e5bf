// Package ticketorchestrator provides the processor that drives ticket
// workflow runs. It consumes trigger and approval messages from
// JetStream and hands them to the workflow engine.
package ticketorchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/ticketflow/aigen"
	"github.com/c360studio/ticketflow/engine"
	"github.com/c360studio/ticketflow/gitops"
	"github.com/c360studio/ticketflow/runner"
	"github.com/c360studio/ticketflow/tracker/githubcli"
	"github.com/c360studio/ticketflow/workflow"
)

// Component implements the ticket-orchestrator processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	engine *engine.Engine
	events *workflow.Broadcaster

	// JetStream consumer
	consumer jetstream.Consumer
	stream   jetstream.Stream

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	triggersProcessed atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	lastActivityMu    sync.RWMutex
	lastActivity      time.Time
}

// NewComponent creates a new ticket-orchestrator processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.RepoRoot == "" {
		config.RepoRoot = defaults.RepoRoot
	}
	if config.BaseBranch == "" {
		config.BaseBranch = defaults.BaseBranch
	}
	if config.DataDir == "" {
		config.DataDir = defaults.DataDir
	}
	if config.GuardPatterns == nil {
		config.GuardPatterns = defaults.GuardPatterns
	}
	if config.BuildCommand == "" {
		config.BuildCommand = defaults.BuildCommand
	}
	if config.TestCommand == "" {
		config.TestCommand = defaults.TestCommand
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if env := os.Getenv("TICKETFLOW_REPO_PATH"); env != "" {
		config.RepoRoot = env
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.GetLogger()

	events := workflow.NewBroadcaster(logger,
		workflow.WithPublisher(deps.NATSClient, "ticket-orchestrator"))
	machine := workflow.NewMachine(events, logger)
	store := workflow.NewRunStore(config.DataDir)

	aiClient, err := aigen.NewClient(aigen.Config{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: config.ModelEndpoint,
		Model:   config.Model,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	trackerClient := githubcli.NewClient(config.RepoRoot, logger)
	gitClient := gitops.NewClient(config.RepoRoot, logger)
	buildRunner := runner.New(config.RepoRoot,
		strings.Fields(config.BuildCommand), strings.Fields(config.TestCommand), logger)

	eng := engine.New(machine, events, store, trackerClient, aiClient, aiClient, gitClient, buildRunner, engine.Options{
		RepoRoot:      config.RepoRoot,
		BaseBranch:    config.BaseBranch,
		AutoApprove:   config.AutoApprove,
		GuardPatterns: config.GuardPatterns,
	}, logger)

	return &Component{
		name:       "ticket-orchestrator",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     logger,
		engine:     eng,
		events:     events,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized ticket-orchestrator",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"repo_root", c.config.RepoRoot)
	return nil
}

// Start begins consuming workflow triggers and approval decisions.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}
	c.stream = stream

	// One consumer covers both trigger subjects. AckWait is generous
	// because a run holds the message through analysis.
	consumerConfig := jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: "ticket.trigger.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       600 * time.Second,
		MaxDeliver:    3,
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, consumerConfig)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)

	c.logger.Info("ticket-orchestrator started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"repo_root", c.config.RepoRoot)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes messages from the JetStream consumer.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleMessage routes a trigger or approval message to the engine.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message during shutdown", "error", err)
		}
		return
	}

	c.triggersProcessed.Add(1)
	c.updateLastActivity()

	var err error
	switch msg.Subject() {
	case workflow.WorkflowTrigger.Pattern:
		err = c.handleTrigger(ctx, msg.Data())
	case workflow.ApprovalTrigger.Pattern:
		err = c.handleApproval(ctx, msg.Data())
	default:
		c.logger.Warn("Unexpected subject", "subject", msg.Subject())
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("Failed to ACK message", "error", ackErr)
		}
		return
	}

	if err != nil {
		c.runsFailed.Add(1)
		c.logger.Error("Run processing failed",
			"subject", msg.Subject(),
			"error", err)
		// A run that reached a terminal phase must not redeliver. Only
		// transient guard rejections are worth a retry.
		if isRetryable(err) {
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("Failed to ACK message", "error", ackErr)
		}
		return
	}

	c.runsCompleted.Add(1)
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}
}

// handleTrigger starts a workflow run from a trigger message.
func (c *Component) handleTrigger(ctx context.Context, data []byte) error {
	trigger, err := workflow.ParseTicketMessage[workflow.TriggerPayload](data)
	if err != nil {
		return fmt.Errorf("parse trigger: %w", err)
	}

	c.logger.Info("Processing workflow trigger",
		"ticket", trigger.TicketKey,
		"requested_by", trigger.RequestedBy,
		"auto_approve", trigger.AutoApprove)

	return c.engine.StartRun(ctx, trigger)
}

// handleApproval resolves an approval gate decision.
func (c *Component) handleApproval(ctx context.Context, data []byte) error {
	approval, err := workflow.ParseTicketMessage[workflow.ApprovalPayload](data)
	if err != nil {
		return fmt.Errorf("parse approval: %w", err)
	}

	c.logger.Info("Processing approval decision",
		"ticket", approval.TicketKey,
		"approved", approval.Approved,
		"approver", approval.Approver)

	return c.engine.Approve(ctx, approval)
}

// isRetryable reports whether a redelivery could change the outcome.
// A busy run may clear; everything else has already posted a report.
func isRetryable(err error) bool {
	return errors.Is(err, workflow.ErrWorkflowBusy)
}

// Stop gracefully stops the component.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err := c.events.Close(timeout); err != nil {
		c.logger.Warn("Event broadcaster did not drain before timeout", "error", err)
	}

	c.logger.Info("ticket-orchestrator stopped",
		"triggers_processed", c.triggersProcessed.Load(),
		"runs_completed", c.runsCompleted.Load(),
		"runs_failed", c.runsFailed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "ticket-orchestrator",
		Type:        "processor",
		Description: "Drives ticket-triggered code change runs through analysis, approval, implementation, build, and test",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return ticketOrchestratorSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.runsFailed.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
