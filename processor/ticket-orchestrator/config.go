package ticketorchestrator

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/ticketflow/workflow"
)

// ticketOrchestratorSchema defines the configuration schema.
var ticketOrchestratorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the ticket orchestrator component.
type Config struct {
	// StreamName is the JetStream stream for consuming workflow triggers.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream for ticket triggers,category:basic,default:TICKET"`

	// ConsumerName is the durable consumer name for trigger consumption.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name for trigger consumption,category:basic,default:ticket-orchestrator"`

	// RepoRoot is the working tree that runs operate on.
	RepoRoot string `json:"repo_root" schema:"type:string,description:Repository working tree for implementation runs,category:basic,default:."`

	// BaseBranch is the branch runs fork from and pull requests target.
	BaseBranch string `json:"base_branch" schema:"type:string,description:Base branch for run branches and pull requests,category:basic,default:main"`

	// DataDir is the directory run records persist under.
	DataDir string `json:"data_dir" schema:"type:string,description:Directory for persisted run records,category:basic,default:./data/ticketflow"`

	// AutoApprove skips the manual approval gate for all runs.
	AutoApprove bool `json:"auto_approve" schema:"type:boolean,description:Skip the approval gate for every run,category:basic,default:false"`

	// GuardPatterns are glob patterns for paths no run may modify.
	GuardPatterns []string `json:"guard_patterns" schema:"type:array,description:Glob patterns for paths protected from modification,category:advanced,default:[.github/**,go.mod,go.sum]"`

	// BuildCommand overrides the default build command.
	BuildCommand string `json:"build_command" schema:"type:string,description:Build command run during the build phase,category:advanced,default:go build ./..."`

	// TestCommand overrides the default test command.
	TestCommand string `json:"test_command" schema:"type:string,description:Test command run during the test phase,category:advanced,default:go test -v -cover ./..."`

	// Model is the LLM model used for analysis and implementation.
	Model string `json:"model" schema:"type:string,description:LLM model for analysis and implementation,category:advanced,default:gpt-4o"`

	// ModelEndpoint overrides the OpenAI-compatible API endpoint.
	ModelEndpoint string `json:"model_endpoint" schema:"type:string,description:OpenAI-compatible API endpoint override,category:advanced"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:    "TICKET",
		ConsumerName:  "ticket-orchestrator",
		RepoRoot:      ".",
		BaseBranch:    "main",
		DataDir:       "./data/ticketflow",
		GuardPatterns: []string{".github/**", "go.mod", "go.sum"},
		BuildCommand:  "go build ./...",
		TestCommand:   "go test -v -cover ./...",
		Model:         "gpt-4o",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "workflow-triggers",
					Type:        "jetstream",
					Subject:     workflow.TriggerWorkflowSubject,
					StreamName:  "TICKET",
					Description: "Receive ticket workflow triggers",
					Required:    true,
				},
				{
					Name:        "approval-decisions",
					Type:        "jetstream",
					Subject:     workflow.TriggerApprovalSubject,
					StreamName:  "TICKET",
					Description: "Receive approval gate decisions",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "ticket-events",
					Type:        "nats",
					Subject:     workflow.EventSubjectPrefix + ".>",
					Description: "Publish per-ticket progress and result events",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.RepoRoot == "" {
		return fmt.Errorf("repo_root is required")
	}
	if c.BaseBranch == "" {
		return fmt.Errorf("base_branch is required")
	}
	return nil
}
