package ticketapi

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/ticketflow/workflow"
)

// ticketAPISchema defines the configuration schema.
var ticketAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the ticket API component.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `json:"listen_addr" schema:"type:string,description:HTTP listen address,category:basic,default::8090"`

	// StreamName is the JetStream stream triggers are published to.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream for ticket triggers,category:basic,default:TICKET"`

	// DataDir is the directory run records are read from.
	DataDir string `json:"data_dir" schema:"type:string,description:Directory for persisted run records,category:basic,default:./data/ticketflow"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8090",
		StreamName: "TICKET",
		DataDir:    "./data/ticketflow",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "ticket-events",
					Type:        "nats",
					Subject:     workflow.EventSubjectPrefix + ".>",
					Description: "Subscribe to per-ticket progress and result events",
					Required:    false,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "workflow-triggers",
					Type:        "jetstream",
					Subject:     workflow.TriggerWorkflowSubject,
					StreamName:  "TICKET",
					Description: "Publish ticket workflow triggers",
					Required:    true,
				},
				{
					Name:        "approval-decisions",
					Type:        "jetstream",
					Subject:     workflow.TriggerApprovalSubject,
					StreamName:  "TICKET",
					Description: "Publish approval gate decisions",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	return nil
}
