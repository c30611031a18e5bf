package ticketorchestrator

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the ticket orchestrator component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "ticket-orchestrator",
		Factory:     NewComponent,
		Schema:      ticketOrchestratorSchema,
		Type:        "processor",
		Protocol:    "workflow",
		Domain:      "ticket",
		Description: "Drives ticket-triggered code change runs through analysis, approval, implementation, build, and test",
		Version:     "0.1.0",
	})
}
