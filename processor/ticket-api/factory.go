package ticketapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the ticket API component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "ticket-api",
		Factory:     NewComponent,
		Schema:      ticketAPISchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "ticket",
		Description: "HTTP API for triggering ticket runs, approving plans, and streaming run events",
		Version:     "0.1.0",
	})
}
