package composeapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the compose-api component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        ServiceName,
		Factory:     NewComponent,
		Schema:      composeAPISchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "repoforge",
		Description: "Control plane API for manifest-driven repository composition",
		Version:     Version,
	})
}
