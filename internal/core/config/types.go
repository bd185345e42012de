// Package config resolves a release's layered configuration sources into one
// unified deployment configuration. All functions are pure; the resolver
// depends only on its inputs and the registry it was constructed with, so
// identical inputs produce identical output.
package config

import (
	"github.com/leger-labs/leger/internal/core/catalog"
	"github.com/leger-labs/leger/internal/core/domain"
)

// =============================================================================
// Unified Deployment Configuration
// =============================================================================

// UnifiedDeploymentConfig is the derived, ephemeral result of resolving all
// configuration sources for one deploy. It is recomputed on every deploy and
// never persisted.
type UnifiedDeploymentConfig struct {
	Infrastructure InfrastructureConfig `json:"infrastructure"`

	// Features maps feature name to enabled flag, inferred from providers
	// and finalized by explicit overrides.
	Features map[string]bool `json:"features"`

	// Providers maps feature category to the selected provider id. Disabled
	// categories are absent, never mapped to a sentinel.
	Providers map[string]string `json:"providers"`

	// ProviderConfig is the flat settings bag contributed by the selected
	// providers' default configuration blocks, in category order.
	ProviderConfig []catalog.Setting `json:"provider_config,omitempty"`

	Tailscale domain.TailscaleConfig `json:"tailscale"`

	// Secrets maps secret name to value for the deploy's owner.
	Secrets map[string]string `json:"secrets,omitempty"`

	Models ModelConfig `json:"models"`
}

// InfrastructureConfig carries the network definition, declarative service
// data when present, and literal infrastructure overrides.
type InfrastructureConfig struct {
	Network NetworkConfig `json:"network"`

	// Services holds declaratively supplied service descriptors (e.g. from
	// marketplace selections). When empty, the service set is inferred from
	// features and providers instead.
	Services map[string]catalog.ServiceDescriptor `json:"services,omitempty"`

	// ServiceOrder fixes the iteration order of Services.
	ServiceOrder []string `json:"service_order,omitempty"`

	// WebUIName overrides the chat UI container name when non-empty.
	WebUIName string `json:"webui_name,omitempty"`

	// EnvOverrides maps service name to ordered environment overrides.
	EnvOverrides map[string][]catalog.EnvVar `json:"env_overrides,omitempty"`
}

// NetworkConfig names the pod network and optionally pins its subnet.
type NetworkConfig struct {
	Name   string `json:"name"`
	Subnet string `json:"subnet,omitempty"`
}

// ModelConfig splits resolved model ids into cloud-hosted and local.
type ModelConfig struct {
	Cloud []string `json:"cloud,omitempty"`
	Local []string `json:"local,omitempty"`
}

// Declarative reports whether declarative service data is present, which
// selects the declarative service-set mode downstream.
func (c *UnifiedDeploymentConfig) Declarative() bool {
	return len(c.Infrastructure.Services) > 0
}
