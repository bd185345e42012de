// Package graph derives the concrete set of services to deploy and their
// start-order dependency edges from a unified deployment configuration.
package graph

import (
	"github.com/leger-labs/leger/internal/core/catalog"
	"github.com/leger-labs/leger/internal/core/config"
)

// =============================================================================
// Service Source
// =============================================================================

// ServiceSource is the tagged variant selecting how the service set is
// determined. It is resolved exactly once, at the configuration-resolution
// boundary, so downstream consumers never re-branch on the raw config.
type ServiceSource interface {
	isServiceSource()
}

// Declarative includes every listed service that is not explicitly disabled.
type Declarative struct {
	Services map[string]catalog.ServiceDescriptor
	Order    []string
}

func (Declarative) isServiceSource() {}

// Inferred derives the set from the mandatory core services plus one service
// group per enabled feature/provider pair.
type Inferred struct {
	Features  map[string]bool
	Providers map[string]string
}

func (Inferred) isServiceSource() {}

// SourceFor resolves the variant for a unified configuration: declarative
// when service data is present, inferred otherwise.
func SourceFor(cfg *config.UnifiedDeploymentConfig) ServiceSource {
	if cfg.Declarative() {
		return Declarative{
			Services: cfg.Infrastructure.Services,
			Order:    cfg.Infrastructure.ServiceOrder,
		}
	}
	return Inferred{
		Features:  cfg.Features,
		Providers: cfg.Providers,
	}
}
