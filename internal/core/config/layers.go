package config

import (
	"github.com/leger-labs/leger/internal/core/catalog"
)

// =============================================================================
// Patch Layers
// =============================================================================

// Patch is one partial configuration: only the fields a layer mentions are
// applied. Map fields merge per key, pointer fields override when non-nil,
// and model lists replace when non-nil. A layer never wholesale-replaces a
// sibling field it does not mention.
type Patch struct {
	NetworkName   *string
	NetworkSubnet *string

	// Services adds declarative service descriptors; ServiceOrder fixes
	// their first-seen iteration order.
	Services     map[string]catalog.ServiceDescriptor
	ServiceOrder []string

	// Providers maps category to provider id. A nil value removes the
	// category (explicit disable); a non-nil value overrides it.
	Providers map[string]*string

	// ProviderConfig entries override earlier entries with the same key and
	// append otherwise, preserving order.
	ProviderConfig []catalog.Setting

	CloudModels []string
	LocalModels []string

	WebUIName    *string
	EnvOverrides map[string][]catalog.EnvVar
}

// Layer is a named patch. The name shows up in logs and tests so the
// precedence order stays a visible artifact.
type Layer struct {
	Name  string
	Patch Patch
}

// Merge applies the layers lowest-precedence first and returns the combined
// configuration. Later layers win field by field.
func Merge(layers []Layer) *UnifiedDeploymentConfig {
	cfg := &UnifiedDeploymentConfig{
		Features:  make(map[string]bool),
		Providers: make(map[string]string),
	}
	providers := make(map[string]*string)

	for _, layer := range layers {
		p := layer.Patch

		if p.NetworkName != nil {
			cfg.Infrastructure.Network.Name = *p.NetworkName
		}
		if p.NetworkSubnet != nil {
			cfg.Infrastructure.Network.Subnet = *p.NetworkSubnet
		}

		if len(p.Services) > 0 {
			if cfg.Infrastructure.Services == nil {
				cfg.Infrastructure.Services = make(map[string]catalog.ServiceDescriptor)
			}
			order := p.ServiceOrder
			if len(order) == 0 {
				order = sortedKeys(p.Services)
			}
			for _, name := range order {
				desc, ok := p.Services[name]
				if !ok {
					continue
				}
				if _, seen := cfg.Infrastructure.Services[name]; !seen {
					cfg.Infrastructure.ServiceOrder = append(cfg.Infrastructure.ServiceOrder, name)
				}
				cfg.Infrastructure.Services[name] = desc
			}
		}

		for category, provider := range p.Providers {
			providers[category] = provider
		}

		for _, setting := range p.ProviderConfig {
			cfg.ProviderConfig = upsertSetting(cfg.ProviderConfig, setting)
		}

		if p.CloudModels != nil {
			cfg.Models.Cloud = append([]string(nil), p.CloudModels...)
		}
		if p.LocalModels != nil {
			cfg.Models.Local = append([]string(nil), p.LocalModels...)
		}

		if p.WebUIName != nil {
			cfg.Infrastructure.WebUIName = *p.WebUIName
		}
		if len(p.EnvOverrides) > 0 {
			if cfg.Infrastructure.EnvOverrides == nil {
				cfg.Infrastructure.EnvOverrides = make(map[string][]catalog.EnvVar)
			}
			for svc, vars := range p.EnvOverrides {
				cfg.Infrastructure.EnvOverrides[svc] = mergeEnv(cfg.Infrastructure.EnvOverrides[svc], vars)
			}
		}
	}

	// Entries whose resolved value is absent are dropped rather than mapped
	// to a sentinel.
	for category, provider := range providers {
		if provider != nil && *provider != "" {
			cfg.Providers[category] = *provider
		}
	}

	return cfg
}

// upsertSetting overrides an existing key in place or appends a new one,
// keeping declaration order stable.
func upsertSetting(settings []catalog.Setting, s catalog.Setting) []catalog.Setting {
	for i := range settings {
		if settings[i].Key == s.Key {
			settings[i].Value = s.Value
			return settings
		}
	}
	return append(settings, s)
}

// mergeEnv overlays vars onto base by key, preserving base order and
// appending new keys in vars order.
func mergeEnv(base, vars []catalog.EnvVar) []catalog.EnvVar {
	out := append([]catalog.EnvVar(nil), base...)
	for _, v := range vars {
		replaced := false
		for i := range out {
			if out[i].Key == v.Key {
				out[i].Value = v.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, v)
		}
	}
	return out
}
