package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/dotenv"

	"github.com/leger-labs/leger/internal/core/catalog"
	"github.com/leger-labs/leger/internal/core/domain"
)

// =============================================================================
// Resolver
// =============================================================================

// Layer names, lowest precedence first. The order is the documented merge
// precedence and is asserted by tests.
const (
	LayerInfrastructureDefaults = "infrastructure-defaults"
	LayerProviderDefaults       = "provider-defaults"
	LayerReleaseConfig          = "release-config"
	LayerUserOverrides          = "user-overrides"
)

// Request carries every configuration source for one resolve.
type Request struct {
	Release  *domain.Release
	Config   *domain.ReleaseConfig
	Settings *domain.Settings
	Secrets  []domain.Secret

	// Marketplace holds descriptors for marketplace services the release
	// selected. Non-empty marketplace data switches the service set into
	// declarative mode.
	Marketplace map[string]catalog.ServiceDescriptor
}

// Resolver merges layered configuration sources into one unified deployment
// configuration using the registry it was built with.
type Resolver struct {
	registry *catalog.Registry
	logger   *slog.Logger
}

// NewResolver creates a resolver over the given registry.
func NewResolver(registry *catalog.Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		registry: registry,
		logger:   logger.With("component", "resolver"),
	}
}

// Resolve merges the request's sources with fixed precedence, lowest first:
// compiled-in infrastructure defaults, per-provider default configuration
// blocks, explicit release values, then literal user overrides. It fails
// with ErrPrerequisiteMissing when tailscale settings are absent and with
// ErrNotFound when the release has no saved configuration.
func (r *Resolver) Resolve(req Request) (*UnifiedDeploymentConfig, error) {
	if req.Settings == nil || req.Settings.Tailscale == nil {
		return nil, fmt.Errorf("%w: tailscale settings not configured", domain.ErrPrerequisiteMissing)
	}
	if req.Config == nil {
		return nil, fmt.Errorf("%w: release has no saved configuration", domain.ErrNotFound)
	}

	providers := r.effectiveProviders(req.Config)
	layers := []Layer{
		r.infrastructureDefaults(),
		r.providerDefaults(providers),
		r.releaseLayer(req),
		r.userOverrides(req.Config),
	}

	cfg := Merge(layers)

	r.inferFeatures(cfg, req.Config)
	r.applyModelFallback(cfg, req.Config)

	cfg.Tailscale = *req.Settings.Tailscale
	cfg.Secrets = make(map[string]string, len(req.Secrets))
	for _, s := range req.Secrets {
		cfg.Secrets[s.Name] = s.Value
	}

	return cfg, nil
}

// effectiveProviders seeds the providers map from category defaults and
// overwrites with explicit selections, in fixed category order.
func (r *Resolver) effectiveProviders(rc *domain.ReleaseConfig) []providerChoice {
	var out []providerChoice
	for _, c := range r.registry.Categories() {
		provider := c.DefaultProvider
		if sel, ok := lookupSelection(rc.ServiceSelections, c); ok {
			if sel == nil {
				provider = ""
			} else {
				provider = *sel
			}
		}
		if provider != "" {
			out = append(out, providerChoice{Category: c, Provider: provider})
		}
	}
	return out
}

type providerChoice struct {
	Category catalog.Category
	Provider string
}

func lookupSelection(selections map[string]*string, c catalog.Category) (*string, bool) {
	if v, ok := selections[c.SelectionKey]; ok {
		return v, true
	}
	if v, ok := selections[c.Name]; ok {
		return v, true
	}
	return nil, false
}

// infrastructureDefaults is layer 1: network naming from the registry.
func (r *Resolver) infrastructureDefaults() Layer {
	p := Patch{
		NetworkName: ptr(r.registry.NetworkName()),
		Providers:   make(map[string]*string),
	}
	if subnet := r.registry.NetworkSubnet(); subnet != "" {
		p.NetworkSubnet = ptr(subnet)
	}
	for _, c := range r.registry.Categories() {
		if c.DefaultProvider != "" {
			p.Providers[c.Name] = ptr(c.DefaultProvider)
		}
	}
	return Layer{Name: LayerInfrastructureDefaults, Patch: p}
}

// providerDefaults is layer 2: each selected provider's default
// configuration block, concatenated in category order.
func (r *Resolver) providerDefaults(choices []providerChoice) Layer {
	var settings []catalog.Setting
	for _, choice := range choices {
		settings = append(settings, r.registry.ProviderConfig(choice.Provider)...)
	}
	return Layer{Name: LayerProviderDefaults, Patch: Patch{ProviderConfig: settings}}
}

// releaseLayer is layer 3: explicit values from the saved release
// configuration, including marketplace service descriptors.
func (r *Resolver) releaseLayer(req Request) Layer {
	rc := req.Config
	p := Patch{Providers: make(map[string]*string)}

	for _, c := range r.registry.Categories() {
		if sel, ok := lookupSelection(rc.ServiceSelections, c); ok {
			p.Providers[c.Name] = sel
		}
	}

	if rc.Infrastructure.Network.Name != "" {
		p.NetworkName = ptr(rc.Infrastructure.Network.Name)
	}
	if rc.Infrastructure.Network.Subnet != "" {
		p.NetworkSubnet = ptr(rc.Infrastructure.Network.Subnet)
	}

	cloud, local := splitModels(append(append([]string(nil), rc.ModelAssignments.Chat...), rc.ModelAssignments.Embedding...))
	if len(rc.ModelAssignments.Chat) > 0 || len(rc.ModelAssignments.Embedding) > 0 {
		p.CloudModels = cloud
		p.LocalModels = local
	}

	if len(req.Marketplace) > 0 {
		p.Services = req.Marketplace
		p.ServiceOrder = sortedKeys(req.Marketplace)
	}

	return Layer{Name: LayerReleaseConfig, Patch: p}
}

// userOverrides is layer 4: literal overrides on specific fields.
func (r *Resolver) userOverrides(rc *domain.ReleaseConfig) Layer {
	p := Patch{}
	if rc.CoreServices.WebUIName != "" {
		p.WebUIName = ptr(rc.CoreServices.WebUIName)
	}
	if len(rc.CoreServices.Env) > 0 {
		p.EnvOverrides = make(map[string][]catalog.EnvVar, len(rc.CoreServices.Env))
		for svc, blob := range rc.CoreServices.Env {
			vars, err := parseEnvBlob(blob)
			if err != nil {
				r.logger.Warn("skipping malformed env override", "service", svc, "error", err)
				continue
			}
			p.EnvOverrides[svc] = vars
		}
	}
	return Layer{Name: LayerUserOverrides, Patch: p}
}

// inferFeatures sets a feature true when its provider entry is non-empty,
// then lets explicit boolean overrides win.
func (r *Resolver) inferFeatures(cfg *UnifiedDeploymentConfig, rc *domain.ReleaseConfig) {
	for _, c := range r.registry.Categories() {
		cfg.Features[c.Feature] = cfg.Providers[c.Name] != ""
	}
	for feature, enabled := range rc.CoreServices.Enabled {
		if enabled != nil {
			cfg.Features[feature] = *enabled
		}
	}
}

// applyModelFallback substitutes the compiled-in default local model ids
// when no chat models were explicitly selected, and likewise for embedding
// models.
func (r *Resolver) applyModelFallback(cfg *UnifiedDeploymentConfig, rc *domain.ReleaseConfig) {
	if len(rc.ModelAssignments.Chat) == 0 {
		cfg.Models.Local = append(cfg.Models.Local, r.registry.DefaultChatModels()...)
	}
	if len(rc.ModelAssignments.Embedding) == 0 {
		cfg.Models.Local = append(cfg.Models.Local, r.registry.DefaultEmbeddingModels()...)
	}
}

// splitModels classifies model ids: ids qualified with a provider prefix
// ("anthropic/claude...") are cloud-hosted, bare ids are local.
func splitModels(ids []string) (cloud, local []string) {
	for _, id := range ids {
		if strings.Contains(id, "/") {
			cloud = append(cloud, id)
		} else {
			local = append(local, id)
		}
	}
	return cloud, local
}

// parseEnvBlob parses a dotenv-format override blob into ordered env vars.
// Keys are sorted so identical blobs always yield identical order.
func parseEnvBlob(blob string) ([]catalog.EnvVar, error) {
	values, err := dotenv.UnmarshalWithLookup(blob, nil)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vars := make([]catalog.EnvVar, 0, len(keys))
	for _, k := range keys {
		vars = append(vars, catalog.EnvVar{Key: k, Value: values[k]})
	}
	return vars, nil
}

func sortedKeys[M map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ptr[T any](v T) *T {
	return &v
}
