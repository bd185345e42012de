package catalog

import (
	"fmt"
)

// =============================================================================
// Category
// =============================================================================

// Category describes one pluggable feature category: the provider-map key,
// the release selection key that chooses a provider for it, and the feature
// flag inferred from it.
type Category struct {
	// Name is the key used in the unified config's providers map,
	// e.g. "vector_db".
	Name string `yaml:"name"`

	// SelectionKey is the release service_selections key that picks a
	// provider for this category, e.g. "rag_provider". May equal Name.
	SelectionKey string `yaml:"selection_key"`

	// Feature is the feature-flag name inferred from a non-empty provider,
	// e.g. "rag_enabled".
	Feature string `yaml:"feature"`

	// DefaultProvider seeds the providers map before explicit selections
	// are applied. Empty means the category is unmapped by default.
	DefaultProvider string `yaml:"default_provider,omitempty"`
}

// =============================================================================
// Registry
// =============================================================================

// Registry is the immutable configuration registry. Build one with Default
// or FromDefinition and pass it to the resolver and generator by
// construction.
type Registry struct {
	services     map[string]ServiceDescriptor
	serviceOrder []string

	categories      []Category
	featureServices map[string]map[string][]string
	providerConfig  map[string][]Setting

	coreServices           []string
	defaultChatModels      []string
	defaultEmbeddingModels []string

	networkName   string
	networkSubnet string
}

// Service looks up a descriptor by service name.
func (r *Registry) Service(name string) (ServiceDescriptor, bool) {
	d, ok := r.services[name]
	return d, ok
}

// ServiceNames returns all known service names in declaration order.
func (r *Registry) ServiceNames() []string {
	out := make([]string, len(r.serviceOrder))
	copy(out, r.serviceOrder)
	return out
}

// Categories returns the feature categories in fixed declaration order.
func (r *Registry) Categories() []Category {
	out := make([]Category, len(r.categories))
	copy(out, r.categories)
	return out
}

// CategoryForSelection resolves a release selection key (or a category name
// used directly as one) to its category.
func (r *Registry) CategoryForSelection(key string) (Category, bool) {
	for _, c := range r.categories {
		if c.SelectionKey == key || c.Name == key {
			return c, true
		}
	}
	return Category{}, false
}

// FeatureServices returns the services a category/provider pair pulls into
// the deployment, per the fixed feature→service lookup table.
func (r *Registry) FeatureServices(category, provider string) []string {
	providers, ok := r.featureServices[category]
	if !ok {
		return nil
	}
	return providers[provider]
}

// ProviderConfig returns the provider's default configuration block, in
// declaration order. Nil when the provider has none.
func (r *Registry) ProviderConfig(provider string) []Setting {
	return r.providerConfig[provider]
}

// CoreServices returns the fixed mandatory service set used by legacy
// inference mode.
func (r *Registry) CoreServices() []string {
	out := make([]string, len(r.coreServices))
	copy(out, r.coreServices)
	return out
}

// DefaultChatModels returns the local model ids substituted when a release
// selects no chat models.
func (r *Registry) DefaultChatModels() []string {
	out := make([]string, len(r.defaultChatModels))
	copy(out, r.defaultChatModels)
	return out
}

// DefaultEmbeddingModels returns the fallback embedding model ids.
func (r *Registry) DefaultEmbeddingModels() []string {
	out := make([]string, len(r.defaultEmbeddingModels))
	copy(out, r.defaultEmbeddingModels)
	return out
}

// NetworkName returns the default pod network name.
func (r *Registry) NetworkName() string {
	return r.networkName
}

// NetworkSubnet returns the default network subnet, empty when unpinned.
func (r *Registry) NetworkSubnet() string {
	return r.networkSubnet
}

// =============================================================================
// Definition → Registry
// =============================================================================

// Definition is the serializable form of a registry, used both for the
// compiled-in defaults and for YAML override files.
type Definition struct {
	Services []ServiceDescriptor `yaml:"services"`

	Categories      []Category                     `yaml:"categories"`
	FeatureServices map[string]map[string][]string `yaml:"feature_services"`
	ProviderConfig  map[string][]Setting           `yaml:"provider_config"`

	CoreServices           []string `yaml:"core_services"`
	DefaultChatModels      []string `yaml:"default_chat_models"`
	DefaultEmbeddingModels []string `yaml:"default_embedding_models"`

	NetworkName   string `yaml:"network_name"`
	NetworkSubnet string `yaml:"network_subnet,omitempty"`
}

// FromDefinition builds an immutable registry from a definition. Every core
// service and every feature-table entry must have a descriptor.
func FromDefinition(def Definition) (*Registry, error) {
	r := &Registry{
		services:               make(map[string]ServiceDescriptor, len(def.Services)),
		serviceOrder:           make([]string, 0, len(def.Services)),
		categories:             def.Categories,
		featureServices:        def.FeatureServices,
		providerConfig:         def.ProviderConfig,
		coreServices:           def.CoreServices,
		defaultChatModels:      def.DefaultChatModels,
		defaultEmbeddingModels: def.DefaultEmbeddingModels,
		networkName:            def.NetworkName,
		networkSubnet:          def.NetworkSubnet,
	}
	if r.networkName == "" {
		r.networkName = defaultNetworkName
	}

	for _, svc := range def.Services {
		if svc.Name == "" {
			return nil, fmt.Errorf("catalog: service with empty name")
		}
		if svc.Image == "" {
			return nil, fmt.Errorf("catalog: service %s has no image", svc.Name)
		}
		if _, dup := r.services[svc.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate service %s", svc.Name)
		}
		r.services[svc.Name] = svc
		r.serviceOrder = append(r.serviceOrder, svc.Name)
	}

	for _, name := range r.coreServices {
		if _, ok := r.services[name]; !ok {
			return nil, fmt.Errorf("catalog: core service %s has no descriptor", name)
		}
	}
	for category, providers := range r.featureServices {
		for provider, names := range providers {
			for _, name := range names {
				if _, ok := r.services[name]; !ok {
					return nil, fmt.Errorf("catalog: feature %s=%s references unknown service %s", category, provider, name)
				}
			}
		}
	}

	return r, nil
}
