// Package catalog holds the immutable configuration registry: the built-in
// service descriptors, provider defaults and feature lookup tables that the
// resolver and unit file generator consume. The registry is constructed once
// and passed in explicitly, never referenced as a package-level global, so
// tests can substitute fixtures.
package catalog

// =============================================================================
// Service Descriptor
// =============================================================================

// ServiceDescriptor is the static description of one deployable service:
// image reference, published ports, volumes, dependencies. Keyed by service
// name, not user-editable.
type ServiceDescriptor struct {
	Name          string        `yaml:"name" json:"name"`
	Image         string        `yaml:"image" json:"image"`
	Description   string        `yaml:"description,omitempty" json:"description,omitempty"`
	Documentation string        `yaml:"documentation,omitempty" json:"documentation,omitempty"`
	PublishPorts  []string      `yaml:"publish_ports,omitempty" json:"publish_ports,omitempty"`
	Volumes       []VolumeMount `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	DependsOn     []string      `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Environment preserves declaration order; the generator emits entries
	// exactly in this order.
	Environment []EnvVar `yaml:"environment,omitempty" json:"environment,omitempty"`

	HealthCheck *HealthCheck `yaml:"healthcheck,omitempty" json:"healthcheck,omitempty"`

	// CloudSecrets marks services that mount the derived cloud API key
	// secrets (the LLM proxy and the chat UI).
	CloudSecrets bool `yaml:"cloud_secrets,omitempty" json:"cloud_secrets,omitempty"`

	// Disabled excludes a declaratively listed service from the set.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// VolumeMount is one named volume and its mount path inside the container.
type VolumeMount struct {
	Name      string `yaml:"name" json:"name"`
	MountPath string `yaml:"mount_path" json:"mount_path"`
}

// EnvVar is one ordered environment entry.
type EnvVar struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}

// HealthCheck holds optional container health-check directives.
type HealthCheck struct {
	Cmd         string `yaml:"cmd" json:"cmd"`
	Interval    string `yaml:"interval,omitempty" json:"interval,omitempty"`
	Timeout     string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries     int    `yaml:"retries,omitempty" json:"retries,omitempty"`
	StartPeriod string `yaml:"start_period,omitempty" json:"start_period,omitempty"`
}

// Setting is one ordered key/value pair in a provider's default
// configuration block.
type Setting struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}
