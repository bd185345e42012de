package domain

import (
	"time"
)

// =============================================================================
// Release
// =============================================================================

// Release is a named, versioned container for one user's deployment
// configuration choices. Version is bumped every time a new configuration
// snapshot is saved and selects the blob storage path for deploys.
type Release struct {
	ID        string    `json:"id"`
	UserUUID  string    `json:"user_uuid"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// Release Configuration
// =============================================================================

// ReleaseConfig is an immutable snapshot of user choices for one release
// version. Saving creates a new snapshot; existing snapshots are never
// mutated in place.
type ReleaseConfig struct {
	ID        string `json:"id"`
	ReleaseID string `json:"release_id"`
	Version   int    `json:"version"`

	// ServiceSelections maps a feature category to the chosen provider id.
	// A nil value is an explicit disable; an absent key means "use default".
	ServiceSelections map[string]*string `json:"service_selections,omitempty"`

	// ModelAssignments holds the chat and embedding model id lists.
	ModelAssignments ModelAssignments `json:"model_assignments"`

	// CoreServices carries explicit overrides on top of the inferred
	// configuration: boolean feature flags and literal field overrides.
	CoreServices CoreServiceOverrides `json:"core_services"`

	// CaddyRoutes maps a service name to its subdomain. A nil value means
	// the service is not routed.
	CaddyRoutes map[string]*string `json:"caddy_routes,omitempty"`

	// Infrastructure holds user infrastructure choices (network name/subnet).
	Infrastructure InfrastructureChoices `json:"infrastructure"`

	CreatedAt time.Time `json:"created_at"`
}

// ModelAssignments lists the model ids the user selected.
type ModelAssignments struct {
	Chat      []string `json:"chat,omitempty"`
	Embedding []string `json:"embedding,omitempty"`
}

// CoreServiceOverrides carries explicit user overrides that win over every
// inferred or defaulted value.
type CoreServiceOverrides struct {
	// Enabled overrides inferred feature flags, keyed by feature name.
	Enabled map[string]*bool `json:"enabled,omitempty"`

	// WebUIName overrides the chat UI container name when non-empty.
	WebUIName string `json:"webui_name,omitempty"`

	// Env maps a service name to a dotenv-format override blob applied as
	// the highest-precedence environment layer for that service.
	Env map[string]string `json:"env,omitempty"`
}

// InfrastructureChoices holds the user's network configuration.
type InfrastructureChoices struct {
	Network NetworkChoices `json:"network"`
}

// NetworkChoices names the pod network and optionally pins its subnet.
type NetworkChoices struct {
	Name   string `json:"name,omitempty"`
	Subnet string `json:"subnet,omitempty"`
}

// =============================================================================
// External Collaborator Records
// =============================================================================

// Settings is the per-user settings record consumed from the settings
// provider. Tailscale being nil fails a deploy with ErrPrerequisiteMissing.
type Settings struct {
	UserUUID  string           `json:"user_uuid"`
	Tailscale *TailscaleConfig `json:"tailscale,omitempty"`
}

// TailscaleConfig describes the tailnet the deployment joins.
type TailscaleConfig struct {
	Tailnet  string `json:"tailnet"`
	Hostname string `json:"hostname,omitempty"`
}

// Secret is one named secret value from the secrets provider. Values are
// plaintext here; encryption at rest belongs to the secrets store itself.
type Secret struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}
