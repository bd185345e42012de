package api

import (
	"time"

	"github.com/leger-labs/leger/internal/core/domain"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateReleaseRequest creates a named release for the calling user.
type CreateReleaseRequest struct {
	Name string `json:"name"`
}

// SaveConfigRequest is the configuration snapshot payload. Saving always
// creates a new immutable version.
type SaveConfigRequest struct {
	ServiceSelections map[string]*string           `json:"service_selections,omitempty"`
	ModelAssignments  domain.ModelAssignments      `json:"model_assignments"`
	CoreServices      domain.CoreServiceOverrides  `json:"core_services"`
	CaddyRoutes       map[string]*string           `json:"caddy_routes,omitempty"`
	Infrastructure    domain.InfrastructureChoices `json:"infrastructure"`
}

// SaveSettingsRequest updates the calling user's settings.
type SaveSettingsRequest struct {
	Tailscale *domain.TailscaleConfig `json:"tailscale,omitempty"`
}

// SaveSecretRequest stores one named secret value.
type SaveSecretRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SaveMarketplaceRequest stores a compose fragment for a release.
type SaveMarketplaceRequest struct {
	ComposeYAML string `json:"compose_yaml"`
}

// =============================================================================
// Response Types
// =============================================================================

// ReleaseResponse is the API shape of a release.
type ReleaseResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListReleasesResponse is a page of releases.
type ListReleasesResponse struct {
	Releases []ReleaseResponse `json:"releases"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// DeploymentResponse is the API shape of a deployment record.
type DeploymentResponse struct {
	ID           string     `json:"id"`
	ReleaseID    string     `json:"release_id"`
	Status       string     `json:"status"`
	R2Path       string     `json:"r2_path,omitempty"`
	ManifestURL  string     `json:"manifest_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ListDeploymentsResponse is a release's deployment history, newest first.
type ListDeploymentsResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
	Total       int                  `json:"total"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

// SecretResponse lists a secret by name only. Values are never returned.
type SecretResponse struct {
	Name string `json:"name"`
}

// ListSecretsResponse is the user's secret names.
type ListSecretsResponse struct {
	Secrets []SecretResponse `json:"secrets"`
}

// SettingsResponse is the API shape of user settings.
type SettingsResponse struct {
	Tailscale *domain.TailscaleConfig `json:"tailscale,omitempty"`
}

// MarketplaceResponse returns a release's stored compose fragment.
type MarketplaceResponse struct {
	ComposeYAML string `json:"compose_yaml"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is returned by /ready.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
