package domain

import "time"

// =============================================================================
// Rendered Artifacts
// =============================================================================

// FileType classifies a rendered artifact.
type FileType string

const (
	FileTypeContainer FileType = "container"
	FileTypeVolume    FileType = "volume"
	FileTypeNetwork   FileType = "network"
	FileTypeConfig    FileType = "config"
	FileTypeEnv       FileType = "env"
)

// RenderedFile is one declarative text artifact produced by the unit file
// generator and consumed by the manifest builder and the artifact store.
type RenderedFile struct {
	Name    string   `json:"name"`
	Content string   `json:"content"`
	Type    FileType `json:"type"`
}

// =============================================================================
// Deployment Manifest
// =============================================================================

// ManifestFile records the integrity data for one uploaded artifact.
type ManifestFile struct {
	Name     string   `json:"name"`
	Type     FileType `json:"type"`
	Checksum string   `json:"checksum"`
	Size     int64    `json:"size"`
}

// DeploymentManifest is the checksummed index of all artifacts produced by
// one deployment. It is immutable once uploaded.
type DeploymentManifest struct {
	Version     string         `json:"version"`
	ReleaseID   string         `json:"release_id"`
	UserUUID    string         `json:"user_uuid"`
	GeneratedAt time.Time      `json:"generated_at"`
	Files       []ManifestFile `json:"files"`

	// RequiredSecrets is currently always emitted empty; see manifest.Build.
	RequiredSecrets []string `json:"required_secrets"`
}
