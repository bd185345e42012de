package domain

// =============================================================================
// Deployment Status
// =============================================================================

// DeploymentStatus represents the lifecycle state of a deployment record.
type DeploymentStatus string

const (
	// StatusRendering is the initial state: configuration is being resolved
	// and unit files generated.
	StatusRendering DeploymentStatus = "rendering"

	// StatusUploading means rendered artifacts are being written to blob storage.
	StatusUploading DeploymentStatus = "uploading"

	// StatusReady is terminal: all artifacts and the manifest are uploaded.
	StatusReady DeploymentStatus = "ready"

	// StatusDeployed is terminal. It exists in the enumeration for the
	// confirmation step performed outside this service; no pipeline step
	// here transitions into it.
	StatusDeployed DeploymentStatus = "deployed"

	// StatusFailed is terminal and reachable from any non-terminal state.
	StatusFailed DeploymentStatus = "failed"
)

// AllStatuses lists every known status, in lifecycle order.
func AllStatuses() []DeploymentStatus {
	return []DeploymentStatus{
		StatusRendering,
		StatusUploading,
		StatusReady,
		StatusDeployed,
		StatusFailed,
	}
}

// IsValid reports whether s is a known status value.
func (s DeploymentStatus) IsValid() bool {
	switch s {
	case StatusRendering, StatusUploading, StatusReady, StatusDeployed, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is a terminal status. Terminal transitions
// set completed_at; non-terminal ones never do.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case StatusReady, StatusDeployed, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a deployment may move from one status to
// another. The pipeline only ever walks rendering → uploading → ready, with
// failed reachable from every state except the failed and deployed
// terminals. ready → deployed is accepted for the external confirmation
// step, which this service never performs.
func CanTransition(from, to DeploymentStatus) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	switch from {
	case StatusRendering:
		return to == StatusUploading || to == StatusFailed
	case StatusUploading:
		return to == StatusReady || to == StatusFailed
	case StatusReady:
		return to == StatusDeployed || to == StatusFailed
	}
	return false
}
