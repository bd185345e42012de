package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Record
// =============================================================================

// DeploymentRecord tracks one deploy attempt through the pipeline. It is
// created at pipeline start, mutated only by status transitions, and deleted
// only when its owning release is deleted. A release may accumulate many
// records; its "current" deployment is the most recently started one.
type DeploymentRecord struct {
	ID           string           `json:"id"`
	ReleaseID    string           `json:"release_id"`
	UserUUID     string           `json:"user_uuid"`
	Status       DeploymentStatus `json:"status"`
	R2Path       string           `json:"r2_path,omitempty"`
	ManifestURL  string           `json:"manifest_url,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// NewDeploymentRecord creates a record in the initial rendering state.
func NewDeploymentRecord(releaseID, userUUID string) *DeploymentRecord {
	return &DeploymentRecord{
		ID:        uuid.New().String(),
		ReleaseID: releaseID,
		UserUUID:  userUUID,
		Status:    StatusRendering,
		StartedAt: time.Now().UTC(),
	}
}

// Transition moves the record to a new status, enforcing the state machine.
// Terminal transitions set CompletedAt; non-terminal transitions never do.
func (d *DeploymentRecord) Transition(to DeploymentStatus) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}
	d.Status = to
	if to.IsTerminal() {
		now := time.Now().UTC()
		d.CompletedAt = &now
	}
	return nil
}

// Fail transitions the record to failed with the given message. Failed is
// reachable from any non-terminal state.
func (d *DeploymentRecord) Fail(message string) {
	if d.Status.IsTerminal() {
		return
	}
	d.Status = StatusFailed
	d.ErrorMessage = message
	now := time.Now().UTC()
	d.CompletedAt = &now
}

// StatusResponse is the shape consumed by the API layer when reporting the
// current deployment of a release.
type StatusResponse struct {
	Deployment       *DeploymentRecord `json:"deployment"`
	HasConfiguration bool              `json:"hasConfiguration"`
}
