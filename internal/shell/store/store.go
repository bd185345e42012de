package store

import (
	"context"

	"github.com/leger-labs/leger/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for the deployment pipeline.
type Store interface {
	// Release operations
	CreateRelease(ctx context.Context, release *domain.Release) error
	GetRelease(ctx context.Context, id string) (*domain.Release, error)
	GetReleaseByName(ctx context.Context, userUUID, name string) (*domain.Release, error)
	UpdateRelease(ctx context.Context, release *domain.Release) error
	DeleteRelease(ctx context.Context, id string) error
	ListReleases(ctx context.Context, userUUID string, opts ListOptions) ([]domain.Release, error)

	// Configuration snapshots. Saving inserts a new immutable snapshot at
	// the next version and bumps the release version in the same
	// transaction. Get returns the latest snapshot.
	SaveReleaseConfig(ctx context.Context, cfg *domain.ReleaseConfig) error
	GetReleaseConfig(ctx context.Context, releaseID string) (*domain.ReleaseConfig, error)
	GetReleaseConfigVersion(ctx context.Context, releaseID string, version int) (*domain.ReleaseConfig, error)

	// Deployment records. The current deployment of a release is the most
	// recently started one.
	CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error
	GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error)
	GetCurrentDeployment(ctx context.Context, releaseID string) (*domain.DeploymentRecord, error)
	UpdateDeployment(ctx context.Context, record *domain.DeploymentRecord) error
	ListDeployments(ctx context.Context, releaseID string, opts ListOptions) ([]domain.DeploymentRecord, error)

	// Per-user settings
	SaveSettings(ctx context.Context, settings *domain.Settings) error
	GetSettings(ctx context.Context, userUUID string) (*domain.Settings, error)

	// Secrets
	SaveSecret(ctx context.Context, userUUID string, secret domain.Secret) error
	DeleteSecret(ctx context.Context, userUUID, name string) error
	ListSecrets(ctx context.Context, userUUID string) ([]domain.Secret, error)

	// Marketplace compose fragments, keyed by release. A saved fragment
	// switches the release to declarative mode.
	SaveMarketplaceConfig(ctx context.Context, releaseID, composeYAML string) error
	GetMarketplaceConfig(ctx context.Context, releaseID string) (string, error)
	DeleteMarketplaceConfig(ctx context.Context, releaseID string) error

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
