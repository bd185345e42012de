// Package engine wires the pure configuration pipeline to the store and
// blob storage adapters. One Deploy call runs the full pipeline for a
// release: resolve, validate, render, upload, and record the outcome.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leger-labs/leger/internal/core/catalog"
	"github.com/leger-labs/leger/internal/core/config"
	"github.com/leger-labs/leger/internal/core/domain"
	"github.com/leger-labs/leger/internal/core/graph"
	"github.com/leger-labs/leger/internal/core/manifest"
	"github.com/leger-labs/leger/internal/core/marketplace"
	"github.com/leger-labs/leger/internal/core/quadlet"
	"github.com/leger-labs/leger/internal/core/validation"
	"github.com/leger-labs/leger/internal/shell/blob"
	"github.com/leger-labs/leger/internal/shell/store"
)

// =============================================================================
// Blob Store Interface
// =============================================================================

// BlobStore is the subset of the blob client the deployer needs.
type BlobStore interface {
	Put(ctx context.Context, key string, content []byte) error
	RemovePrefix(ctx context.Context, prefix string) error
	PublicURL(key string) string
}

// =============================================================================
// Deployer
// =============================================================================

// Deployer runs the deployment pipeline.
type Deployer struct {
	store     store.Store
	blob      BlobStore
	registry  *catalog.Registry
	resolver  *config.Resolver
	builder   *graph.Builder
	generator *quadlet.Generator
	logger    *slog.Logger
}

// NewDeployer creates a deployer over the given store, blob storage and
// registry.
func NewDeployer(st store.Store, bs BlobStore, registry *catalog.Registry, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		store:     st,
		blob:      bs,
		registry:  registry,
		resolver:  config.NewResolver(registry, logger),
		builder:   graph.NewBuilder(registry, logger),
		generator: quadlet.NewGenerator(logger),
		logger:    logger.With("component", "deployer"),
	}
}

// Deploy runs the full pipeline for a release. A deployment record is
// created in the rendering state before any work happens; any pipeline
// failure marks it failed with the error message and the error is returned
// alongside the record.
func (d *Deployer) Deploy(ctx context.Context, userUUID, releaseID string) (*domain.DeploymentRecord, error) {
	release, err := d.ownedRelease(ctx, userUUID, releaseID)
	if err != nil {
		return nil, err
	}

	// TODO: serialize deploys per release so two in-flight runs cannot
	// interleave uploads under the same version prefix.
	if cur, err := d.store.GetCurrentDeployment(ctx, releaseID); err == nil && !cur.Status.IsTerminal() {
		d.logger.Warn("starting deploy while another is in flight",
			"release_id", releaseID, "in_flight", cur.ID, "status", cur.Status)
	}

	record := domain.NewDeploymentRecord(releaseID, userUUID)
	if err := d.store.CreateDeployment(ctx, record); err != nil {
		return nil, err
	}

	if err := d.run(ctx, release, record); err != nil {
		record.Fail(err.Error())
		if uerr := d.store.UpdateDeployment(ctx, record); uerr != nil {
			d.logger.Error("failed to record deployment failure", "deployment_id", record.ID, "error", uerr)
		}
		d.logger.Error("deploy failed", "release_id", releaseID, "deployment_id", record.ID, "error", err)
		return record, err
	}

	d.logger.Info("deploy succeeded",
		"release_id", releaseID, "deployment_id", record.ID, "r2_path", record.R2Path)
	return record, nil
}

// run executes the pipeline stages against an existing record. It returns
// on the first failing stage; the caller handles the failed transition.
func (d *Deployer) run(ctx context.Context, release *domain.Release, record *domain.DeploymentRecord) error {
	cfg, err := d.store.GetReleaseConfig(ctx, release.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: release has no saved configuration", domain.ErrPrerequisiteMissing)
		}
		return err
	}

	result := validation.ValidateReleaseConfig(cfg)
	for _, note := range result.Notes {
		d.logger.Info("configuration note", "release_id", release.ID, "note", note)
	}
	if !result.Valid {
		return domain.NewValidationError(result.Errors...)
	}

	settings, err := d.store.GetSettings(ctx, release.UserUUID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	secrets, err := d.store.ListSecrets(ctx, release.UserUUID)
	if err != nil {
		return err
	}

	mkt, err := d.marketplaceServices(ctx, release.ID)
	if err != nil {
		return err
	}

	resolved, err := d.resolver.Resolve(config.Request{
		Release:     release,
		Config:      cfg,
		Settings:    settings,
		Secrets:     secrets,
		Marketplace: mkt,
	})
	if err != nil {
		return err
	}

	set := d.builder.Build(graph.SourceFor(resolved))
	files, err := d.generator.Render(resolved, set)
	if err != nil {
		return err
	}
	if err := validation.ValidateRendered(files); err != nil {
		return err
	}

	if err := record.Transition(domain.StatusUploading); err != nil {
		return err
	}
	if err := d.store.UpdateDeployment(ctx, record); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, f := range files {
		key := blob.ObjectPath(release.UserUUID, release.ID, release.Version, f.Name)
		if err := d.blob.Put(ctx, key, []byte(f.Content)); err != nil {
			return err
		}
	}

	// The manifest goes up last so consumers never see one referencing
	// files that are not there yet.
	m := manifest.Build(release.ID, release.UserUUID, manifest.SchemaVersion, files, now)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize manifest: %w", err)
	}
	manifestKey := blob.ObjectPath(release.UserUUID, release.ID, release.Version, manifest.Filename)
	if err := d.blob.Put(ctx, manifestKey, data); err != nil {
		return err
	}

	record.R2Path = fmt.Sprintf("%s/%s/v%d", release.UserUUID, release.ID, release.Version)
	record.ManifestURL = d.blob.PublicURL(manifestKey)
	if err := record.Transition(domain.StatusReady); err != nil {
		return err
	}
	return d.store.UpdateDeployment(ctx, record)
}

// marketplaceServices loads and parses the release's compose fragment, if
// any. No fragment means inference mode.
func (d *Deployer) marketplaceServices(ctx context.Context, releaseID string) (map[string]catalog.ServiceDescriptor, error) {
	composeYAML, err := d.store.GetMarketplaceConfig(ctx, releaseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	frag, err := marketplace.Parse(composeYAML)
	if err != nil {
		return nil, fmt.Errorf("marketplace fragment: %w", err)
	}
	return frag.Services, nil
}

// =============================================================================
// Status and Lifecycle
// =============================================================================

// Status reports the current deployment of a release along with whether a
// configuration has ever been saved for it.
func (d *Deployer) Status(ctx context.Context, userUUID, releaseID string) (*domain.StatusResponse, error) {
	if _, err := d.ownedRelease(ctx, userUUID, releaseID); err != nil {
		return nil, err
	}

	resp := &domain.StatusResponse{}

	if _, err := d.store.GetReleaseConfig(ctx, releaseID); err == nil {
		resp.HasConfiguration = true
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	record, err := d.store.GetCurrentDeployment(ctx, releaseID)
	if err == nil {
		resp.Deployment = record
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return resp, nil
}

// History lists a release's deployment records, newest first.
func (d *Deployer) History(ctx context.Context, userUUID, releaseID string, opts store.ListOptions) ([]domain.DeploymentRecord, error) {
	if _, err := d.ownedRelease(ctx, userUUID, releaseID); err != nil {
		return nil, err
	}
	return d.store.ListDeployments(ctx, releaseID, opts)
}

// DeleteRelease removes a release, its snapshots and deployment records,
// and clears every artifact prefix its deploys uploaded to.
func (d *Deployer) DeleteRelease(ctx context.Context, userUUID, releaseID string) error {
	if _, err := d.ownedRelease(ctx, userUUID, releaseID); err != nil {
		return err
	}

	records, err := d.store.ListDeployments(ctx, releaseID, store.ListOptions{Limit: 1000})
	if err != nil {
		return err
	}
	prefixes := make(map[string]struct{})
	for _, r := range records {
		if r.R2Path != "" {
			prefixes[r.R2Path] = struct{}{}
		}
	}
	for prefix := range prefixes {
		// The trailing slash keeps v1 from also matching v10, v11 and so on.
		if err := d.blob.RemovePrefix(ctx, prefix+"/"); err != nil {
			return err
		}
	}

	return d.store.DeleteRelease(ctx, releaseID)
}

// ownedRelease fetches a release and checks ownership. A release owned by
// another user is reported as not found.
func (d *Deployer) ownedRelease(ctx context.Context, userUUID, releaseID string) (*domain.Release, error) {
	release, err := d.store.GetRelease(ctx, releaseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: release %s", domain.ErrNotFound, releaseID)
		}
		return nil, err
	}
	if release.UserUUID != userUUID {
		return nil, fmt.Errorf("%w: release %s", domain.ErrNotFound, releaseID)
	}
	return release, nil
}
