package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leger-labs/leger/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func createTestRelease(t *testing.T, store Store, userUUID string) *domain.Release {
	t.Helper()
	now := time.Now().UTC()
	release := &domain.Release{
		ID:        uuid.New().String(),
		UserUUID:  userUUID,
		Name:      "release-" + uuid.New().String()[:8],
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateRelease(context.Background(), release))
	return release
}

func saveTestConfig(t *testing.T, store Store, releaseID string) *domain.ReleaseConfig {
	t.Helper()
	qdrant := "qdrant"
	cfg := &domain.ReleaseConfig{
		ReleaseID: releaseID,
		ServiceSelections: map[string]*string{
			"rag_provider": &qdrant,
		},
		ModelAssignments: domain.ModelAssignments{
			Chat: []string{"llama-3.2-3b-instruct"},
		},
	}
	require.NoError(t, store.SaveReleaseConfig(context.Background(), cfg))
	return cfg
}

// =============================================================================
// Release CRUD Tests
// =============================================================================

func TestCreateRelease_Success(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")

	retrieved, err := store.GetRelease(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, release.ID, retrieved.ID)
	assert.Equal(t, release.Name, retrieved.Name)
	assert.Equal(t, 0, retrieved.Version)
}

func TestCreateRelease_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")
	err := store.CreateRelease(ctx, release)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestCreateRelease_DuplicateNamePerUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")

	dup := *release
	dup.ID = uuid.New().String()
	err := store.CreateRelease(ctx, &dup)
	assert.ErrorIs(t, err, ErrDuplicateName)

	// Same name under a different user is fine.
	other := dup
	other.ID = uuid.New().String()
	other.UserUUID = "user-2"
	assert.NoError(t, store.CreateRelease(ctx, &other))
}

func TestGetRelease_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRelease(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReleaseByName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")

	retrieved, err := store.GetReleaseByName(ctx, "user-1", release.Name)
	require.NoError(t, err)
	assert.Equal(t, release.ID, retrieved.ID)

	_, err = store.GetReleaseByName(ctx, "user-2", release.Name)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReleases_ScopedToUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestRelease(t, store, "user-1")
	createTestRelease(t, store, "user-1")
	createTestRelease(t, store, "user-2")

	releases, err := store.ListReleases(ctx, "user-1", DefaultListOptions())
	require.NoError(t, err)
	assert.Len(t, releases, 2)
}

func TestDeleteRelease_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.DeleteRelease(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Configuration Snapshot Tests
// =============================================================================

func TestSaveReleaseConfig_BumpsVersion(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")

	cfg := saveTestConfig(t, store, release.ID)
	assert.Equal(t, 1, cfg.Version)

	updated, err := store.GetRelease(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version)

	cfg2 := saveTestConfig(t, store, release.ID)
	assert.Equal(t, 2, cfg2.Version)
}

func TestSaveReleaseConfig_SnapshotsAreImmutable(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")
	first := saveTestConfig(t, store, release.ID)
	saveTestConfig(t, store, release.ID)

	// The first snapshot remains retrievable unchanged.
	v1, err := store.GetReleaseConfigVersion(ctx, release.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, v1.ID)
	require.Contains(t, v1.ServiceSelections, "rag_provider")
	assert.Equal(t, "qdrant", *v1.ServiceSelections["rag_provider"])
}

func TestGetReleaseConfig_ReturnsLatest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")
	saveTestConfig(t, store, release.ID)
	second := saveTestConfig(t, store, release.ID)

	latest, err := store.GetReleaseConfig(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, 2, latest.Version)
}

func TestGetReleaseConfig_NoneSaved(t *testing.T) {
	store := setupTestStore(t)

	release := createTestRelease(t, store, "user-1")
	_, err := store.GetReleaseConfig(context.Background(), release.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveReleaseConfig_MissingRelease(t *testing.T) {
	store := setupTestStore(t)

	cfg := &domain.ReleaseConfig{ReleaseID: "missing"}
	err := store.SaveReleaseConfig(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Deployment Record Tests
// =============================================================================

func TestCreateDeployment_Lifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")
	record := domain.NewDeploymentRecord(release.ID, "user-1")
	require.NoError(t, store.CreateDeployment(ctx, record))

	require.NoError(t, record.Transition(domain.StatusUploading))
	require.NoError(t, store.UpdateDeployment(ctx, record))

	record.R2Path = "user-1/v1"
	record.ManifestURL = "https://artifacts.example.com/user-1/v1/manifest.json"
	require.NoError(t, record.Transition(domain.StatusReady))
	require.NoError(t, store.UpdateDeployment(ctx, record))

	retrieved, err := store.GetDeployment(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, retrieved.Status)
	assert.Equal(t, "user-1/v1", retrieved.R2Path)
	require.NotNil(t, retrieved.CompletedAt)
}

func TestCreateDeployment_MissingRelease(t *testing.T) {
	store := setupTestStore(t)

	record := domain.NewDeploymentRecord("missing", "user-1")
	err := store.CreateDeployment(context.Background(), record)
	assert.ErrorIs(t, err, ErrForeignKey)
}

func TestGetCurrentDeployment_MostRecentlyStarted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")

	first := domain.NewDeploymentRecord(release.ID, "user-1")
	first.StartedAt = time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, store.CreateDeployment(ctx, first))

	second := domain.NewDeploymentRecord(release.ID, "user-1")
	require.NoError(t, store.CreateDeployment(ctx, second))

	current, err := store.GetCurrentDeployment(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestGetCurrentDeployment_None(t *testing.T) {
	store := setupTestStore(t)

	release := createTestRelease(t, store, "user-1")
	_, err := store.GetCurrentDeployment(context.Background(), release.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDeployments_History(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")
	for i := 0; i < 3; i++ {
		record := domain.NewDeploymentRecord(release.ID, "user-1")
		record.StartedAt = time.Now().UTC().Add(time.Duration(-i) * time.Minute)
		require.NoError(t, store.CreateDeployment(ctx, record))
	}

	records, err := store.ListDeployments(ctx, release.ID, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Newest first.
	assert.True(t, !records[0].StartedAt.Before(records[1].StartedAt))
	assert.True(t, !records[1].StartedAt.Before(records[2].StartedAt))
}

func TestDeleteRelease_CascadesDeployments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")
	saveTestConfig(t, store, release.ID)
	record := domain.NewDeploymentRecord(release.ID, "user-1")
	require.NoError(t, store.CreateDeployment(ctx, record))

	require.NoError(t, store.DeleteRelease(ctx, release.ID))

	_, err := store.GetDeployment(ctx, record.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetReleaseConfig(ctx, release.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Settings and Secrets Tests
// =============================================================================

func TestSettings_SaveAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	settings := &domain.Settings{
		UserUUID:  "user-1",
		Tailscale: &domain.TailscaleConfig{Tailnet: "example.ts.net", Hostname: "leger"},
	}
	require.NoError(t, store.SaveSettings(ctx, settings))

	retrieved, err := store.GetSettings(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, retrieved.Tailscale)
	assert.Equal(t, "example.ts.net", retrieved.Tailscale.Tailnet)
}

func TestSettings_UpsertOverwrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSettings(ctx, &domain.Settings{
		UserUUID:  "user-1",
		Tailscale: &domain.TailscaleConfig{Tailnet: "old.ts.net"},
	}))
	require.NoError(t, store.SaveSettings(ctx, &domain.Settings{
		UserUUID:  "user-1",
		Tailscale: &domain.TailscaleConfig{Tailnet: "new.ts.net"},
	}))

	retrieved, err := store.GetSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "new.ts.net", retrieved.Tailscale.Tailnet)
}

func TestSettings_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetSettings(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSecrets_CRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSecret(ctx, "user-1", domain.Secret{Name: "openai_api_key", Value: "sk-1"}))
	require.NoError(t, store.SaveSecret(ctx, "user-1", domain.Secret{Name: "anthropic_api_key", Value: "sk-2"}))
	require.NoError(t, store.SaveSecret(ctx, "user-1", domain.Secret{Name: "openai_api_key", Value: "sk-3"}))

	secrets, err := store.ListSecrets(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, secrets, 2)
	assert.Equal(t, "anthropic_api_key", secrets[0].Name)
	assert.Equal(t, "sk-3", secrets[1].Value)

	require.NoError(t, store.DeleteSecret(ctx, "user-1", "openai_api_key"))
	err = store.DeleteSecret(ctx, "user-1", "openai_api_key")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Marketplace Config Tests
// =============================================================================

func TestMarketplaceConfig_CRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")

	require.NoError(t, store.SaveMarketplaceConfig(ctx, release.ID, "services:\n  web:\n    image: nginx\n"))

	yaml, err := store.GetMarketplaceConfig(ctx, release.ID)
	require.NoError(t, err)
	assert.Contains(t, yaml, "nginx")

	require.NoError(t, store.SaveMarketplaceConfig(ctx, release.ID, "services:\n  web:\n    image: caddy\n"))
	yaml, err = store.GetMarketplaceConfig(ctx, release.ID)
	require.NoError(t, err)
	assert.Contains(t, yaml, "caddy")

	require.NoError(t, store.DeleteMarketplaceConfig(ctx, release.ID))
	_, err = store.GetMarketplaceConfig(ctx, release.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarketplaceConfig_MissingRelease(t *testing.T) {
	store := setupTestStore(t)

	err := store.SaveMarketplaceConfig(context.Background(), "missing", "services: {}\n")
	assert.ErrorIs(t, err, ErrForeignKey)
}

// =============================================================================
// Transaction Tests
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")

	sentinel := errors.New("boom")
	err := store.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveReleaseConfig(ctx, &domain.ReleaseConfig{ReleaseID: release.ID}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = store.GetReleaseConfig(ctx, release.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	current, err := store.GetRelease(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.Version)
}

func TestWithTx_Commit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := createTestRelease(t, store, "user-1")

	err := store.WithTx(ctx, func(tx Store) error {
		return tx.SaveReleaseConfig(ctx, &domain.ReleaseConfig{ReleaseID: release.ID})
	})
	require.NoError(t, err)

	cfg, err := store.GetReleaseConfig(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Version)
}
