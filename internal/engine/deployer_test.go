package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leger-labs/leger/internal/core/catalog"
	"github.com/leger-labs/leger/internal/core/domain"
	"github.com/leger-labs/leger/internal/core/manifest"
	"github.com/leger-labs/leger/internal/shell/store"
)

// =============================================================================
// Fakes and Helpers
// =============================================================================

type fakeBlob struct {
	objects map[string][]byte
	order   []string
	failAll bool
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (f *fakeBlob) Put(_ context.Context, key string, content []byte) error {
	if f.failAll {
		return &domain.UploadError{Key: key, Err: errors.New("connection reset")}
	}
	f.objects[key] = content
	f.order = append(f.order, key)
	return nil
}

func (f *fakeBlob) RemovePrefix(_ context.Context, prefix string) error {
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			delete(f.objects, key)
		}
	}
	return nil
}

func (f *fakeBlob) PublicURL(key string) string {
	return "https://artifacts.test/" + key
}

func setupDeployer(t *testing.T, registry *catalog.Registry) (*Deployer, store.Store, *fakeBlob) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fb := newFakeBlob()
	return NewDeployer(st, fb, registry, nil), st, fb
}

func seedRelease(t *testing.T, st store.Store, userUUID string) *domain.Release {
	t.Helper()
	now := time.Now().UTC()
	release := &domain.Release{
		ID:        uuid.New().String(),
		UserUUID:  userUUID,
		Name:      "main",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.CreateRelease(context.Background(), release))
	return release
}

func seedSettings(t *testing.T, st store.Store, userUUID string) {
	t.Helper()
	require.NoError(t, st.SaveSettings(context.Background(), &domain.Settings{
		UserUUID:  userUUID,
		Tailscale: &domain.TailscaleConfig{Tailnet: "example.ts.net", Hostname: "leger"},
	}))
}

func seedConfig(t *testing.T, st store.Store, releaseID string) {
	t.Helper()
	require.NoError(t, st.SaveReleaseConfig(context.Background(), &domain.ReleaseConfig{
		ReleaseID: releaseID,
	}))
}

// =============================================================================
// Deploy Tests
// =============================================================================

func TestDeploy_Success(t *testing.T) {
	d, st, _ := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedSettings(t, st, "user-1")
	seedConfig(t, st, release.ID)

	record, err := d.Deploy(ctx, "user-1", release.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusReady, record.Status)
	assert.Equal(t, fmt.Sprintf("user-1/%s/v1", release.ID), record.R2Path)
	assert.Equal(t, fmt.Sprintf("https://artifacts.test/user-1/%s/v1/manifest.json", release.ID), record.ManifestURL)
	require.NotNil(t, record.CompletedAt)

	// The persisted record matches.
	stored, err := st.GetDeployment(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, stored.Status)
}

func TestDeploy_ManifestUploadedLastAndFaithful(t *testing.T) {
	d, st, fb := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedSettings(t, st, "user-1")
	seedConfig(t, st, release.ID)

	_, err := d.Deploy(ctx, "user-1", release.ID)
	require.NoError(t, err)

	prefix := fmt.Sprintf("user-1/%s/v1/", release.ID)
	require.NotEmpty(t, fb.order)
	assert.Equal(t, prefix+"manifest.json", fb.order[len(fb.order)-1])

	var m domain.DeploymentManifest
	require.NoError(t, json.Unmarshal(fb.objects[prefix+"manifest.json"], &m))
	assert.Equal(t, manifest.SchemaVersion, m.Version)
	assert.Equal(t, release.ID, m.ReleaseID)
	assert.Equal(t, "user-1", m.UserUUID)
	require.NotNil(t, m.RequiredSecrets)
	assert.Empty(t, m.RequiredSecrets)

	// Every manifest entry names an uploaded file with matching checksum
	// and size, and every non-manifest upload is listed.
	assert.Len(t, m.Files, len(fb.order)-1)
	for _, f := range m.Files {
		content, ok := fb.objects[prefix+f.Name]
		require.True(t, ok, "manifest lists unknown file %s", f.Name)
		assert.Equal(t, manifest.Checksum(string(content)), f.Checksum)
		assert.Equal(t, int64(len(content)), f.Size)
	}
}

func TestDeploy_RendersNetworkAndCoreUnits(t *testing.T) {
	d, st, fb := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedSettings(t, st, "user-1")
	seedConfig(t, st, release.ID)

	_, err := d.Deploy(ctx, "user-1", release.ID)
	require.NoError(t, err)

	prefix := fmt.Sprintf("user-1/%s/v1/", release.ID)
	assert.Contains(t, fb.objects, prefix+"leger.network")
	assert.Contains(t, fb.objects, prefix+"open-webui.container")
	assert.Contains(t, fb.objects, prefix+"caddy.container")
}

func TestDeploy_NoConfiguration(t *testing.T) {
	d, st, fb := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedSettings(t, st, "user-1")

	record, err := d.Deploy(ctx, "user-1", release.ID)
	assert.ErrorIs(t, err, domain.ErrPrerequisiteMissing)
	require.NotNil(t, record)
	assert.Equal(t, domain.StatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "no saved configuration")
	assert.Empty(t, fb.objects)
}

func TestDeploy_MissingTailscale(t *testing.T) {
	d, st, fb := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedConfig(t, st, release.ID)

	record, err := d.Deploy(ctx, "user-1", release.ID)
	assert.ErrorIs(t, err, domain.ErrPrerequisiteMissing)
	assert.Equal(t, domain.StatusFailed, record.Status)
	assert.Empty(t, fb.objects)
}

func TestDeploy_DuplicateSubdomains(t *testing.T) {
	d, st, fb := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedSettings(t, st, "user-1")
	chat := "chat"
	require.NoError(t, st.SaveReleaseConfig(ctx, &domain.ReleaseConfig{
		ReleaseID: release.ID,
		CaddyRoutes: map[string]*string{
			"open-webui": &chat,
			"litellm":    &chat,
		},
	}))

	record, err := d.Deploy(ctx, "user-1", release.ID)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Error(), "Duplicate subdomains found")
	assert.Equal(t, domain.StatusFailed, record.Status)
	assert.Empty(t, fb.objects)
}

func TestDeploy_RenderFailureUploadsNothing(t *testing.T) {
	// A registry with no core services and no features renders nothing,
	// which is fatal.
	registry, err := catalog.FromDefinition(catalog.Definition{
		Services: []catalog.ServiceDescriptor{
			{Name: "idle", Image: "docker.io/library/busybox:1.36"},
		},
	})
	require.NoError(t, err)

	d, st, fb := setupDeployer(t, registry)
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedSettings(t, st, "user-1")
	seedConfig(t, st, release.ID)

	record, err := d.Deploy(ctx, "user-1", release.ID)
	var rerr *domain.RenderError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, domain.StatusFailed, record.Status)
	assert.Empty(t, fb.objects)
	assert.Empty(t, record.R2Path)
}

func TestDeploy_UploadFailureMarksFailed(t *testing.T) {
	d, st, fb := setupDeployer(t, catalog.Default())
	fb.failAll = true
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedSettings(t, st, "user-1")
	seedConfig(t, st, release.ID)

	record, err := d.Deploy(ctx, "user-1", release.ID)
	var uerr *domain.UploadError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, domain.StatusFailed, record.Status)
	assert.NotEmpty(t, record.ErrorMessage)

	stored, err := st.GetDeployment(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestDeploy_UnknownRelease(t *testing.T) {
	d, _, _ := setupDeployer(t, catalog.Default())

	_, err := d.Deploy(context.Background(), "user-1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeploy_WrongUser(t *testing.T) {
	d, st, _ := setupDeployer(t, catalog.Default())

	release := seedRelease(t, st, "user-1")
	_, err := d.Deploy(context.Background(), "user-2", release.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeploy_VersionSelectsPrefix(t *testing.T) {
	d, st, fb := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedSettings(t, st, "user-1")
	seedConfig(t, st, release.ID)
	seedConfig(t, st, release.ID)

	record, err := d.Deploy(ctx, "user-1", release.ID)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("user-1/%s/v2", release.ID), record.R2Path)
	assert.Contains(t, fb.objects, fmt.Sprintf("user-1/%s/v2/manifest.json", release.ID))
}

// =============================================================================
// Status Tests
// =============================================================================

func TestStatus_NoConfigNoDeployment(t *testing.T) {
	d, st, _ := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")

	resp, err := d.Status(ctx, "user-1", release.ID)
	require.NoError(t, err)
	assert.False(t, resp.HasConfiguration)
	assert.Nil(t, resp.Deployment)
}

func TestStatus_AfterDeploy(t *testing.T) {
	d, st, _ := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedSettings(t, st, "user-1")
	seedConfig(t, st, release.ID)

	record, err := d.Deploy(ctx, "user-1", release.ID)
	require.NoError(t, err)

	resp, err := d.Status(ctx, "user-1", release.ID)
	require.NoError(t, err)
	assert.True(t, resp.HasConfiguration)
	require.NotNil(t, resp.Deployment)
	assert.Equal(t, record.ID, resp.Deployment.ID)
	assert.Equal(t, domain.StatusReady, resp.Deployment.Status)
}

func TestStatus_WrongUser(t *testing.T) {
	d, st, _ := setupDeployer(t, catalog.Default())

	release := seedRelease(t, st, "user-1")
	_, err := d.Status(context.Background(), "user-2", release.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// =============================================================================
// History and Deletion Tests
// =============================================================================

func TestHistory_NewestFirst(t *testing.T) {
	d, st, _ := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedSettings(t, st, "user-1")
	seedConfig(t, st, release.ID)

	_, err := d.Deploy(ctx, "user-1", release.ID)
	require.NoError(t, err)
	second, err := d.Deploy(ctx, "user-1", release.ID)
	require.NoError(t, err)

	records, err := d.History(ctx, "user-1", release.ID, store.DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, second.ID, records[0].ID)
}

func TestDeleteRelease_ClearsArtifacts(t *testing.T) {
	d, st, fb := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	release := seedRelease(t, st, "user-1")
	seedSettings(t, st, "user-1")
	seedConfig(t, st, release.ID)

	_, err := d.Deploy(ctx, "user-1", release.ID)
	require.NoError(t, err)
	require.NotEmpty(t, fb.objects)

	require.NoError(t, d.DeleteRelease(ctx, "user-1", release.ID))

	assert.Empty(t, fb.objects)
	_, err = st.GetRelease(ctx, release.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRelease_LeavesSiblingArtifacts(t *testing.T) {
	d, st, fb := setupDeployer(t, catalog.Default())
	ctx := context.Background()

	relA := seedRelease(t, st, "user-1")
	now := time.Now().UTC()
	relB := &domain.Release{
		ID:        uuid.New().String(),
		UserUUID:  "user-1",
		Name:      "staging",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.CreateRelease(ctx, relB))

	seedSettings(t, st, "user-1")
	seedConfig(t, st, relA.ID)
	seedConfig(t, st, relB.ID)

	recA, err := d.Deploy(ctx, "user-1", relA.ID)
	require.NoError(t, err)
	recB, err := d.Deploy(ctx, "user-1", relB.ID)
	require.NoError(t, err)
	assert.NotEqual(t, recA.R2Path, recB.R2Path)

	require.NoError(t, d.DeleteRelease(ctx, "user-1", relA.ID))

	for key := range fb.objects {
		assert.False(t, strings.HasPrefix(key, recA.R2Path+"/"), "leftover key %s", key)
	}
	assert.Contains(t, fb.objects, recB.R2Path+"/manifest.json")
}
