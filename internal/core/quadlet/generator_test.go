package quadlet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leger-labs/leger/internal/core/catalog"
	"github.com/leger-labs/leger/internal/core/config"
	"github.com/leger-labs/leger/internal/core/domain"
	"github.com/leger-labs/leger/internal/core/graph"
)

func testConfig() *config.UnifiedDeploymentConfig {
	cfg := &config.UnifiedDeploymentConfig{
		Features:  map[string]bool{},
		Providers: map[string]string{},
	}
	cfg.Infrastructure.Network.Name = "leger"
	return cfg
}

func testSet() graph.ServiceSet {
	return graph.ServiceSet{
		Names: []string{"db", "web"},
		Descriptors: map[string]catalog.ServiceDescriptor{
			"db": {
				Name:        "db",
				Image:       "docker.io/library/postgres:16-alpine",
				Description: "Database",
				Volumes:     []catalog.VolumeMount{{Name: "pgdata", MountPath: "/var/lib/postgresql/data"}},
				Environment: []catalog.EnvVar{{Key: "POSTGRES_DB", Value: "app"}},
			},
			"web": {
				Name:          "web",
				Image:         "example/web:1",
				Description:   "Web frontend",
				Documentation: "https://example.com/docs",
				DependsOn:     []string{"db"},
				PublishPorts:  []string{"8080:80"},
				CloudSecrets:  true,
				HealthCheck: &catalog.HealthCheck{
					Cmd:         "curl -f http://localhost/health",
					Interval:    "30s",
					Timeout:     "5s",
					Retries:     3,
					StartPeriod: "10s",
				},
			},
		},
		Edges: map[string][]string{"web": {"db"}},
	}
}

// =============================================================================
// Golden Output Tests
// =============================================================================

const goldenWebUnit = `[Unit]
Description=Web frontend
Documentation=https://example.com/docs
After=network-online.target
After=leger.network.service
Requires=leger.network.service
After=db.service
Wants=db.service
Wants=network-online.target

[Container]
Image=example/web:1
AutoUpdate=registry
ContainerName=web
Network=leger.network
PublishPort=8080:80
Secret=anthropic_api_key
HealthCmd=curl -f http://localhost/health
HealthInterval=30s
HealthTimeout=5s
HealthRetries=3
HealthStartPeriod=10s

[Service]
Slice=llm.slice
Restart=always
RestartSec=10
TimeoutStartSec=900

[Install]
WantedBy=default.target
`

func TestRender_GoldenContainerUnit(t *testing.T) {
	g := NewGenerator(nil)
	cfg := testConfig()
	cfg.Models.Cloud = []string{"anthropic/claude-sonnet-4"}

	files, err := g.Render(cfg, testSet())
	require.NoError(t, err)

	var web *domain.RenderedFile
	for i := range files {
		if files[i].Name == "web.container" {
			web = &files[i]
		}
	}
	require.NotNil(t, web)
	assert.Equal(t, goldenWebUnit, web.Content)
	assert.Equal(t, domain.FileTypeContainer, web.Type)
}

func TestRender_NetworkUnitFirst(t *testing.T) {
	g := NewGenerator(nil)
	cfg := testConfig()
	cfg.Infrastructure.Network.Subnet = "10.89.0.0/24"

	files, err := g.Render(cfg, testSet())
	require.NoError(t, err)
	require.NotEmpty(t, files)

	assert.Equal(t, "leger.network", files[0].Name)
	assert.Equal(t, domain.FileTypeNetwork, files[0].Type)
	assert.Equal(t, "[Unit]\nDescription=Pod network for leger deployment\n\n[Network]\nSubnet=10.89.0.0/24\n", files[0].Content)
}

func TestRender_NetworkUnitWithoutSubnet(t *testing.T) {
	g := NewGenerator(nil)

	files, err := g.Render(testConfig(), testSet())
	require.NoError(t, err)
	assert.Equal(t, "[Unit]\nDescription=Pod network for leger deployment\n\n[Network]\n", files[0].Content)
}

func TestRender_VolumeUnits(t *testing.T) {
	g := NewGenerator(nil)

	set := testSet()
	// Second service referencing the same volume must not duplicate it.
	db2 := set.Descriptors["web"]
	db2.Volumes = []catalog.VolumeMount{{Name: "pgdata", MountPath: "/backup"}}
	set.Descriptors["web"] = db2

	files, err := g.Render(testConfig(), set)
	require.NoError(t, err)

	var volumes []string
	for _, f := range files {
		if f.Type == domain.FileTypeVolume {
			volumes = append(volumes, f.Name)
			assert.Equal(t, "[Volume]\n", f.Content)
		}
	}
	assert.Equal(t, []string{"pgdata.volume"}, volumes)
}

func TestRender_EmptySetFatal(t *testing.T) {
	g := NewGenerator(nil)

	files, err := g.Render(testConfig(), graph.ServiceSet{})
	require.Error(t, err)

	var renderErr *domain.RenderError
	assert.ErrorAs(t, err, &renderErr)
	assert.Nil(t, files, "a fatal render returns no files, not even the network unit")
}

// =============================================================================
// Environment Layering Tests
// =============================================================================

func TestRender_ProviderConfigLandsOnChatUI(t *testing.T) {
	g := NewGenerator(nil)

	cfg := testConfig()
	cfg.ProviderConfig = []catalog.Setting{{Key: "VECTOR_DB", Value: "qdrant"}}

	set := graph.ServiceSet{
		Names: []string{"open-webui"},
		Descriptors: map[string]catalog.ServiceDescriptor{
			"open-webui": {Name: "open-webui", Image: "img", Environment: []catalog.EnvVar{{Key: "A", Value: "1"}}},
		},
		Edges: map[string][]string{},
	}

	files, err := g.Render(cfg, set)
	require.NoError(t, err)
	assert.Contains(t, files[1].Content, "Environment=A=1\nEnvironment=VECTOR_DB=qdrant\n")
}

func TestRender_EnvOverrideWins(t *testing.T) {
	g := NewGenerator(nil)

	cfg := testConfig()
	cfg.Infrastructure.EnvOverrides = map[string][]catalog.EnvVar{
		"db": {{Key: "POSTGRES_DB", Value: "custom"}, {Key: "EXTRA", Value: "x"}},
	}

	files, err := g.Render(cfg, testSet())
	require.NoError(t, err)

	var db string
	for _, f := range files {
		if f.Name == "db.container" {
			db = f.Content
		}
	}
	assert.Contains(t, db, "Environment=POSTGRES_DB=custom\n")
	assert.Contains(t, db, "Environment=EXTRA=x\n")
	assert.NotContains(t, db, "POSTGRES_DB=app")
}

func TestRender_WebUINameOverride(t *testing.T) {
	g := NewGenerator(nil)

	cfg := testConfig()
	cfg.Infrastructure.WebUIName = "my-chat"

	set := graph.ServiceSet{
		Names: []string{"open-webui"},
		Descriptors: map[string]catalog.ServiceDescriptor{
			"open-webui": {Name: "open-webui", Image: "img"},
		},
		Edges: map[string][]string{},
	}

	files, err := g.Render(cfg, set)
	require.NoError(t, err)
	assert.Contains(t, files[1].Content, "ContainerName=my-chat\n")
	// The unit filename stays keyed by service name.
	assert.Equal(t, "open-webui.container", files[1].Name)
}

// =============================================================================
// Full-Stack Determinism
// =============================================================================

func TestRender_DefaultCatalogReproducible(t *testing.T) {
	reg := catalog.Default()
	b := graph.NewBuilder(reg, nil)
	g := NewGenerator(nil)

	cfg := testConfig()
	cfg.Features = map[string]bool{"rag_enabled": true}
	cfg.Providers = map[string]string{"vector_db": "qdrant"}
	cfg.Models.Cloud = []string{"openai/gpt-4o"}

	first, err := g.Render(cfg, b.Build(graph.SourceFor(cfg)))
	require.NoError(t, err)
	second, err := g.Render(cfg, b.Build(graph.SourceFor(cfg)))
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}
