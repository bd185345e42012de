package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leger-labs/leger/internal/core/catalog"
	"github.com/leger-labs/leger/internal/core/config"
)

func indexOf(names []string, want string) int {
	for i, n := range names {
		if n == want {
			return i
		}
	}
	return -1
}

// =============================================================================
// Inferred Mode Tests
// =============================================================================

func TestBuild_Inferred_CoreOnly(t *testing.T) {
	b := NewBuilder(catalog.Default(), nil)

	set := b.Build(Inferred{})

	for _, name := range catalog.Default().CoreServices() {
		assert.True(t, set.Contains(name), "core service %s missing", name)
	}
	assert.False(t, set.Contains("qdrant"))
	assert.Empty(t, set.Warnings)
}

func TestBuild_Inferred_FeatureAddsServices(t *testing.T) {
	b := NewBuilder(catalog.Default(), nil)

	set := b.Build(Inferred{
		Features:  map[string]bool{"rag_enabled": true, "web_search_enabled": true},
		Providers: map[string]string{"vector_db": "qdrant", "web_search_engine": "searxng"},
	})

	assert.True(t, set.Contains("qdrant"))
	assert.True(t, set.Contains("searxng"))
	assert.True(t, set.Contains("searxng-redis"))
}

func TestBuild_Inferred_DisabledFeatureAddsNothing(t *testing.T) {
	b := NewBuilder(catalog.Default(), nil)

	set := b.Build(Inferred{
		Features:  map[string]bool{"rag_enabled": false},
		Providers: map[string]string{"vector_db": "qdrant"},
	})
	assert.False(t, set.Contains("qdrant"))
}

func TestBuild_Inferred_UnknownProviderWarns(t *testing.T) {
	b := NewBuilder(catalog.Default(), nil)

	set := b.Build(Inferred{
		Features:  map[string]bool{"rag_enabled": true},
		Providers: map[string]string{"vector_db": "pinecone"},
	})

	assert.False(t, set.Contains("qdrant"))
	require.NotEmpty(t, set.Warnings)
	assert.Contains(t, set.Warnings[0], "pinecone")
}

// =============================================================================
// Declarative Mode Tests
// =============================================================================

func TestBuild_Declarative(t *testing.T) {
	b := NewBuilder(catalog.Default(), nil)

	set := b.Build(Declarative{
		Services: map[string]catalog.ServiceDescriptor{
			"web": {Name: "web", Image: "img", DependsOn: []string{"db"}},
			"db":  {Name: "db", Image: "img"},
			"off": {Name: "off", Image: "img", Disabled: true},
		},
	})

	assert.True(t, set.Contains("web"))
	assert.True(t, set.Contains("db"))
	assert.False(t, set.Contains("off"))
	assert.Equal(t, []string{"db"}, set.Edges["web"])
}

func TestBuild_Declarative_MissingDependencyDropped(t *testing.T) {
	b := NewBuilder(catalog.Default(), nil)

	set := b.Build(Declarative{
		Services: map[string]catalog.ServiceDescriptor{
			"web": {Name: "web", Image: "img", DependsOn: []string{"ghost"}},
		},
	})

	assert.Empty(t, set.Edges["web"])
	require.NotEmpty(t, set.Warnings)
	assert.Contains(t, set.Warnings[0], "ghost")
}

// =============================================================================
// Ordering & Closure Tests
// =============================================================================

func TestBuild_DependenciesOrderedFirst(t *testing.T) {
	b := NewBuilder(catalog.Default(), nil)

	set := b.Build(Inferred{})

	assert.Less(t, indexOf(set.Names, "litellm-postgres"), indexOf(set.Names, "litellm"))
	assert.Less(t, indexOf(set.Names, "litellm"), indexOf(set.Names, "open-webui"))
	assert.Less(t, indexOf(set.Names, "open-webui-redis"), indexOf(set.Names, "open-webui"))
}

func TestBuild_DependencyClosure(t *testing.T) {
	b := NewBuilder(catalog.Default(), nil)

	set := b.Build(Inferred{
		Features:  map[string]bool{"rag_enabled": true, "web_search_enabled": true},
		Providers: map[string]string{"vector_db": "qdrant", "web_search_engine": "searxng"},
	})

	for svc, deps := range set.Edges {
		for _, dep := range deps {
			assert.True(t, set.Contains(dep), "edge %s -> %s leaves the set", svc, dep)
		}
	}
}

func TestBuild_OrderIsStable(t *testing.T) {
	b := NewBuilder(catalog.Default(), nil)
	src := Inferred{
		Features:  map[string]bool{"rag_enabled": true},
		Providers: map[string]string{"vector_db": "qdrant"},
	}

	first := b.Build(src)
	second := b.Build(src)
	assert.Equal(t, first.Names, second.Names)
}

// =============================================================================
// Source Resolution Tests
// =============================================================================

func TestSourceFor(t *testing.T) {
	inferred := &config.UnifiedDeploymentConfig{
		Features:  map[string]bool{"rag_enabled": true},
		Providers: map[string]string{"vector_db": "qdrant"},
	}
	_, ok := SourceFor(inferred).(Inferred)
	assert.True(t, ok)

	declarative := &config.UnifiedDeploymentConfig{}
	declarative.Infrastructure.Services = map[string]catalog.ServiceDescriptor{
		"web": {Name: "web", Image: "img"},
	}
	_, ok = SourceFor(declarative).(Declarative)
	assert.True(t, ok)
}
