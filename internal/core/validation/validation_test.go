package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leger-labs/leger/internal/core/domain"
)

func ptr(s string) *string { return &s }

func TestValidateReleaseConfig_Clean(t *testing.T) {
	rc := &domain.ReleaseConfig{
		CaddyRoutes: map[string]*string{
			"open-webui": ptr("chat"),
			"litellm":    ptr("api"),
		},
		ModelAssignments: domain.ModelAssignments{
			Chat:      []string{"llama-3.2-3b-instruct"},
			Embedding: []string{"nomic-embed-text-v1.5"},
		},
	}

	res := ValidateReleaseConfig(rc)

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Notes)
}

func TestValidateReleaseConfig_DuplicateSubdomains(t *testing.T) {
	rc := &domain.ReleaseConfig{
		CaddyRoutes: map[string]*string{
			"open-webui": ptr("chat"),
			"litellm":    ptr("chat"),
			"searxng":    ptr("search"),
		},
	}

	res := ValidateReleaseConfig(rc)

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Duplicate subdomains found")
	assert.Contains(t, res.Errors[0], "chat")
	assert.NotContains(t, res.Errors[0], "search")
}

func TestValidateReleaseConfig_NilAndEmptyRoutesIgnored(t *testing.T) {
	rc := &domain.ReleaseConfig{
		CaddyRoutes: map[string]*string{
			"open-webui": nil,
			"litellm":    ptr(""),
			"searxng":    nil,
		},
		ModelAssignments: domain.ModelAssignments{
			Chat:      []string{"m"},
			Embedding: []string{"e"},
		},
	}

	res := ValidateReleaseConfig(rc)

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidateReleaseConfig_MissingModelsIsNonFatal(t *testing.T) {
	rc := &domain.ReleaseConfig{}

	res := ValidateReleaseConfig(rc)

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Notes, 2)
	assert.Contains(t, res.Notes[0], "default local model")
	assert.Contains(t, res.Notes[1], "default embedding model")
}

func TestValidateReleaseConfig_Nil(t *testing.T) {
	res := ValidateReleaseConfig(nil)

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "no saved configuration")
}

func TestValidateRendered_OK(t *testing.T) {
	files := []domain.RenderedFile{
		{Name: "leger.network", Content: "[Network]\n", Type: domain.FileTypeNetwork},
		{Name: "web.container", Content: "[Container]\n", Type: domain.FileTypeContainer},
	}

	assert.NoError(t, ValidateRendered(files))
}

func TestValidateRendered_Empty(t *testing.T) {
	err := ValidateRendered(nil)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems[0], "empty")
}

func TestValidateRendered_MissingNetwork(t *testing.T) {
	files := []domain.RenderedFile{
		{Name: "web.container", Content: "[Container]\n", Type: domain.FileTypeContainer},
	}

	err := ValidateRendered(files)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Error(), "network unit")
}

func TestValidateRendered_EmptyContent(t *testing.T) {
	files := []domain.RenderedFile{
		{Name: "leger.network", Content: "[Network]\n", Type: domain.FileTypeNetwork},
		{Name: "web.container", Content: "", Type: domain.FileTypeContainer},
	}

	err := ValidateRendered(files)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Error(), "web.container")
}
