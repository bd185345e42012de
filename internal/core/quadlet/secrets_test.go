package quadlet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSecretNames(t *testing.T) {
	names := DeriveSecretNames([]string{
		"anthropic/claude-sonnet-4",
		"openai/gpt-4o",
		"anthropic/claude-haiku-3",
		"Mistral-AI/mistral-large",
	})
	assert.Equal(t, []string{
		"anthropic_api_key",
		"openai_api_key",
		"mistral_ai_api_key",
	}, names)
}

func TestDeriveSecretNames_SkipsBareIDs(t *testing.T) {
	assert.Empty(t, DeriveSecretNames([]string{"llama-3.2-3b-instruct", "/odd"}))
}

func TestDeriveSecretNames_Empty(t *testing.T) {
	assert.Empty(t, DeriveSecretNames(nil))
}
