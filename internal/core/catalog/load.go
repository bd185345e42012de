package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load builds a registry from a YAML definition file. An empty path returns
// the compiled-in defaults. Override files replace whole sections: a file
// that lists services substitutes the full service table, a file that omits
// them keeps the defaults.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML definition bytes, filling unspecified
// sections from the compiled-in defaults.
func Parse(data []byte) (*Registry, error) {
	var override Definition
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}

	def := defaultDefinition()
	if len(override.Services) > 0 {
		def.Services = override.Services
	}
	if len(override.Categories) > 0 {
		def.Categories = override.Categories
	}
	if len(override.FeatureServices) > 0 {
		def.FeatureServices = override.FeatureServices
	}
	if len(override.ProviderConfig) > 0 {
		def.ProviderConfig = override.ProviderConfig
	}
	if len(override.CoreServices) > 0 {
		def.CoreServices = override.CoreServices
	}
	if len(override.DefaultChatModels) > 0 {
		def.DefaultChatModels = override.DefaultChatModels
	}
	if len(override.DefaultEmbeddingModels) > 0 {
		def.DefaultEmbeddingModels = override.DefaultEmbeddingModels
	}
	if override.NetworkName != "" {
		def.NetworkName = override.NetworkName
	}
	if override.NetworkSubnet != "" {
		def.NetworkSubnet = override.NetworkSubnet
	}

	return FromDefinition(def)
}
