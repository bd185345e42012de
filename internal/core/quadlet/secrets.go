package quadlet

import "strings"

// DeriveSecretNames maps the distinct providers implied by the selected
// cloud model ids to secret names: lowercase(provider) + "_api_key" with
// hyphens normalized to underscores, deduplicated in first-seen order.
//
// Example:
//
//	DeriveSecretNames([]string{"anthropic/claude-sonnet-4", "Mistral-AI/large"})
//	// returns ["anthropic_api_key", "mistral_ai_api_key"]
func DeriveSecretNames(cloudModels []string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, id := range cloudModels {
		provider, _, ok := strings.Cut(id, "/")
		if !ok || provider == "" {
			continue
		}
		name := strings.ToLower(provider)
		name = strings.ReplaceAll(name, "-", "_") + "_api_key"
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
