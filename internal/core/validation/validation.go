// Package validation provides pure validation functions for release
// configurations and rendered artifact sets.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leger-labs/leger/internal/core/domain"
)

// =============================================================================
// Result
// =============================================================================

// Result is the outcome of validating a release configuration. Errors make
// the configuration undeployable; warnings and notes are informational.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings,omitempty"`
	Notes    []string `json:"notes,omitempty"`
}

// =============================================================================
// Release Configuration Validation
// =============================================================================

// ValidateReleaseConfig checks a saved configuration for structural
// problems. Duplicate subdomains across caddy routes are fatal; a missing
// model selection only produces a note, since the resolver substitutes the
// compiled-in default.
func ValidateReleaseConfig(rc *domain.ReleaseConfig) Result {
	res := Result{Valid: true, Errors: []string{}}
	if rc == nil {
		res.Valid = false
		res.Errors = append(res.Errors, "no saved configuration")
		return res
	}

	if dups := duplicateSubdomains(rc.CaddyRoutes); len(dups) > 0 {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("Duplicate subdomains found: %s", strings.Join(dups, ", ")))
	}

	if len(rc.ModelAssignments.Chat) == 0 {
		res.Notes = append(res.Notes, "no chat models selected; the default local model will be used")
	}
	if len(rc.ModelAssignments.Embedding) == 0 {
		res.Notes = append(res.Notes, "no embedding models selected; the default embedding model will be used")
	}

	return res
}

// duplicateSubdomains returns subdomains assigned to more than one service,
// sorted for stable reporting. Nil route values are unrouted services.
func duplicateSubdomains(routes map[string]*string) []string {
	count := make(map[string]int)
	for _, subdomain := range routes {
		if subdomain == nil || *subdomain == "" {
			continue
		}
		count[*subdomain]++
	}
	var dups []string
	for subdomain, n := range count {
		if n > 1 {
			dups = append(dups, subdomain)
		}
	}
	sort.Strings(dups)
	return dups
}

// =============================================================================
// Rendered Set Validation
// =============================================================================

// ValidateRendered checks the completeness of a rendered artifact set
// before upload: it must be non-empty, contain exactly one network unit,
// and every file must have content.
func ValidateRendered(files []domain.RenderedFile) error {
	if len(files) == 0 {
		return domain.NewValidationError("rendered set is empty")
	}

	networks := 0
	var problems []string
	for _, f := range files {
		if f.Type == domain.FileTypeNetwork {
			networks++
		}
		if f.Content == "" {
			problems = append(problems, fmt.Sprintf("file %s has no content", f.Name))
		}
	}
	if networks != 1 {
		problems = append(problems, fmt.Sprintf("expected exactly one network unit, found %d", networks))
	}

	if len(problems) > 0 {
		return domain.NewValidationError(problems...)
	}
	return nil
}
