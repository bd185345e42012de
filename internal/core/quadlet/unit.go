// Package quadlet renders services, networks and volumes into declarative
// unit files. Units are built as an ordered list of (section, key, value)
// entries and serialized by one function, so output is reproducible and
// diffable byte for byte.
package quadlet

import (
	"strings"

	"github.com/leger-labs/leger/internal/core/domain"
)

// =============================================================================
// Sections
// =============================================================================

// Section names a unit file section.
type Section string

const (
	SectionUnit      Section = "Unit"
	SectionContainer Section = "Container"
	SectionNetwork   Section = "Network"
	SectionVolume    Section = "Volume"
	SectionService   Section = "Service"
	SectionInstall   Section = "Install"
)

// sectionOrder fixes the emission order of sections. Entries are grouped by
// section and sections appear in this order regardless of insertion order.
var sectionOrder = []Section{
	SectionUnit,
	SectionContainer,
	SectionNetwork,
	SectionVolume,
	SectionService,
	SectionInstall,
}

// =============================================================================
// Unit
// =============================================================================

type entry struct {
	section Section
	key     string
	value   string
}

// Unit is one declarative unit under construction. Keys within a section
// keep insertion order, which the generator drives from fixed tables.
type Unit struct {
	Name     string
	Kind     domain.FileType
	entries  []entry
	sections map[Section]bool
}

// NewUnit creates an empty unit of the given kind.
func NewUnit(name string, kind domain.FileType) *Unit {
	return &Unit{
		Name:     name,
		Kind:     kind,
		sections: make(map[Section]bool),
	}
}

// Add appends one key=value entry to a section. Repeated keys are legal and
// preserved (After=, PublishPort=, Environment= and friends repeat).
func (u *Unit) Add(section Section, key, value string) {
	u.entries = append(u.entries, entry{section: section, key: key, value: value})
	u.sections[section] = true
}

// EnsureSection marks a section for emission even without entries. Volume
// units carry an empty [Volume] section.
func (u *Unit) EnsureSection(section Section) {
	u.sections[section] = true
}

// Filename returns the unit's on-disk name derived from its kind.
func (u *Unit) Filename() string {
	switch u.Kind {
	case domain.FileTypeNetwork:
		return u.Name + ".network"
	case domain.FileTypeVolume:
		return u.Name + ".volume"
	default:
		return u.Name + ".container"
	}
}

// Serialize renders the unit as section-ordered key=value text.
func (u *Unit) Serialize() string {
	var b strings.Builder
	first := true
	for _, section := range sectionOrder {
		if !u.sections[section] {
			continue
		}
		if !first {
			b.WriteString("\n")
		}
		first = false
		b.WriteString("[")
		b.WriteString(string(section))
		b.WriteString("]\n")
		for _, e := range u.entries {
			if e.section != section {
				continue
			}
			b.WriteString(e.key)
			b.WriteString("=")
			b.WriteString(e.value)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// File converts the unit into its rendered artifact.
func (u *Unit) File() domain.RenderedFile {
	return domain.RenderedFile{
		Name:    u.Filename(),
		Content: u.Serialize(),
		Type:    u.Kind,
	}
}
