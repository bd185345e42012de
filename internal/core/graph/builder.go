package graph

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/leger-labs/leger/internal/core/catalog"
)

// =============================================================================
// Service Set
// =============================================================================

// ServiceSet is the resolved service graph: topologically ordered names,
// their descriptors, and the dependency edges between members of the set.
type ServiceSet struct {
	// Names lists the services in start order: dependencies first, with
	// alphabetical tie-breaking so the order is stable across runs.
	Names []string

	// Descriptors maps each member to its descriptor.
	Descriptors map[string]catalog.ServiceDescriptor

	// Edges maps a service to the dependencies it waits on. Every edge
	// target is itself a member of the set.
	Edges map[string][]string

	// Warnings collects the non-fatal problems encountered: unknown service
	// names and dependencies on absent services, all skipped rather than
	// failing the deployment.
	Warnings []string
}

// Contains reports set membership.
func (s ServiceSet) Contains(name string) bool {
	_, ok := s.Descriptors[name]
	return ok
}

// =============================================================================
// Builder
// =============================================================================

// Builder derives service sets against a fixed registry.
type Builder struct {
	registry *catalog.Registry
	logger   *slog.Logger
}

// NewBuilder creates a service graph builder.
func NewBuilder(registry *catalog.Registry, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		registry: registry,
		logger:   logger.With("component", "graph"),
	}
}

// Build derives the service set for a source. Unknown service names are
// skipped with a warning, never fatal: an unknown service cannot be rendered
// but must not block deployment of the rest.
func (b *Builder) Build(src ServiceSource) ServiceSet {
	set := ServiceSet{
		Descriptors: make(map[string]catalog.ServiceDescriptor),
		Edges:       make(map[string][]string),
	}

	switch s := src.(type) {
	case Declarative:
		b.collectDeclarative(&set, s)
	case Inferred:
		b.collectInferred(&set, s)
	}

	b.linkEdges(&set)
	set.Names = orderServices(set)

	for _, w := range set.Warnings {
		b.logger.Warn(w)
	}
	return set
}

// collectDeclarative includes every listed service that is not disabled.
// Declarative descriptors carry their own image, so they are renderable
// without a registry entry.
func (b *Builder) collectDeclarative(set *ServiceSet, src Declarative) {
	order := src.Order
	if len(order) == 0 {
		order = make([]string, 0, len(src.Services))
		for name := range src.Services {
			order = append(order, name)
		}
		sort.Strings(order)
	}
	for _, name := range order {
		desc, ok := src.Services[name]
		if !ok {
			continue
		}
		if desc.Disabled {
			continue
		}
		if desc.Image == "" {
			set.Warnings = append(set.Warnings, fmt.Sprintf("skipping service %s: no image", name))
			continue
		}
		set.Descriptors[name] = desc
	}
}

// collectInferred starts from the mandatory core set, then adds one service
// group per enabled feature/provider pair from the fixed lookup table.
func (b *Builder) collectInferred(set *ServiceSet, src Inferred) {
	for _, name := range b.registry.CoreServices() {
		b.include(set, name)
	}
	for _, c := range b.registry.Categories() {
		if !src.Features[c.Feature] {
			continue
		}
		provider, ok := src.Providers[c.Name]
		if !ok {
			continue
		}
		names := b.registry.FeatureServices(c.Name, provider)
		if names == nil {
			set.Warnings = append(set.Warnings, fmt.Sprintf("skipping unknown provider %s=%s", c.Name, provider))
			continue
		}
		for _, name := range names {
			b.include(set, name)
		}
	}
}

func (b *Builder) include(set *ServiceSet, name string) {
	if set.Contains(name) {
		return
	}
	desc, ok := b.registry.Service(name)
	if !ok {
		set.Warnings = append(set.Warnings, fmt.Sprintf("skipping unknown service %s", name))
		return
	}
	set.Descriptors[name] = desc
}

// linkEdges wires each member's dependencies, keeping only edges whose
// target is also in the set so the rendered output never references a
// service that does not exist.
func (b *Builder) linkEdges(set *ServiceSet) {
	names := make([]string, 0, len(set.Descriptors))
	for name := range set.Descriptors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, dep := range set.Descriptors[name].DependsOn {
			if !set.Contains(dep) {
				set.Warnings = append(set.Warnings, fmt.Sprintf("dropping dependency %s -> %s: target not in set", name, dep))
				continue
			}
			set.Edges[name] = append(set.Edges[name], dep)
		}
	}
}

// orderServices topologically sorts the set, dependencies first, breaking
// ties alphabetically so identical sets always order identically. Cycles
// cannot occur with the static tables, but any remainder is appended sorted
// as a fallback rather than dropped.
func orderServices(set ServiceSet) []string {
	remaining := make(map[string]int, len(set.Descriptors))
	for name := range set.Descriptors {
		remaining[name] = len(set.Edges[name])
	}

	ordered := make([]string, 0, len(remaining))
	placed := make(map[string]bool, len(remaining))

	for len(ordered) < len(set.Descriptors) {
		var ready []string
		for name, degree := range remaining {
			if degree == 0 && !placed[name] {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			// Cycle fallback: append whatever is left, sorted.
			var rest []string
			for name := range remaining {
				if !placed[name] {
					rest = append(rest, name)
				}
			}
			sort.Strings(rest)
			return append(ordered, rest...)
		}
		sort.Strings(ready)
		for _, name := range ready {
			placed[name] = true
			ordered = append(ordered, name)
			for dependent, deps := range set.Edges {
				for _, dep := range deps {
					if dep == name {
						remaining[dependent]--
					}
				}
			}
		}
	}
	return ordered
}
