// Package marketplace parses user-supplied Docker Compose fragments into
// service descriptors. A saved fragment switches the pipeline into
// declarative mode: the fragment's services replace the inferred set.
package marketplace

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/leger-labs/leger/internal/core/catalog"
)

// =============================================================================
// Fragment
// =============================================================================

// Fragment is a parsed compose fragment: descriptors keyed by service name
// plus the declaration order used as the declarative service order.
type Fragment struct {
	Services map[string]catalog.ServiceDescriptor
	Order    []string
}

// =============================================================================
// Parsing
// =============================================================================

// Parse parses a Docker Compose fragment into a Fragment. Pure function, no
// I/O. Services are ordered by name so the result is stable regardless of
// map iteration.
func Parse(yamlContent string) (*Fragment, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupported(project); err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	frag := &Fragment{
		Services: make(map[string]catalog.ServiceDescriptor, len(project.Services)),
		Order:    make([]string, 0, len(project.Services)),
	}
	for _, svc := range project.Services {
		desc, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		frag.Services[desc.Name] = desc
		frag.Order = append(frag.Order, desc.Name)
	}
	sort.Strings(frag.Order)

	return frag, nil
}

// loadProject loads the fragment with compose-go.
func loadProject(yamlContent string) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("leger-fragment", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// In-memory input, nothing to resolve on disk.
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have an image", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// checkUnsupported rejects compose features the quadlet renderer has no
// mapping for.
func checkUnsupported(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "compose secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "compose configs are not supported", ErrUnsupportedFeature)
	}
	for _, svc := range project.Services {
		if svc.Build != nil {
			return NewParseError("services."+svc.Name+".build", "build contexts are not supported", ErrUnsupportedFeature)
		}
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}
	return nil
}

// convertService converts a compose-go service into a descriptor.
func convertService(svc types.ServiceConfig) (catalog.ServiceDescriptor, error) {
	desc := catalog.ServiceDescriptor{
		Name:  svc.Name,
		Image: svc.Image,
	}
	if desc.Image == "" {
		return catalog.ServiceDescriptor{}, NewParseError("services."+svc.Name, "service must have an image", ErrServiceNoImage)
	}

	for _, p := range svc.Ports {
		if p.Published == "" {
			continue
		}
		desc.PublishPorts = append(desc.PublishPorts, p.Published+":"+strconv.Itoa(int(p.Target)))
	}

	// Ordered by key so rendering is stable.
	envKeys := make([]string, 0, len(svc.Environment))
	for k := range svc.Environment {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		v := svc.Environment[k]
		if v == nil {
			continue
		}
		desc.Environment = append(desc.Environment, catalog.EnvVar{Key: k, Value: *v})
	}

	for _, v := range svc.Volumes {
		if v.Type == "bind" || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "./") {
			return catalog.ServiceDescriptor{}, NewParseError(
				"services."+svc.Name+".volumes",
				"bind mounts are not supported, use named volumes",
				ErrUnsupportedFeature,
			)
		}
		desc.Volumes = append(desc.Volumes, catalog.VolumeMount{
			Name:      v.Source,
			MountPath: v.Target,
		})
	}

	for dep := range svc.DependsOn {
		desc.DependsOn = append(desc.DependsOn, dep)
	}
	sort.Strings(desc.DependsOn)

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		desc.HealthCheck = convertHealthCheck(svc.HealthCheck)
	}

	return desc, nil
}

// convertHealthCheck flattens a compose healthcheck into the descriptor
// form. CMD and CMD-SHELL markers are dropped, the remainder joined.
func convertHealthCheck(hc *types.HealthCheckConfig) *catalog.HealthCheck {
	test := hc.Test
	if len(test) > 0 && (test[0] == "CMD" || test[0] == "CMD-SHELL") {
		test = test[1:]
	}
	out := &catalog.HealthCheck{Cmd: strings.Join(test, " ")}
	if hc.Interval != nil {
		out.Interval = hc.Interval.String()
	}
	if hc.Timeout != nil {
		out.Timeout = hc.Timeout.String()
	}
	if hc.StartPeriod != nil {
		out.StartPeriod = hc.StartPeriod.String()
	}
	if hc.Retries != nil {
		out.Retries = int(*hc.Retries)
	}
	return out
}
