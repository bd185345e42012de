package quadlet

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/leger-labs/leger/internal/core/catalog"
	"github.com/leger-labs/leger/internal/core/config"
	"github.com/leger-labs/leger/internal/core/domain"
	"github.com/leger-labs/leger/internal/core/graph"
)

// chatUIService is the service the provider settings bag configures and the
// one whose container name the webui override renames.
const chatUIService = "open-webui"

// =============================================================================
// Generator
// =============================================================================

// Generator renders a service set into unit file artifacts.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator creates a unit file generator.
func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{logger: logger.With("component", "quadlet")}
}

// Render produces the full artifact list for a deployment: exactly one
// network unit first, one container unit per service in start order, then
// one volume unit per distinct volume name. An empty service set is fatal:
// no files are returned, not even the network unit.
func (g *Generator) Render(cfg *config.UnifiedDeploymentConfig, set graph.ServiceSet) ([]domain.RenderedFile, error) {
	if len(set.Names) == 0 {
		return nil, &domain.RenderError{Message: "no renderable services in configuration"}
	}

	network := cfg.Infrastructure.Network.Name
	secretNames := DeriveSecretNames(cfg.Models.Cloud)

	files := []domain.RenderedFile{g.networkUnit(cfg).File()}

	var volumeOrder []string
	volumeSeen := make(map[string]bool)

	for _, name := range set.Names {
		desc := set.Descriptors[name]
		unit := g.containerUnit(cfg, set, name, desc, network, secretNames)
		files = append(files, unit.File())

		for _, vol := range desc.Volumes {
			if volumeSeen[vol.Name] {
				continue
			}
			volumeSeen[vol.Name] = true
			volumeOrder = append(volumeOrder, vol.Name)
		}
	}

	for _, volName := range volumeOrder {
		files = append(files, g.volumeUnit(volName).File())
	}

	g.logger.Debug("rendered unit files",
		"services", len(set.Names),
		"volumes", len(volumeOrder),
		"files", len(files),
	)
	return files, nil
}

// networkUnit emits the single mandatory network unit.
func (g *Generator) networkUnit(cfg *config.UnifiedDeploymentConfig) *Unit {
	name := cfg.Infrastructure.Network.Name
	u := NewUnit(name, domain.FileTypeNetwork)
	u.Add(SectionUnit, "Description", fmt.Sprintf("Pod network for %s deployment", name))
	u.EnsureSection(SectionNetwork)
	if subnet := cfg.Infrastructure.Network.Subnet; subnet != "" {
		u.Add(SectionNetwork, "Subnet", subnet)
	}
	return u
}

// volumeUnit emits one volume unit with an empty [Volume] section.
func (g *Generator) volumeUnit(name string) *Unit {
	u := NewUnit(name, domain.FileTypeVolume)
	u.EnsureSection(SectionVolume)
	return u
}

// containerUnit builds one service's unit in the fixed four-part order:
// metadata, dependency directives, container definition, service policy and
// installation target.
func (g *Generator) containerUnit(
	cfg *config.UnifiedDeploymentConfig,
	set graph.ServiceSet,
	name string,
	desc catalog.ServiceDescriptor,
	network string,
	secretNames []string,
) *Unit {
	u := NewUnit(name, domain.FileTypeContainer)

	// Metadata and dependency directives.
	description := desc.Description
	if description == "" {
		description = name
	}
	u.Add(SectionUnit, "Description", description)
	if desc.Documentation != "" {
		u.Add(SectionUnit, "Documentation", desc.Documentation)
	}
	u.Add(SectionUnit, "After", "network-online.target")
	u.Add(SectionUnit, "After", network+".network.service")
	u.Add(SectionUnit, "Requires", network+".network.service")
	for _, dep := range set.Edges[name] {
		u.Add(SectionUnit, "After", dep+".service")
		u.Add(SectionUnit, "Wants", dep+".service")
	}
	u.Add(SectionUnit, "Wants", "network-online.target")

	// Container definition.
	u.Add(SectionContainer, "Image", desc.Image)
	u.Add(SectionContainer, "AutoUpdate", "registry")
	u.Add(SectionContainer, "ContainerName", g.containerName(cfg, name))
	u.Add(SectionContainer, "Network", network+".network")
	for _, port := range desc.PublishPorts {
		u.Add(SectionContainer, "PublishPort", port)
	}
	for _, env := range g.environment(cfg, name, desc) {
		u.Add(SectionContainer, "Environment", env.Key+"="+env.Value)
	}
	if desc.CloudSecrets {
		for _, secret := range secretNames {
			u.Add(SectionContainer, "Secret", secret)
		}
	}
	for _, vol := range desc.Volumes {
		u.Add(SectionContainer, "Volume", vol.Name+":"+vol.MountPath)
	}
	if hc := desc.HealthCheck; hc != nil {
		u.Add(SectionContainer, "HealthCmd", hc.Cmd)
		if hc.Interval != "" {
			u.Add(SectionContainer, "HealthInterval", hc.Interval)
		}
		if hc.Timeout != "" {
			u.Add(SectionContainer, "HealthTimeout", hc.Timeout)
		}
		if hc.Retries > 0 {
			u.Add(SectionContainer, "HealthRetries", strconv.Itoa(hc.Retries))
		}
		if hc.StartPeriod != "" {
			u.Add(SectionContainer, "HealthStartPeriod", hc.StartPeriod)
		}
	}

	// Restart policy and slice assignment.
	u.Add(SectionService, "Slice", "llm.slice")
	u.Add(SectionService, "Restart", "always")
	u.Add(SectionService, "RestartSec", "10")
	u.Add(SectionService, "TimeoutStartSec", "900")

	// Installation target.
	u.Add(SectionInstall, "WantedBy", "default.target")

	return u
}

func (g *Generator) containerName(cfg *config.UnifiedDeploymentConfig, name string) string {
	if name == chatUIService && cfg.Infrastructure.WebUIName != "" {
		return cfg.Infrastructure.WebUIName
	}
	return name
}

// environment layers a service's env: descriptor entries first, the provider
// settings bag on the chat UI, then per-service user overrides. Later layers
// override by key and append otherwise, preserving order.
func (g *Generator) environment(cfg *config.UnifiedDeploymentConfig, name string, desc catalog.ServiceDescriptor) []catalog.EnvVar {
	env := append([]catalog.EnvVar(nil), desc.Environment...)
	if name == chatUIService {
		for _, s := range cfg.ProviderConfig {
			env = overlayEnv(env, catalog.EnvVar{Key: s.Key, Value: s.Value})
		}
	}
	for _, v := range cfg.Infrastructure.EnvOverrides[name] {
		env = overlayEnv(env, v)
	}
	return env
}

func overlayEnv(env []catalog.EnvVar, v catalog.EnvVar) []catalog.EnvVar {
	for i := range env {
		if env[i].Key == v.Key {
			env[i].Value = v.Value
			return env
		}
	}
	return append(env, v)
}
