package docker

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

const (
	// containerNamePrefix is the default prefix for managed containers.
	containerNamePrefix = "lucli-"

	// managedByLabel tags every container this tool creates so prune and
	// list can find them without trusting the name prefix.
	managedByLabel = "lucli"

	// containerWebroot is where the project webroot is mounted inside the
	// container. Matches the official engine images' default webapp root.
	containerWebroot = "/var/www"

	// containerHTTPPort is the engine's in-container HTTP port.
	containerHTTPPort = 8888
)

// ContainerNameFor returns the container name for an instance: the
// configured override when present, otherwise lucli-{name} with characters
// docker rejects stripped out.
func ContainerNameFor(instanceName, override string) string {
	if override != "" {
		return override
	}
	return containerNamePrefix + sanitizeContainerName(instanceName)
}

// sanitizeContainerName strips characters not allowed in container names
// ([a-zA-Z0-9_.-]) and trims the leading/trailing hyphens and dots docker
// rejects.
func sanitizeContainerName(name string) string {
	const maxLen = 40
	var b strings.Builder
	for _, c := range name {
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '.' || c == '-':
			b.WriteRune(c)
		case c == ' ':
			b.WriteByte('-')
		}
	}
	result := strings.Trim(b.String(), "-.")
	if len(result) > maxLen {
		result = strings.TrimRight(result[:maxLen], "-.")
	}
	return result
}

// RunConfig describes how the engine container is created: the published
// HTTP port, the webroot mount, and the engine's environment.
type RunConfig struct {
	hostPort    int
	webroot     string
	environment map[string]string
	memoryLimit string
	extraMounts []Mount
}

// Mount is one host-to-container bind mount.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// RunConfigOption customizes a RunConfig.
type RunConfigOption func(*RunConfig)

// NewRunConfig builds the container configuration for one instance:
// hostPort is published on loopback against the engine's in-container HTTP
// port, and webroot is bind-mounted at the engine's webapp root.
func NewRunConfig(hostPort int, webroot string, opts ...RunConfigOption) *RunConfig {
	cfg := &RunConfig{
		hostPort:    hostPort,
		webroot:     webroot,
		environment: make(map[string]string),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithEnv sets one environment variable inside the container.
func WithEnv(key, value string) RunConfigOption {
	return func(cfg *RunConfig) {
		cfg.environment[key] = value
	}
}

// WithMemoryLimit caps the container's memory (docker --memory syntax).
func WithMemoryLimit(limit string) RunConfigOption {
	return func(cfg *RunConfig) {
		cfg.memoryLimit = limit
	}
}

// WithMount adds an extra bind mount beyond the webroot.
func WithMount(hostPath, containerPath string, readOnly bool) RunConfigOption {
	return func(cfg *RunConfig) {
		cfg.extraMounts = append(cfg.extraMounts, Mount{
			HostPath:      hostPath,
			ContainerPath: containerPath,
			ReadOnly:      readOnly,
		})
	}
}

// Args renders the docker create arguments between "create --name X" and
// the image reference. Environment keys are sorted so the generated command
// line is deterministic.
func (cfg *RunConfig) Args() []string {
	args := []string{
		"--label", "managed-by=" + managedByLabel,
		// Loopback-only publish: the daemon and CLI are local-control
		// tools; exposing the engine beyond the host is the operator's
		// explicit decision, not a default.
		"-p", fmt.Sprintf("127.0.0.1:%d:%d", cfg.hostPort, containerHTTPPort),
	}

	if cfg.webroot != "" {
		args = append(args, "-v", fmt.Sprintf("%s:%s", cfg.webroot, containerWebroot))
	}
	for _, m := range cfg.extraMounts {
		mount := fmt.Sprintf("%s:%s", m.HostPath, m.ContainerPath)
		if m.ReadOnly {
			mount += ":ro"
		}
		args = append(args, "-v", mount)
	}

	for _, k := range slices.Sorted(maps.Keys(cfg.environment)) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, cfg.environment[k]))
	}

	if cfg.memoryLimit != "" {
		args = append(args, "--memory", cfg.memoryLimit)
	}

	return args
}
