package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lucli-dev/lucli/internal/config"
	"github.com/lucli-dev/lucli/internal/docker"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

// defaultImage is the engine image used when the configuration names none.
const defaultImage = "lucee/lucee"

// containerStopGraceSeconds is how long docker waits before escalating a
// stop to SIGKILL. Matches the supervisor's graceful-shutdown budget.
const containerStopGraceSeconds = 30

// ContainerProvider runs the engine inside a container: the configured
// image/tag, the webroot bind-mounted in, the HTTP port published on
// loopback.
type ContainerProvider struct{}

func (p *ContainerProvider) image(cfg *config.ServerConfig) string {
	image := cfg.Runtime.Image
	if image == "" {
		image = defaultImage
	}
	tag := cfg.Runtime.Tag
	if tag == "" {
		tag = cfg.Version
	}
	if tag == "" {
		tag = "latest"
	}
	return fmt.Sprintf("%s:%s", image, tag)
}

func (p *ContainerProvider) handle(cfg *config.ServerConfig) *docker.Container {
	name := docker.ContainerNameFor(cfg.Name, cfg.Runtime.ContainerName)
	return docker.NewContainer(name, p.image(cfg))
}

// Provision verifies docker is usable, resolves the image, and creates the
// container without starting it.
func (p *ContainerProvider) Provision(ctx context.Context, cfg *config.ServerConfig, baseDir string) error {
	if err := docker.CheckAvailability(ctx); err != nil {
		return lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err, "container runtime unavailable")
	}

	image := p.image(cfg)
	if err := docker.EnsureImage(ctx, image); err != nil {
		return lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err,
			fmt.Sprintf("image %s unavailable", image)).
			WithRemedy("check runtime.image and runtime.tag in lucee.json")
	}

	opts := []docker.RunConfigOption{}
	if cfg.JVM.MaxMemory != "" {
		opts = append(opts, docker.WithMemoryLimit(cfg.JVM.MaxMemory))
	}
	if jvmOpts := ComposeJVMOptions(cfg); jvmOpts != "" {
		opts = append(opts, docker.WithEnv("LUCEE_JAVA_OPTS", jvmOpts))
	}
	if cfg.Admin.Password != "" {
		opts = append(opts, docker.WithEnv("LUCEE_ADMIN_PASSWORD", cfg.Admin.Password))
	}

	runCfg := docker.NewRunConfig(cfg.Port, cfg.Webroot, opts...)
	container := p.handle(cfg)
	if err := container.Create(ctx, runCfg); err != nil {
		return lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err, "create engine container")
	}
	log.Info("container_provisioned",
		slog.String("container", container.Name()), slog.String("image", image))
	return nil
}

// Start starts the container and returns its init process's host PID so
// the registry can track liveness uniformly across providers.
func (p *ContainerProvider) Start(ctx context.Context, cfg *config.ServerConfig, baseDir string) (int, error) {
	container := p.handle(cfg)
	if err := container.Start(ctx); err != nil {
		return 0, lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err, "start engine container")
	}
	pid, err := container.PID(ctx)
	if err != nil {
		return 0, lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err, "resolve container pid")
	}
	return pid, nil
}

// Stop stops the container with the standard grace interval.
func (p *ContainerProvider) Stop(ctx context.Context, cfg *config.ServerConfig, baseDir string, pid int) error {
	return p.handle(cfg).Stop(ctx, containerStopGraceSeconds)
}
