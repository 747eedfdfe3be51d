// Package docker manages the container lifecycle for the container runtime
// provider: one servlet-container process per managed container, the
// project webroot bind-mounted in, the configured HTTP port published on
// loopback.
//
// All operations shell out to the docker CLI; LuCLI does not link a daemon
// client. Exit codes are the primary signal — error-message parsing is a
// last resort for the few cases docker reports only as text.
package docker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Container manages a single container lifecycle.
type Container struct {
	// name is the container name (e.g. "lucli-myapp").
	name string

	// image is the image reference including tag.
	image string
}

// NewContainer creates a container handle with the given name and image.
func NewContainer(name string, image string) *Container {
	return &Container{name: name, image: image}
}

// FromName creates a container handle for an existing container by name.
// The returned handle supports lifecycle operations (Exists, IsRunning,
// Start, Stop, Remove) but not Create — use NewContainer for that.
func FromName(name string) *Container {
	return &Container{name: name}
}

// Name returns the container name.
func (c *Container) Name() string {
	return c.name
}

// dockerOut runs one docker command and returns its trimmed combined
// output. The output is returned on failure too, so callers can fold
// docker's message into their error.
func dockerOut(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// inspect evaluates one template expression against the container. The
// boolean reports whether the container exists at all: docker inspect's
// non-zero exit means "no such container", while a failure to even run
// docker (daemon unreachable, binary missing) propagates as the error.
func (c *Container) inspect(ctx context.Context, expr string) (value string, exists bool, err error) {
	out, err := dockerOut(ctx, "inspect", "--format", "{{"+expr+"}}", c.name)
	if err == nil {
		return out, true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", false, nil
	}
	return "", false, fmt.Errorf("inspecting container %s: %s: %w", c.name, out, err)
}

// Exists returns true if the container exists, running or stopped.
func (c *Container) Exists(ctx context.Context) (bool, error) {
	_, exists, err := c.inspect(ctx, ".State.Status")
	return exists, err
}

// IsRunning returns true if the container is currently running. A
// container that does not exist is simply not running.
func (c *Container) IsRunning(ctx context.Context) (bool, error) {
	state, exists, err := c.inspect(ctx, ".State.Running")
	return exists && state == "true", err
}

// PID returns the host PID of the container's init process, or 0 when the
// container is absent or stopped. The registry records this PID the same
// way it records a directly-spawned engine's.
func (c *Container) PID(ctx context.Context) (int, error) {
	state, exists, err := c.inspect(ctx, ".State.Pid")
	if err != nil || !exists {
		return 0, err
	}
	pid, err := strconv.Atoi(state)
	if err != nil {
		return 0, fmt.Errorf("parsing pid for container %s: %w", c.name, err)
	}
	return pid, nil
}

// Create creates the container from the given config without starting it.
// If the container already exists, it is treated as a no-op.
func (c *Container) Create(ctx context.Context, cfg *RunConfig) error {
	if cfg == nil {
		return fmt.Errorf("cannot create container %s: nil config", c.name)
	}
	if c.image == "" {
		return fmt.Errorf("cannot create container %s: no image specified", c.name)
	}

	args := append([]string{"create", "--name", c.name}, cfg.Args()...)
	args = append(args, c.image)

	out, err := dockerOut(ctx, args...)
	if err != nil {
		// Idempotent: if the container already exists, treat as success.
		if exists, existsErr := c.Exists(ctx); existsErr == nil && exists {
			return nil
		}
		return fmt.Errorf("creating container %s: %s: %w", c.name, out, err)
	}
	return nil
}

// Start starts a stopped container. If the container is already running,
// this is a no-op.
func (c *Container) Start(ctx context.Context) error {
	out, err := dockerOut(ctx, "start", c.name)
	if err != nil {
		if running, runErr := c.IsRunning(ctx); runErr == nil && running {
			return nil
		}
		return fmt.Errorf("starting container %s: %s: %w", c.name, out, err)
	}
	return nil
}

// Stop gracefully stops a running container, allowing graceSeconds before
// docker escalates to SIGKILL.
func (c *Container) Stop(ctx context.Context, graceSeconds int) error {
	args := []string{"stop"}
	if graceSeconds > 0 {
		args = append(args, "--time", strconv.Itoa(graceSeconds))
	}
	out, err := dockerOut(ctx, append(args, c.name)...)
	if err != nil {
		return fmt.Errorf("stopping container %s: %s: %w", c.name, out, err)
	}
	return nil
}

// Remove removes the container and its anonymous volumes. If force is true,
// a running container is killed first. A container that does not exist is a
// no-op.
func (c *Container) Remove(ctx context.Context, force bool) error {
	args := []string{"rm", "-v"}
	if force {
		args = append(args, "-f")
	}
	out, err := dockerOut(ctx, append(args, c.name)...)
	switch {
	case err == nil:
		return nil
	case strings.Contains(strings.ToLower(out), "no such container"):
		// Already gone.
		return nil
	default:
		return fmt.Errorf("removing container %s: %s: %w", c.name, out, err)
	}
}

// Logs returns the last tailLines lines of the container's combined output.
func (c *Container) Logs(ctx context.Context, tailLines int) (string, error) {
	out, err := dockerOut(ctx, "logs", "--tail", strconv.Itoa(tailLines), c.name)
	if err != nil {
		return "", fmt.Errorf("reading logs for container %s: %s: %w", c.name, out, err)
	}
	return out, nil
}

// EnsureImage makes image available locally, pulling only when the local
// cache misses.
func EnsureImage(ctx context.Context, image string) error {
	if _, err := dockerOut(ctx, "image", "inspect", image); err == nil {
		return nil
	}
	if out, err := dockerOut(ctx, "pull", image); err != nil {
		return fmt.Errorf("pulling image %s: %s: %w", image, out, err)
	}
	return nil
}

// ListManagedContainers returns names of all containers carrying the
// managed-by=lucli label, running or not.
func ListManagedContainers(ctx context.Context) ([]string, error) {
	out, err := dockerOut(ctx,
		"ps", "-a",
		"--filter", "label=managed-by="+managedByLabel,
		"--format", "{{.Names}}",
	)
	if err != nil {
		return nil, fmt.Errorf("listing managed containers: %s: %w", out, err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}
