package docker

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

// Sentinel errors for docker availability checks.
var (
	// ErrDockerNotAvailable indicates the docker CLI is not installed.
	ErrDockerNotAvailable = errors.New("docker CLI is not installed or not in PATH")

	// ErrDaemonNotRunning indicates the docker daemon is not running.
	ErrDaemonNotRunning = errors.New("docker daemon is not running; start Docker and try again")
)

// detectTimeout bounds the daemon ping so callers without a deadline
// cannot block on a wedged docker socket.
const detectTimeout = 5 * time.Second

// CheckAvailability verifies the docker CLI is installed and its daemon is
// responsive, distinguishing the two failure modes so the provider's error
// text can say which one to fix.
func CheckAvailability(ctx context.Context) error {
	if _, err := exec.LookPath("docker"); err != nil {
		return ErrDockerNotAvailable
	}
	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()
	if out, err := dockerOut(ctx, "info", "--format", "{{.ServerVersion}}"); err != nil || out == "" {
		return ErrDaemonNotRunning
	}
	return nil
}
