// Package supervisor owns the lifecycle of one servlet-container process:
// launch through a runtime provider, PID tracking, readiness probing,
// two-phase stop, and restart. All lifecycle operations for one instance
// name are serialized by the per-instance file lock.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lucli-dev/lucli/internal/config"
	"github.com/lucli-dev/lucli/internal/filelock"
	"github.com/lucli-dev/lucli/internal/logging"
	"github.com/lucli-dev/lucli/internal/lucerr"
	"github.com/lucli-dev/lucli/internal/registry"
	"github.com/lucli-dev/lucli/internal/runtime"
)

var log = logging.ForComponent(logging.CompSupervisor)

// Timeouts per the concurrency model: a bounded exponential readiness poll,
// a graceful-shutdown grace interval, and a force-kill escalation window.
const (
	DefaultReadyTimeout  = 60 * time.Second
	probeInitialInterval = 50 * time.Millisecond
	probeMaxInterval     = 2 * time.Second

	gracefulStopTimeout = 30 * time.Second
	killEscalation      = 10 * time.Second

	logTailLines = 30
)

// Supervisor drives one instance's lifecycle against a provider and
// records the outcome in the registry.
type Supervisor struct {
	Registry *registry.Registry
	Provider runtime.Provider
}

// StartOptions parameterizes Start.
type StartOptions struct {
	// ReadyTimeout bounds the readiness probe; zero means the default.
	ReadyTimeout time.Duration
}

// Start launches cfg's instance: refuses when a live process already holds
// the name, spawns through the provider, writes the PID file atomically,
// registers the instance, and polls the HTTP port until ready or timeout.
func (s *Supervisor) Start(ctx context.Context, cfg *config.ServerConfig, opts StartOptions) (*registry.Instance, error) {
	baseDir := s.Registry.BaseDir(cfg.Name)

	lock, err := s.acquire(cfg.Name)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	// Liveness is decided by probing the OS, never by trusting the PID
	// file's existence.
	if pid, ok := registry.ReadPIDFile(s.Registry.PIDFile(cfg.Name)); ok {
		if registry.IsLive(pid, cfg.Port, s.Registry.PIDFile(cfg.Name)) {
			return nil, lucerr.Newf(lucerr.KindAlreadyRunning,
				"instance %q is already running (pid %d)", cfg.Name, pid).
				WithRemedy("use 'lucli server restart' or stop it first")
		}
		// Stale registration: treat as absent state.
		_ = registry.RemovePIDFile(s.Registry.PIDFile(cfg.Name))
	}

	pid, err := s.Provider.Start(ctx, cfg, baseDir)
	if err != nil {
		return nil, err
	}
	if err := registry.WritePIDFile(s.Registry.PIDFile(cfg.Name), pid); err != nil {
		return nil, lucerr.Wrap(lucerr.KindInternal, err, "write PID file")
	}

	inst := &registry.Instance{
		Name:        cfg.Name,
		BaseDir:     baseDir,
		Webroot:     cfg.Webroot,
		PID:         pid,
		Port:        cfg.Port,
		Environment: cfg.Environment,
		Runtime:     cfg.Runtime.Type,
	}
	if err := s.Registry.Save(inst); err != nil {
		return nil, err
	}

	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	if err := s.waitReady(ctx, cfg, pid, timeout); err != nil {
		tail := tailLog(filepath.Join(baseDir, "logs", "server.out"), logTailLines)
		if tail != "" {
			log.Error("start_failed_log_tail", slog.String("name", cfg.Name), slog.String("tail", tail))
			return nil, lucerr.Wrap(lucerr.KindStartTimeout, err,
				fmt.Sprintf("instance %q did not become ready; last log lines:\n%s", cfg.Name, tail))
		}
		return nil, err
	}

	log.Info("instance_started", slog.String("name", cfg.Name), slog.Int("pid", pid), slog.Int("port", cfg.Port))
	inst.Status = registry.StatusRunning
	return inst, nil
}

// Stop terminates cfg's instance in two phases: the engine's shutdown
// command on the shutdown port, then an OS termination signal, then a
// force-kill. The PID file is removed only on confirmed exit.
func (s *Supervisor) Stop(ctx context.Context, cfg *config.ServerConfig) error {
	lock, err := s.acquire(cfg.Name)
	if err != nil {
		return err
	}
	defer lock.Release()

	pidFile := s.Registry.PIDFile(cfg.Name)
	pid, ok := registry.ReadPIDFile(pidFile)
	if !ok || !registry.IsPIDAlive(pid) {
		_ = registry.RemovePIDFile(pidFile)
		return lucerr.Newf(lucerr.KindNotRunning, "instance %q is not running", cfg.Name)
	}

	// Phase 1: the engine's own shutdown protocol.
	if sendShutdownCommand(cfg.Host, cfg.ShutdownPort) {
		if waitExit(pid, gracefulStopTimeout) {
			return s.confirmStopped(cfg, pid, pidFile)
		}
		log.Warn("graceful_shutdown_timeout", slog.String("name", cfg.Name), slog.Int("pid", pid))
	}

	// Phase 2: OS termination signal, provider-specifically (the
	// container provider stops the container instead).
	if err := s.Provider.Stop(ctx, cfg, s.Registry.BaseDir(cfg.Name), pid); err != nil {
		log.Warn("terminate_failed", slog.String("name", cfg.Name), slog.String("error", err.Error()))
	}
	if waitExit(pid, killEscalation) {
		return s.confirmStopped(cfg, pid, pidFile)
	}

	// Phase 3: force-kill.
	_ = syscall.Kill(pid, syscall.SIGKILL)
	if waitExit(pid, killEscalation) {
		return s.confirmStopped(cfg, pid, pidFile)
	}
	return lucerr.Newf(lucerr.KindStartTimeout,
		"instance %q did not exit after force-kill (pid %d)", cfg.Name, pid)
}

// Restart stops the instance if running, then starts it. A failed stop
// does not proceed to start.
func (s *Supervisor) Restart(ctx context.Context, cfg *config.ServerConfig, opts StartOptions) (*registry.Instance, error) {
	err := s.Stop(ctx, cfg)
	if err != nil && lucerr.KindOf(err) != lucerr.KindNotRunning {
		return nil, err
	}
	return s.Start(ctx, cfg, opts)
}

func (s *Supervisor) confirmStopped(cfg *config.ServerConfig, pid int, pidFile string) error {
	if err := registry.RemovePIDFile(pidFile); err != nil {
		return lucerr.Wrap(lucerr.KindInternal, err, "remove PID file")
	}
	if inst, err := s.Registry.Get(cfg.Name); err == nil {
		inst.PID = 0
		_ = s.Registry.Save(inst)
	}
	log.Info("instance_stopped", slog.String("name", cfg.Name), slog.Int("pid", pid))
	return nil
}

func (s *Supervisor) acquire(name string) (*filelock.Lock, error) {
	if err := os.MkdirAll(s.Registry.BaseDir(name), 0o755); err != nil {
		return nil, lucerr.Wrap(lucerr.KindInternal, err, "create base directory")
	}
	lock, err := filelock.TryAcquire(s.Registry.LockFile(name))
	if err != nil {
		return nil, lucerr.Wrap(lucerr.KindLockConflict, err,
			fmt.Sprintf("another LuCLI process is operating on instance %q", name))
	}
	return lock, nil
}

// waitReady polls the HTTP port with exponential backoff until a TCP
// connection completes, the child dies, or the budget runs out.
func (s *Supervisor) waitReady(ctx context.Context, cfg *config.ServerConfig, pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := probeInitialInterval
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if registry.ProbePort(cfg.Host, cfg.Port) {
			return nil
		}
		if !registry.IsPIDAlive(pid) {
			return lucerr.Newf(lucerr.KindStartTimeout,
				"instance %q exited before becoming ready (pid %d)", cfg.Name, pid)
		}
		time.Sleep(interval)
		interval *= 2
		if interval > probeMaxInterval {
			interval = probeMaxInterval
		}
	}
	return lucerr.Newf(lucerr.KindStartTimeout,
		"instance %q did not accept connections on port %d within %s", cfg.Name, cfg.Port, timeout)
}

// sendShutdownCommand writes the container's shutdown token to the
// shutdown port. Returns false when nothing is listening there.
func sendShutdownCommand(host string, port int) bool {
	if port <= 0 {
		return false
	}
	if host == "" {
		host = "127.0.0.1"
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 2*time.Second)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Write([]byte("SHUTDOWN"))
	return err == nil
}

// waitExit polls until the process disappears from the OS or the window
// closes.
func waitExit(pid int, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if !registry.IsPIDAlive(pid) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return !registry.IsPIDAlive(pid)
}

// tailLog returns the last n lines of the file at path, best-effort.
func tailLog(path string, n int) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
