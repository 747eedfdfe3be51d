//go:build !windows

package supervisor

import (
	"context"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/lucli-dev/lucli/internal/config"
	"github.com/lucli-dev/lucli/internal/lucerr"
	"github.com/lucli-dev/lucli/internal/registry"
)

// ForegroundCommander is implemented by providers that can compose a
// run-in-foreground command (embedded and external; the container provider
// streams logs instead).
type ForegroundCommander interface {
	ForegroundCommand(cfg *config.ServerConfig, baseDir string) (*exec.Cmd, error)
}

// RunForeground runs the instance attached to the caller's terminal: the
// child gets a PTY, the terminal goes raw, window resizes are forwarded,
// and an interrupt triggers the standard stop sequence before returning.
func (s *Supervisor) RunForeground(ctx context.Context, cfg *config.ServerConfig) error {
	fc, ok := s.Provider.(ForegroundCommander)
	if !ok {
		return lucerr.Newf(lucerr.KindRuntimeMisconfigured,
			"runtime %q cannot run in the foreground", cfg.Runtime.Type)
	}

	lock, err := s.acquire(cfg.Name)
	if err != nil {
		return err
	}
	defer lock.Release()

	pidFile := s.Registry.PIDFile(cfg.Name)
	if pid, ok := registry.ReadPIDFile(pidFile); ok && registry.IsLive(pid, cfg.Port, pidFile) {
		return lucerr.Newf(lucerr.KindAlreadyRunning,
			"instance %q is already running (pid %d)", cfg.Name, pid)
	}

	cmd, err := fc.ForegroundCommand(cfg, s.Registry.BaseDir(cfg.Name))
	if err != nil {
		return err
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err, "start pty")
	}
	defer ptmx.Close()

	if err := registry.WritePIDFile(pidFile, cmd.Process.Pid); err != nil {
		return lucerr.Wrap(lucerr.KindInternal, err, "write PID file")
	}
	defer func() { _ = registry.RemovePIDFile(pidFile) }()

	if err := s.Registry.Save(&registry.Instance{
		Name:        cfg.Name,
		BaseDir:     s.Registry.BaseDir(cfg.Name),
		Webroot:     cfg.Webroot,
		PID:         cmd.Process.Pid,
		Port:        cfg.Port,
		Environment: cfg.Environment,
		Runtime:     cfg.Runtime.Type,
	}); err != nil {
		return err
	}

	// Raw mode only when stdin is actually a terminal; a piped run (CI)
	// still works without it.
	if term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err == nil {
			defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()
		}
	}

	// Forward window resizes to the child PTY.
	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	winchDone := make(chan struct{})
	defer func() {
		signal.Stop(sigwinch)
		close(winchDone)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-winchDone:
				return
			case _, ok := <-sigwinch:
				if !ok {
					return
				}
				if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
					_ = pty.Setsize(ptmx, ws)
				}
			}
		}
	}()
	sigwinch <- syscall.SIGWINCH

	// An interrupt runs the standard stop sequence inline (shutdown
	// command, provider termination, force-kill); the copy loops drain and
	// cmd.Wait observes the exit. Stop itself is not called: the
	// per-instance lock is already held here, so it would deadlock against
	// ourselves.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)
	go func() {
		select {
		case <-interrupt:
			pid := cmd.Process.Pid
			if sendShutdownCommand(cfg.Host, cfg.ShutdownPort) && waitExit(pid, gracefulStopTimeout) {
				return
			}
			_ = s.Provider.Stop(ctx, cfg, s.Registry.BaseDir(cfg.Name), pid)
			if !waitExit(pid, killEscalation) {
				_ = cmd.Process.Kill()
			}
		case <-winchDone:
		}
	}()

	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
	_, _ = io.Copy(os.Stdout, ptmx)

	err = cmd.Wait()
	wg.Wait()
	if err != nil {
		return lucerr.Wrap(lucerr.KindStartTimeout, err, "engine exited with error")
	}
	return nil
}
