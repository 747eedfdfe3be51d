package supervisor

import (
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucli-dev/lucli/internal/config"
	"github.com/lucli-dev/lucli/internal/lucerr"
	"github.com/lucli-dev/lucli/internal/registry"
)

// fakeProvider lets tests control what Start/Stop do without spawning a
// real servlet container.
type fakeProvider struct {
	startPID  int
	startErr  error
	stopped   bool
	startedCt int
}

func (f *fakeProvider) Provision(ctx context.Context, cfg *config.ServerConfig, baseDir string) error {
	return nil
}

func (f *fakeProvider) Start(ctx context.Context, cfg *config.ServerConfig, baseDir string) (int, error) {
	f.startedCt++
	return f.startPID, f.startErr
}

func (f *fakeProvider) Stop(ctx context.Context, cfg *config.ServerConfig, baseDir string, pid int) error {
	f.stopped = true
	return syscall.Kill(pid, syscall.SIGKILL)
}

func testSetup(t *testing.T, provider *fakeProvider) (*Supervisor, *config.ServerConfig) {
	t.Helper()
	reg := registry.New(t.TempDir())
	t.Cleanup(reg.Close)
	cfg := &config.ServerConfig{
		Name:         "myapp",
		Host:         "127.0.0.1",
		Port:         freePort(t),
		ShutdownPort: freePort(t),
		Webroot:      t.TempDir(),
	}
	return &Supervisor{Registry: reg, Provider: provider}, cfg
}

// freePort grabs an ephemeral port that nothing is listening on.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// listenOn opens a listener on port for the test's duration so readiness
// probes succeed.
func listenOn(t *testing.T, port int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
}

// spawnSleeper starts a real child process the supervisor can probe and
// signal.
func spawnSleeper(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sleep", "300")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	go func() { _, _ = cmd.Process.Wait() }()
	return cmd.Process.Pid
}

func TestStartWritesPIDAndRegisters(t *testing.T) {
	provider := &fakeProvider{startPID: spawnSleeper(t)}
	s, cfg := testSetup(t, provider)
	listenOn(t, cfg.Port)

	inst, err := s.Start(context.Background(), cfg, StartOptions{ReadyTimeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, provider.startPID, inst.PID)

	pid, ok := registry.ReadPIDFile(s.Registry.PIDFile(cfg.Name))
	require.True(t, ok)
	assert.Equal(t, provider.startPID, pid)

	listed, err := s.Registry.List()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, registry.StatusRunning, listed[0].Status)
	assert.Equal(t, cfg.Port, listed[0].Port)
}

func TestStartRefusesWhenAlreadyRunning(t *testing.T) {
	provider := &fakeProvider{startPID: spawnSleeper(t)}
	s, cfg := testSetup(t, provider)
	listenOn(t, cfg.Port)

	_, err := s.Start(context.Background(), cfg, StartOptions{ReadyTimeout: 5 * time.Second})
	require.NoError(t, err)

	_, err = s.Start(context.Background(), cfg, StartOptions{ReadyTimeout: time.Second})
	require.Error(t, err)
	assert.Equal(t, lucerr.KindAlreadyRunning, lucerr.KindOf(err))
	assert.Equal(t, 1, provider.startedCt, "second start must not reach the provider")
}

func TestStartReapsStalePIDFile(t *testing.T) {
	provider := &fakeProvider{startPID: spawnSleeper(t)}
	s, cfg := testSetup(t, provider)
	listenOn(t, cfg.Port)

	// A stale registration: recorded PID no longer exists, old mtime.
	require.NoError(t, os.MkdirAll(s.Registry.BaseDir(cfg.Name), 0o755))
	pidFile := s.Registry.PIDFile(cfg.Name)
	require.NoError(t, registry.WritePIDFile(pidFile, 4194303))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(pidFile, old, old))

	_, err := s.Start(context.Background(), cfg, StartOptions{ReadyTimeout: 5 * time.Second})
	require.NoError(t, err, "stale PID files are absent state, not errors")
}

func TestStartTimeoutIncludesLogTail(t *testing.T) {
	pid := spawnSleeper(t)
	provider := &fakeProvider{startPID: pid}
	s, cfg := testSetup(t, provider)
	// Nothing listens on cfg.Port.

	logDir := filepath.Join(s.Registry.BaseDir(cfg.Name), "logs")
	require.NoError(t, os.MkdirAll(logDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "server.out"),
		[]byte("boot\nSEVERE: port bind failed\n"), 0o644))

	_, err := s.Start(context.Background(), cfg, StartOptions{ReadyTimeout: 300 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, lucerr.KindStartTimeout, lucerr.KindOf(err))
	assert.Contains(t, err.Error(), "port bind failed")
}

func TestStopNotRunning(t *testing.T) {
	s, cfg := testSetup(t, &fakeProvider{})
	err := s.Stop(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, lucerr.KindNotRunning, lucerr.KindOf(err))
}

func TestStopEscalatesAndRemovesPIDFile(t *testing.T) {
	pid := spawnSleeper(t)
	provider := &fakeProvider{startPID: pid}
	s, cfg := testSetup(t, provider)
	listenOn(t, cfg.Port)

	_, err := s.Start(context.Background(), cfg, StartOptions{ReadyTimeout: 5 * time.Second})
	require.NoError(t, err)

	// Nothing listens on the shutdown port, so phase 1 is skipped and the
	// provider's termination signal ends the sleeper.
	require.NoError(t, s.Stop(context.Background(), cfg))
	assert.True(t, provider.stopped)

	_, ok := registry.ReadPIDFile(s.Registry.PIDFile(cfg.Name))
	assert.False(t, ok, "PID file removed on confirmed exit")
}

func TestRestartWhenNotRunningStarts(t *testing.T) {
	provider := &fakeProvider{startPID: spawnSleeper(t)}
	s, cfg := testSetup(t, provider)
	listenOn(t, cfg.Port)

	// Not running: restart tolerates NotRunning and proceeds to start.
	inst, err := s.Restart(context.Background(), cfg, StartOptions{ReadyTimeout: 5 * time.Second})
	require.NoError(t, err)
	assert.NotZero(t, inst.PID)
}

func TestTailLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.out")
	require.NoError(t, os.WriteFile(path, []byte("1\n2\n3\n4\n5\n"), 0o644))

	assert.Equal(t, "4\n5", tailLog(path, 2))
	assert.Equal(t, "1\n2\n3\n4\n5", tailLog(path, 100))
	assert.Equal(t, "", tailLog(filepath.Join(dir, "missing"), 5))
}
