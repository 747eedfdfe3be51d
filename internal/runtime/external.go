package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/lucli-dev/lucli/internal/config"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

// CatalinaHomeEnvVar is the fallback consulted when the configuration does
// not name a vendor installation.
const CatalinaHomeEnvVar = "CATALINA_HOME"

// ExternalProvider runs the engine inside a vendor-supplied servlet
// container installation, using CATALINA_HOME/CATALINA_BASE separation: the
// vendor home stays pristine and all instance state lives under baseDir.
type ExternalProvider struct{}

// Provision validates the vendor installation, cross-checks its version
// against the engine's compatibility matrix, and copies the engine JAR
// into the instance's lib/ when the vendor home's lib/ carries one.
func (p *ExternalProvider) Provision(ctx context.Context, cfg *config.ServerConfig, baseDir string) error {
	home, err := resolveCatalinaHome(cfg)
	if err != nil {
		return err
	}

	containerVersion, err := detectContainerVersion(ctx, home)
	if err != nil {
		return err
	}
	if err := CheckCompatibility(cfg.Version, containerVersion); err != nil {
		return err
	}

	engineJar := filepath.Join(home, "lib", engineJarName(cfg.Version))
	if _, err := os.Stat(engineJar); err != nil {
		// The vendor home may not carry the engine at all; that's the
		// normal case, and then nothing is deployed: the engine is left to
		// the operator's shared lib.
		engineJar = ""
	}
	if engineJar != "" {
		if err := copyFile(engineJar, filepath.Join(baseDir, "lib", filepath.Base(engineJar))); err != nil {
			return fmt.Errorf("runtime: deploy engine jar: %w", err)
		}
	}
	return nil
}

// Start launches bin/catalina.sh with CATALINA_BASE pointed at the
// instance, returning the child PID recorded by the container's own pid
// file convention.
func (p *ExternalProvider) Start(ctx context.Context, cfg *config.ServerConfig, baseDir string) (int, error) {
	home, err := resolveCatalinaHome(cfg)
	if err != nil {
		return 0, err
	}

	pidFile := filepath.Join(baseDir, "catalina.pid")
	cmd := exec.Command(filepath.Join(home, "bin", "catalina.sh"), "start")
	cmd.Dir = baseDir
	cmd.Env = append(os.Environ(),
		"CATALINA_HOME="+home,
		"CATALINA_BASE="+baseDir,
		"CATALINA_PID="+pidFile,
		"CATALINA_OPTS="+ComposeJVMOptions(cfg),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err,
			fmt.Sprintf("catalina.sh start: %s", strings.TrimSpace(string(out))))
	}

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err, "read catalina.pid")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err, "parse catalina.pid")
	}
	return pid, nil
}

// Stop signals the container process; the supervisor has already exhausted
// the shutdown-port path.
func (p *ExternalProvider) Stop(ctx context.Context, cfg *config.ServerConfig, baseDir string, pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// ForegroundCommand composes catalina.sh run for a PTY-attached session.
func (p *ExternalProvider) ForegroundCommand(cfg *config.ServerConfig, baseDir string) (*exec.Cmd, error) {
	home, err := resolveCatalinaHome(cfg)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(filepath.Join(home, "bin", "catalina.sh"), "run")
	cmd.Dir = baseDir
	cmd.Env = append(os.Environ(),
		"CATALINA_HOME="+home,
		"CATALINA_BASE="+baseDir,
		"CATALINA_OPTS="+ComposeJVMOptions(cfg),
	)
	return cmd, nil
}

// resolveCatalinaHome resolves the vendor installation: configuration
// first, then CATALINA_HOME, then error. The path must contain bin/ and
// lib/ to count as an installation.
func resolveCatalinaHome(cfg *config.ServerConfig) (string, error) {
	home := cfg.Runtime.CatalinaHome
	if home == "" {
		home = os.Getenv(CatalinaHomeEnvVar)
	}
	if home == "" {
		return "", lucerr.New(lucerr.KindRuntimeMisconfigured,
			"external runtime needs a container installation").
			WithRemedy("set runtime.catalinaHome in lucee.json or export CATALINA_HOME")
	}
	for _, sub := range []string{"bin", "lib"} {
		info, err := os.Stat(filepath.Join(home, sub))
		if err != nil || !info.IsDir() {
			return "", lucerr.Newf(lucerr.KindRuntimeMisconfigured,
				"%s is not a container installation (missing %s/)", home, sub)
		}
	}
	return home, nil
}

var serverNumberPattern = regexp.MustCompile(`Server number:\s+(\d+)\.(\d+)`)

// detectContainerVersion runs bin/catalina.sh --version and extracts the
// major version from its "Server number" line.
func detectContainerVersion(ctx context.Context, home string) (int, error) {
	out, err := exec.CommandContext(ctx, filepath.Join(home, "bin", "catalina.sh"), "version").CombinedOutput()
	if err != nil {
		return 0, lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err,
			fmt.Sprintf("detect container version: %s", strings.TrimSpace(string(out))))
	}
	return ParseContainerVersion(string(out))
}

// ParseContainerVersion extracts the container's major version from
// catalina.sh version output.
func ParseContainerVersion(out string) (int, error) {
	m := serverNumberPattern.FindStringSubmatch(out)
	if m == nil {
		return 0, lucerr.New(lucerr.KindRuntimeMisconfigured,
			"could not find a Server number line in catalina.sh version output")
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err, "parse container major version")
	}
	return major, nil
}

// CheckCompatibility cross-checks the engine major version against the
// container major version. Engine 5.x runs on the javax servlet API
// (container 9 and below); engine 6.x still targets javax and breaks on
// container 10+'s jakarta namespace.
func CheckCompatibility(engineVersion string, containerMajor int) error {
	engineMajor := 6
	if i := strings.IndexByte(engineVersion, '.'); i > 0 {
		if v, err := strconv.Atoi(engineVersion[:i]); err == nil {
			engineMajor = v
		}
	}

	switch {
	case engineMajor <= 6 && containerMajor >= 10:
		return lucerr.Newf(lucerr.KindRuntimeMisconfigured,
			"engine %s uses the javax servlet API and cannot run on container %d (jakarta namespace)",
			engineVersion, containerMajor).
			WithRemedy("install a 9.x container or switch runtime.type to embedded")
	case containerMajor < 9:
		return lucerr.Newf(lucerr.KindRuntimeMisconfigured,
			"container %d is older than the minimum supported version 9", containerMajor)
	}
	return nil
}

func engineJarName(version string) string {
	return fmt.Sprintf("lucee-%s.jar", version)
}
