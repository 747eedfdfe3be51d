package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/lucli-dev/lucli/internal/atomicfile"
	"github.com/lucli-dev/lucli/internal/config"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

// distributionURLTemplate is where versioned engine distributions are
// fetched from. %s is the engine version.
const distributionURLTemplate = "https://cdn.lucee.org/lucee-express-%s.zip"

// EmbeddedProvider runs the engine from a distribution LuCLI downloads and
// caches under {lucliHome}/distributions/{version}/.
type EmbeddedProvider struct {
	LucliHome string

	// DistributionURL overrides the download location, used by tests.
	DistributionURL string
}

func (p *EmbeddedProvider) distDir(version string) string {
	return filepath.Join(p.LucliHome, "distributions", version)
}

// Provision materializes (or reuses) the distribution for cfg.Version,
// copies its conf/ into the instance base, patches server.xml for the
// resolved ports, and deploys the url-rewrite filter artifact when enabled.
func (p *EmbeddedProvider) Provision(ctx context.Context, cfg *config.ServerConfig, baseDir string) error {
	dist := p.distDir(cfg.Version)
	if err := p.ensureDistribution(ctx, cfg.Version, dist); err != nil {
		return err
	}

	// The distribution's conf/ is authoritative for files the base builder
	// does not template; templated files already in place win.
	if err := copyMissing(filepath.Join(dist, "conf"), filepath.Join(baseDir, "conf")); err != nil {
		return fmt.Errorf("runtime: seed conf from distribution: %w", err)
	}

	serverXMLPath := filepath.Join(baseDir, "conf", "server.xml")
	doc, err := os.ReadFile(serverXMLPath)
	if err != nil {
		return fmt.Errorf("runtime: read server.xml: %w", err)
	}
	patched, err := PatchXML(doc, ServerXMLWrites(cfg.Port, cfg.ShutdownPort, cfg.Name))
	if err != nil {
		return err
	}
	if err := atomicfile.Write(serverXMLPath, patched, 0o644); err != nil {
		return fmt.Errorf("runtime: write patched server.xml: %w", err)
	}

	if cfg.URLRewrite.Enabled {
		if err := p.deployURLRewrite(dist, cfg.Webroot); err != nil {
			return err
		}
	}
	return nil
}

// Start spawns the engine as a detached child: java with the composed JVM
// options, catalina.home pointed at the distribution and catalina.base at
// the instance.
func (p *EmbeddedProvider) Start(ctx context.Context, cfg *config.ServerConfig, baseDir string) (int, error) {
	dist := p.distDir(cfg.Version)
	args := []string{}
	if jvmOpts := ComposeJVMOptions(cfg); jvmOpts != "" {
		args = append(args, strings.Fields(jvmOpts)...)
	}
	args = append(args,
		"-Dcatalina.home="+dist,
		"-Dcatalina.base="+baseDir,
		"-Djava.io.tmpdir="+filepath.Join(baseDir, "temp"),
		"-classpath", filepath.Join(dist, "bin", "bootstrap.jar")+string(os.PathListSeparator)+filepath.Join(dist, "bin", "tomcat-juli.jar"),
		"org.apache.catalina.startup.Bootstrap",
		"start",
	)

	cmd := exec.Command("java", args...)
	cmd.Dir = baseDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	logFile, err := os.OpenFile(filepath.Join(baseDir, "logs", "server.out"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("runtime: open server log: %w", err)
	}
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return 0, lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err, "launch embedded engine")
	}
	pid := cmd.Process.Pid
	// Detach: the child outlives this process; reaping belongs to the OS.
	if err := cmd.Process.Release(); err != nil {
		log.Warn("process_release_failed", slog.Int("pid", pid), slog.String("error", err.Error()))
	}
	return pid, nil
}

// Stop signals the engine process directly. The supervisor already tried
// the shutdown port by the time this runs.
func (p *EmbeddedProvider) Stop(ctx context.Context, cfg *config.ServerConfig, baseDir string, pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// ForegroundCommand composes the run-in-foreground variant of the launch:
// same classpath and options, but Bootstrap's blocking "run" action and no
// session detach, so the supervisor can attach it to the caller's PTY.
func (p *EmbeddedProvider) ForegroundCommand(cfg *config.ServerConfig, baseDir string) (*exec.Cmd, error) {
	dist := p.distDir(cfg.Version)
	args := []string{}
	if jvmOpts := ComposeJVMOptions(cfg); jvmOpts != "" {
		args = append(args, strings.Fields(jvmOpts)...)
	}
	args = append(args,
		"-Dcatalina.home="+dist,
		"-Dcatalina.base="+baseDir,
		"-Djava.io.tmpdir="+filepath.Join(baseDir, "temp"),
		"-classpath", filepath.Join(dist, "bin", "bootstrap.jar")+string(os.PathListSeparator)+filepath.Join(dist, "bin", "tomcat-juli.jar"),
		"org.apache.catalina.startup.Bootstrap",
		"run",
	)
	cmd := exec.Command("java", args...)
	cmd.Dir = baseDir
	return cmd, nil
}

// ensureDistribution downloads and unpacks the versioned distribution
// unless the on-disk cache already has it.
func (p *EmbeddedProvider) ensureDistribution(ctx context.Context, version, dist string) error {
	if _, err := os.Stat(filepath.Join(dist, "bin")); err == nil {
		return nil
	}

	url := p.DistributionURL
	if url == "" {
		url = fmt.Sprintf(distributionURLTemplate, version)
	}
	log.Info("distribution_download", slog.String("version", version), slog.String("url", url))

	archive, err := downloadFile(ctx, url, fmt.Sprintf("lucee %s", version))
	if err != nil {
		return lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err,
			fmt.Sprintf("download engine distribution %s", version)).
			WithRemedy("check the version against 'lucli versions-list'")
	}
	defer os.Remove(archive)

	staging := dist + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("runtime: clear staging: %w", err)
	}
	if err := unzip(archive, staging); err != nil {
		return lucerr.Wrap(lucerr.KindRuntimeMisconfigured, err, "unpack engine distribution")
	}
	// Unpack into staging then rename so a half-unpacked distribution can
	// never be mistaken for a cached one.
	if err := os.Rename(staging, dist); err != nil {
		return fmt.Errorf("runtime: commit distribution: %w", err)
	}
	return nil
}

// deployURLRewrite copies the distribution's url-rewrite filter artifact
// into the project's WEB-INF/lib.
func (p *EmbeddedProvider) deployURLRewrite(dist, webroot string) error {
	src := filepath.Join(dist, "lib", "urlrewritefilter.jar")
	if _, err := os.Stat(src); err != nil {
		return lucerr.Newf(lucerr.KindRuntimeMisconfigured,
			"distribution has no url-rewrite artifact at %s", src)
	}
	dst := filepath.Join(webroot, "WEB-INF", "lib", "urlrewritefilter.jar")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("runtime: mkdir WEB-INF/lib: %w", err)
	}
	return copyFile(src, dst)
}

// downloadFile fetches url into a temp file with a progress bar, returning
// the temp path. The transport waits at most 10 s for the response header;
// reading the body has no timeout of its own (IdleConnTimeout only closes
// idle keep-alive connections), only ctx cancellation.
func downloadFile(ctx context.Context, url, label string) (string, error) {
	client := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 10 * time.Second,
			IdleConnTimeout:       60 * time.Second,
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "lucli-download-*.zip")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	bar := progressbar.DefaultBytes(resp.ContentLength, label)
	if _, err := io.Copy(io.MultiWriter(tmp, bar), resp.Body); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// copyMissing copies every file under src into dst that dst does not
// already have, preserving the relative layout.
func copyMissing(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
