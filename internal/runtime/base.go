package runtime

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/lucli-dev/lucli/internal/atomicfile"
	"github.com/lucli-dev/lucli/internal/config"
	"github.com/lucli-dev/lucli/internal/lucerr"
	"github.com/lucli-dev/lucli/internal/template"
)

//go:embed templates/*
var templateFS embed.FS

// EnvironmentMarker is the file under baseDir recording which environment
// layer the instance was provisioned with.
const EnvironmentMarker = ".environment"

// Mapping exposes one materialized dependency tree at a virtual path prefix
// inside the engine. Produced by the dependency installer, injected into
// the engine configuration by the builder.
type Mapping struct {
	Prefix string `json:"virtual"`
	Path   string `json:"physical"`
}

// BuildOptions parameterizes BuildBase.
type BuildOptions struct {
	// Force wipes an existing base and rebuilds from scratch. Without it,
	// regeneration is skipped when the base already exists.
	Force bool

	// DryRun renders everything but writes nothing.
	DryRun bool

	// Mappings are injected into the engine configuration file so each
	// dependency's install path is reachable at its mapping prefix.
	Mappings []Mapping
}

// BuildResult reports what the builder rendered. Rendered holds every
// generated file keyed by its path relative to baseDir — in dry-run mode
// this is the only output; in a real run it mirrors what was written.
type BuildResult struct {
	Rendered map[string][]byte
	Skipped  bool
	Warnings []string
}

// baseSubdirs is the common layout under {lucliHome}/servers/{name}/.
var baseSubdirs = []string{
	"conf",
	filepath.Join("conf", "Catalina", "localhost"),
	"lib",
	"logs",
	"temp",
	"work",
	"webapps",
	"engine-server",
	"engine-web",
}

// BuildBase constructs the per-instance isolated base directory: the
// directory skeleton, the rendered conf/ files, the setenv scripts (only
// when JVM options are non-empty), and the engine configuration with
// dependency mappings.
func BuildBase(cfg *config.ServerConfig, baseDir string, opts BuildOptions) (*BuildResult, error) {
	result := &BuildResult{Rendered: map[string][]byte{}}

	if !opts.Force && !opts.DryRun {
		if _, err := os.Stat(filepath.Join(baseDir, "conf", "server.xml")); err == nil {
			log.Debug("base_exists_skipping", slog.String("base", baseDir))
			result.Skipped = true
			// The environment marker still tracks the layer actually
			// applied on this run.
			if err := writeEnvironmentMarker(cfg, baseDir); err != nil {
				return nil, err
			}
			return result, nil
		}
	}

	if opts.Force && !opts.DryRun {
		if err := os.RemoveAll(baseDir); err != nil {
			return nil, fmt.Errorf("runtime: wipe base %s: %w", baseDir, err)
		}
	}

	if !opts.DryRun {
		for _, sub := range baseSubdirs {
			if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
				return nil, fmt.Errorf("runtime: mkdir %s: %w", sub, err)
			}
		}
	}

	vars := templateVars(cfg, baseDir)
	conditions := templateConditions(cfg)

	for _, name := range []string{"server.xml", "web.xml", "logging.properties", "catalina.properties", "context.xml", "tomcat-users.xml"} {
		rel := filepath.Join("conf", name)
		if err := renderInto(result, name, rel, vars, conditions); err != nil {
			return nil, err
		}
	}

	if jvmOpts := ComposeJVMOptions(cfg); jvmOpts != "" {
		setenvVars := map[string]string{"JVM_OPTS": jvmOpts}
		for _, name := range []string{"setenv.sh", "setenv.bat"} {
			if err := renderInto(result, name, filepath.Join("bin", name), setenvVars, nil); err != nil {
				return nil, err
			}
		}
	}

	engineCfg, err := renderEngineConfig(cfg, opts.Mappings)
	if err != nil {
		return nil, err
	}
	result.Rendered[filepath.Join("engine-server", "lucee-server.json")] = engineCfg

	if cfg.Environment != "" {
		result.Rendered[EnvironmentMarker] = []byte(cfg.Environment + "\n")
	}

	if opts.DryRun {
		return result, nil
	}

	for rel, content := range result.Rendered {
		perm := os.FileMode(0o644)
		if strings.HasPrefix(rel, "bin"+string(filepath.Separator)) {
			perm = 0o755
		}
		if err := atomicfile.Write(filepath.Join(baseDir, rel), content, perm); err != nil {
			return nil, fmt.Errorf("runtime: write %s: %w", rel, err)
		}
	}
	return result, nil
}

func writeEnvironmentMarker(cfg *config.ServerConfig, baseDir string) error {
	if cfg.Environment == "" {
		return nil
	}
	return atomicfile.Write(filepath.Join(baseDir, EnvironmentMarker), []byte(cfg.Environment+"\n"), 0o644)
}

func renderInto(result *BuildResult, templateName, rel string, vars map[string]string, conditions map[string]bool) error {
	raw, err := templateFS.ReadFile("templates/" + templateName)
	if err != nil {
		return fmt.Errorf("runtime: embedded template %s: %w", templateName, err)
	}
	out, warnings, err := template.Render(string(raw), vars, conditions)
	if err != nil {
		return lucerr.Wrap(lucerr.KindOf(err), err, fmt.Sprintf("render %s", templateName))
	}
	for _, w := range warnings {
		// ${catalina.base}-style tokens belong to the container, not to
		// us; they pass through unresolved and are only worth a debug line.
		log.Debug("template_token_passthrough", slog.String("template", templateName), slog.String("warning", w))
	}
	result.Rendered[rel] = []byte(out)
	return nil
}

func templateVars(cfg *config.ServerConfig, baseDir string) map[string]string {
	httpsPort := cfg.HTTPS.Port
	if httpsPort == 0 {
		httpsPort = 8443
	}
	return map[string]string{
		"SERVER_NAME":       cfg.Name,
		"HOST":              cfg.Host,
		"HTTP_PORT":         strconv.Itoa(cfg.Port),
		"SHUTDOWN_PORT":     strconv.Itoa(cfg.ShutdownPort),
		"HTTPS_PORT":        strconv.Itoa(httpsPort),
		"AJP_PORT":          strconv.Itoa(cfg.AJP.Port),
		"JVM_ROUTE":         cfg.Name,
		"WEBROOT":           cfg.Webroot,
		"ROUTER_FILE":       cfg.URLRewrite.RouterFile,
		"ADMIN_PASSWORD":    cfg.Admin.Password,
		"KEYSTORE_FILE":     cfg.HTTPS.Keystore,
		"LOG_DIR":           filepath.Join(baseDir, "logs"),
		"ENGINE_SERVER_DIR": filepath.Join(baseDir, "engine-server"),
		"ENGINE_WEB_DIR":    filepath.Join(baseDir, "engine-web"),
	}
}

func templateConditions(cfg *config.ServerConfig) map[string]bool {
	return map[string]bool{
		"URLREWRITE_ENABLED": cfg.URLRewrite.Enabled,
		"ADMIN_ENABLED":      cfg.Admin.Enabled,
		"HTTPS_ENABLED":      cfg.HTTPS.Enabled,
		"AJP_ENABLED":        cfg.AJP.Enabled,
		"MONITORING_ENABLED": cfg.Monitoring.Enabled,
	}
}

// renderEngineConfig merges the opaque engine configuration sub-tree with
// the dependency mappings into the engine's own configuration file.
func renderEngineConfig(cfg *config.ServerConfig, mappings []Mapping) ([]byte, error) {
	engine := map[string]any{}
	for k, v := range cfg.Configuration {
		engine[k] = v
	}
	if len(mappings) > 0 {
		sorted := make([]Mapping, len(mappings))
		copy(sorted, mappings)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Prefix < sorted[j].Prefix })
		engine["mappings"] = sorted
	}
	raw, err := json.MarshalIndent(engine, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("runtime: marshal engine config: %w", err)
	}
	return append(raw, '\n'), nil
}

// ComposeJVMOptions renders the instance's JVM arguments: memory bounds,
// JMX monitoring, configured agents, and any additional args, in that
// order.
func ComposeJVMOptions(cfg *config.ServerConfig) string {
	var opts []string
	if cfg.JVM.MaxMemory != "" {
		opts = append(opts, "-Xmx"+cfg.JVM.MaxMemory)
	}
	if cfg.JVM.MinMemory != "" {
		opts = append(opts, "-Xms"+cfg.JVM.MinMemory)
	}
	if cfg.Monitoring.Enabled && cfg.Monitoring.JMX.Port > 0 {
		opts = append(opts,
			"-Dcom.sun.management.jmxremote",
			fmt.Sprintf("-Dcom.sun.management.jmxremote.port=%d", cfg.Monitoring.JMX.Port),
			"-Dcom.sun.management.jmxremote.authenticate=false",
			"-Dcom.sun.management.jmxremote.ssl=false",
		)
	}
	agentIDs := make([]string, 0, len(cfg.Agents))
	for id := range cfg.Agents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)
	for _, id := range agentIDs {
		agent := cfg.Agents[id]
		if !agent.Enabled {
			continue
		}
		opts = append(opts, agent.JVMArgs...)
	}
	opts = append(opts, cfg.JVM.AdditionalArgs...)
	return strings.Join(opts, " ")
}
