package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/lucli-dev/lucli/internal/lucerr"
)

// FileName is the project configuration file's name, resolved relative to
// the project directory.
const FileName = "lucee.json"

// DotEnvFileName is the optional per-project override file consulted by the
// placeholder resolver chain.
const DotEnvFileName = ".env"

// LoadOptions parameterizes Load.
type LoadOptions struct {
	// ProjectDir is the directory containing lucee.json (and, optionally,
	// .env). It becomes the default Webroot when lucee.json omits one.
	ProjectDir string

	// Environment, when non-empty, selects environments.{Environment} as
	// an additional merge layer over the base project configuration.
	Environment string

	// Secrets resolves ${secret:NAME} placeholders. May be nil; any
	// ${secret:...} placeholder then fails with KindSecretStoreLocked.
	Secrets SecretResolver
}

// Result is what Load returns alongside the frozen ServerConfig: warnings
// collected along the way (malformed .env lines) that do not themselves
// fail the command.
type Result struct {
	Config   *ServerConfig
	Warnings []string
}

// Load resolves one ServerConfig: built-in defaults, then
// lucee.json, then (if requested) the named environment layer, deep-merged
// in that order, followed by placeholder substitution and validation.
func Load(opts LoadOptions) (*Result, error) {
	configPath := filepath.Join(opts.ProjectDir, FileName)
	raw, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, lucerr.Newf(lucerr.KindConfigNotFound, "no %s in %s", FileName, opts.ProjectDir).
				WithRemedy("create a lucee.json or run from the project directory")
		}
		return nil, lucerr.Wrap(lucerr.KindConfigNotFound, err, fmt.Sprintf("read %s", configPath))
	}

	var project map[string]any
	if err := json.Unmarshal(raw, &project); err != nil {
		return nil, lucerr.Wrap(lucerr.KindConfigInvalid, err, fmt.Sprintf("parse %s", configPath))
	}

	envLayer, err := resolveEnvironmentLayer(project, opts.Environment)
	if err != nil {
		return nil, err
	}

	merged := MergeAll(defaultLayer(), project, envLayer)

	dotEnvVars, dotEnvWarnings, err := ParseDotEnv(filepath.Join(opts.ProjectDir, DotEnvFileName))
	if err != nil {
		return nil, lucerr.Wrap(lucerr.KindConfigInvalid, err, "parse .env")
	}

	resolver := &Resolver{DotEnv: dotEnvVars, Secrets: opts.Secrets}
	substituted, subWarnings, err := resolver.Substitute(merged, "")
	if err != nil {
		return nil, err
	}

	cfg, err := decode(substituted)
	if err != nil {
		return nil, lucerr.Wrap(lucerr.KindConfigInvalid, err, "decode resolved configuration")
	}

	if cfg.Webroot == "" {
		abs, err := filepath.Abs(opts.ProjectDir)
		if err != nil {
			return nil, lucerr.Wrap(lucerr.KindConfigInvalid, err, "resolve webroot")
		}
		cfg.Webroot = abs
	}
	if info, err := os.Stat(cfg.Webroot); err != nil || !info.IsDir() {
		return nil, lucerr.Newf(lucerr.KindConfigInvalid, "webroot %q does not exist", cfg.Webroot)
	}
	if cfg.ShutdownPort == 0 && cfg.Port != 0 {
		cfg.ShutdownPort = cfg.Port + 1000
	}
	cfg.Environment = opts.Environment

	if err := validate(cfg); err != nil {
		return nil, err
	}

	warnings := append(dotEnvWarnings, subWarnings...)
	return &Result{Config: cfg, Warnings: warnings}, nil
}

// resolveEnvironmentLayer looks up environments.{name} in the raw project
// map. A requested-but-absent environment is fatal and lists the names
// that do exist; a present-but-non-object value is ConfigInvalid.
func resolveEnvironmentLayer(project map[string]any, name string) (map[string]any, error) {
	if name == "" {
		return nil, nil
	}

	envsRaw, _ := project["environments"].(map[string]any)
	if envsRaw == nil {
		return nil, lucerr.Newf(lucerr.KindEnvironmentUnknown, "environment %q requested but no environments are configured", name)
	}

	layer, ok := envsRaw[name]
	if !ok {
		names := make([]string, 0, len(envsRaw))
		for k := range envsRaw {
			names = append(names, k)
		}
		sort.Strings(names)
		return nil, lucerr.Newf(lucerr.KindEnvironmentUnknown,
			"environment %q not found; available: %v", name, names)
	}

	layerMap, ok := layer.(map[string]any)
	if !ok {
		return nil, lucerr.Newf(lucerr.KindConfigInvalid, "environments.%s must be an object", name)
	}
	return layerMap, nil
}

// decode round-trips the merged, substituted JSON-like value through
// encoding/json into ServerConfig, reusing the same struct tags that
// describe the project file's shape.
func decode(value any) (*ServerConfig, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var cfg ServerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
