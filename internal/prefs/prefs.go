// Package prefs manages LuCLI's own operator preferences, distinct from the
// per-project lucee.json resolved by internal/config. These are ambient
// settings about how LuCLI itself behaves on this workstation.
package prefs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// FileName is the preferences file name under the LuCLI home directory.
const FileName = "preferences.toml"

// EnvOverride lets a caller point at a different preferences file, mirroring
// how LUCLI_HOME overrides the home directory itself.
const EnvOverride = "LUCLI_PREFERENCES"

// Preferences holds operator-level defaults that apply across all projects.
type Preferences struct {
	// DefaultRuntimeType is used when a project's lucee.json omits
	// runtime.type (C7 still falls back to "embedded" either way; this lets
	// an operator change their own default without touching every project).
	DefaultRuntimeType string `toml:"default_runtime_type"`

	// Color records whether the operator wants ANSI color in one-shot CLI
	// output; no output path reads it.
	Color bool `toml:"color"`

	// Locale is the UI message language, mirrored from LUCLI_LOCALE when set.
	Locale string `toml:"locale"`

	// UpdateCheck holds the versions-list cache setting.
	UpdateCheck UpdateCheckSettings `toml:"update_check"`

	// Log controls LuCLI's own ambient logging (not the supervised engine's).
	Log LogSettings `toml:"log"`
}

// UpdateCheckSettings holds a TTL for the engine-versions.json cache. The
// versions-list cache uses the fixed runtime.VersionsCacheTTL and does not
// read CacheTTLHours.
type UpdateCheckSettings struct {
	CacheTTLHours int `toml:"cache_ttl_hours"`
}

// LogSettings mirrors internal/logging.Config's tunables for TOML exposure.
type LogSettings struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Default returns the built-in preference values used when no file exists.
func Default() *Preferences {
	return &Preferences{
		DefaultRuntimeType: "embedded",
		Color:              true,
		Locale:             "en",
		UpdateCheck:        UpdateCheckSettings{CacheTTLHours: 24},
		Log: LogSettings{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 10,
		},
	}
}

// Path resolves the preferences file location: LUCLI_PREFERENCES env var,
// else {lucliHome}/preferences.toml.
func Path(lucliHome string) string {
	if p := os.Getenv(EnvOverride); p != "" {
		return p
	}
	return filepath.Join(lucliHome, FileName)
}

var (
	cacheMu sync.RWMutex
	cache   *Preferences
)

// Load reads preferences.toml, returning defaults (and no error) when the
// file does not exist. Subsequent calls return the cached value; use Reload
// to force a re-read.
func Load(lucliHome string) (*Preferences, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cache != nil {
		return cache, nil
	}

	path := Path(lucliHome)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cache = Default()
		return cache, nil
	}

	p := Default()
	if _, err := toml.DecodeFile(path, p); err != nil {
		cache = Default()
		return cache, fmt.Errorf("prefs: parse %s: %w", path, err)
	}
	cache = p
	return cache, nil
}

// Reload discards the cache and re-reads from disk.
func Reload(lucliHome string) (*Preferences, error) {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
	return Load(lucliHome)
}

// Save writes p to preferences.toml atomically.
func Save(lucliHome string, p *Preferences) error {
	path := Path(lucliHome)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("prefs: mkdir: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# LuCLI operator preferences.\n")
	buf.WriteString("# Per-project settings belong in lucee.json, not here.\n\n")
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("prefs: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("prefs: finalize: %w", err)
	}

	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
	return nil
}
