package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

func TestLoadReturnsDefaultsWhenMissing(t *testing.T) {
	resetCache()
	dir := t.TempDir()

	p, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "embedded", p.DefaultRuntimeType)
	assert.Equal(t, 24, p.UpdateCheck.CacheTTLHours)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	resetCache()
	dir := t.TempDir()

	p := Default()
	p.DefaultRuntimeType = "external"
	p.Locale = "fr"
	require.NoError(t, Save(dir, p))

	resetCache()
	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "external", loaded.DefaultRuntimeType)
	assert.Equal(t, "fr", loaded.Locale)
}

func TestEnvOverridePath(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "custom.toml")
	t.Setenv(EnvOverride, custom)

	assert.Equal(t, custom, Path("/unused"))
}

func TestLoadCachesUntilReload(t *testing.T) {
	resetCache()
	dir := t.TempDir()

	_, err := Load(dir)
	require.NoError(t, err)

	require.NoError(t, Save(dir, &Preferences{DefaultRuntimeType: "container"}))

	// Save() clears the cache itself; Load without Save would keep the old value.
	reloaded, err := Reload(dir)
	require.NoError(t, err)
	assert.Equal(t, "container", reloaded.DefaultRuntimeType)

	// sanity: file actually exists on disk
	_, statErr := os.Stat(Path(dir))
	require.NoError(t, statErr)
}
