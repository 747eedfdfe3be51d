package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucli-dev/lucli/internal/config"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

func TestSpecNormalizeDefaults(t *testing.T) {
	spec := &Spec{Name: "fw1", Source: SourceGit, URL: "https://example.com/fw1.git"}
	require.NoError(t, spec.Normalize())
	assert.Equal(t, "dependencies/fw1", spec.InstallPath)
	assert.Equal(t, "/fw1", spec.Mapping)
	assert.Equal(t, "HEAD", spec.Ref)
}

func TestSpecNormalizeRejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "a/b", "up..dir"} {
		spec := &Spec{Name: name, Source: SourceFile, Path: "/tmp/x"}
		err := spec.Normalize()
		require.Error(t, err, "%q", name)
		assert.Equal(t, lucerr.KindConfigInvalid, lucerr.KindOf(err))
	}
}

func TestSpecNormalizeRejectsUnknownSource(t *testing.T) {
	spec := &Spec{Name: "x", Source: "ftp"}
	err := spec.Normalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp")
}

func TestHashTreeIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cfc"), []byte("component {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.cfm"), []byte("<cfset x=1>"), 0o644))

	h1, err := HashTree(dir)
	require.NoError(t, err)
	h2, err := HashTree(dir)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Regexp(t, `^sha256-[0-9a-f]{64}$`, h1)
}

func TestHashTreeDetectsDrift(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.cfc")
	require.NoError(t, os.WriteFile(path, []byte("component {}"), 0o644))

	before, err := HashTree(dir)
	require.NoError(t, err)

	// Different line endings count as drift.
	require.NoError(t, os.WriteFile(path, []byte("component {}\r\n"), 0o644))
	after, err := HashTree(dir)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	require.NoError(t, os.Remove(path))
	gone, err := HashTree(dir)
	require.NoError(t, err)
	assert.NotEqual(t, after, gone, "deleted file changes the hash")
}

func TestLockFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lf := NewLockFile("1.0.0")
	lf.Dependencies["fw1"] = LockedDependency{
		Resolved:    "0123456789abcdef0123456789abcdef01234567",
		Integrity:   "sha256-abc",
		Source:      SourceGit,
		InstallPath: "dependencies/fw1",
		Mapping:     "/fw1",
	}
	require.NoError(t, lf.Save(dir))

	loaded, err := LoadLockFile(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, lf.Dependencies, loaded.Dependencies)
	assert.Equal(t, lf.LockfileVersion, loaded.LockfileVersion)
}

func TestRecordServerLock(t *testing.T) {
	dir := t.TempDir()
	lf := NewLockFile("1.0.0")
	require.NoError(t, lf.Save(dir))

	hash, err := HashConfig(map[string]any{"name": "myapp", "port": 8001})
	require.NoError(t, err)
	require.NoError(t, lf.RecordServerLock(dir, "prod", hash))

	loaded, err := LoadLockFile(dir)
	require.NoError(t, err)
	got, ok := loaded.ServerLocks["prod"]
	require.True(t, ok)
	assert.Equal(t, hash, got.ConfigHash)
	assert.Equal(t, "lucee.json", got.ConfigFile)
	assert.False(t, got.LockedAt.IsZero())
}

func TestHashConfigIsDeterministic(t *testing.T) {
	cfg := map[string]any{"name": "myapp", "port": 8001}
	h1, err := HashConfig(cfg)
	require.NoError(t, err)
	h2, err := HashConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestLoadLockFileMissingIsNil(t *testing.T) {
	lf, err := LoadLockFile(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, lf)
}

func TestLoadLockFileGarbageIsConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), []byte("{"), 0o644))
	_, err := LoadLockFile(dir)
	require.Error(t, err)
	assert.Equal(t, lucerr.KindConfigInvalid, lucerr.KindOf(err))
}

func testProject(t *testing.T) (*config.ServerConfig, string) {
	t.Helper()
	projectDir := t.TempDir()
	webroot := filepath.Join(projectDir, "www")
	require.NoError(t, os.MkdirAll(webroot, 0o755))
	return &config.ServerConfig{Name: "app", Webroot: webroot}, projectDir
}

func TestInstallFileSource(t *testing.T) {
	cfg, projectDir := testProject(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "util.cfc"), []byte("component {}"), 0o644))

	cfg.Dependencies = map[string]config.DependencySpec{
		"utils": {Source: SourceFile, Path: src},
	}

	result, err := Install(context.Background(), cfg, projectDir, InstallOptions{ToolVersion: "test"})
	require.NoError(t, err)
	require.Len(t, result.Installed, 1)

	installed := result.Installed[0]
	assert.Equal(t, "/utils", installed.Mapping)
	assert.FileExists(t, filepath.Join(cfg.Webroot, "dependencies", "utils", "util.cfc"))
	assert.NotEmpty(t, installed.Locked.Integrity)

	loaded, err := LoadLockFile(projectDir)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, installed.Locked, loaded.Dependencies["utils"])
}

func TestInstallIsIdempotentWithoutForce(t *testing.T) {
	cfg, projectDir := testProject(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.cfm"), []byte("x"), 0o644))
	cfg.Dependencies = map[string]config.DependencySpec{
		"lib": {Source: SourceFile, Path: src},
	}

	first, err := Install(context.Background(), cfg, projectDir, InstallOptions{})
	require.NoError(t, err)

	second, err := Install(context.Background(), cfg, projectDir, InstallOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"lib"}, second.Reused, "lock + matching hash means no mutation")
	assert.Equal(t,
		first.Installed[0].Locked.Integrity,
		second.Installed[0].Locked.Integrity,
		"two installs from the same lock must hash identically")
}

func TestInstallDryRunWritesNothing(t *testing.T) {
	cfg, projectDir := testProject(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.cfm"), []byte("x"), 0o644))
	cfg.Dependencies = map[string]config.DependencySpec{
		"lib": {Source: SourceFile, Path: src},
	}

	result, err := Install(context.Background(), cfg, projectDir, InstallOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, result.Installed, 1)
	assert.NoDirExists(t, filepath.Join(cfg.Webroot, "dependencies", "lib"))

	lf, err := LoadLockFile(projectDir)
	require.NoError(t, err)
	assert.Nil(t, lf, "dry-run leaves no lock file")
}

func TestInstallRejectsCycle(t *testing.T) {
	cfg, projectDir := testProject(t)
	inside := filepath.Join(cfg.Webroot, "lib")
	require.NoError(t, os.MkdirAll(inside, 0o755))
	cfg.Dependencies = map[string]config.DependencySpec{
		"self": {Source: SourceFile, Path: inside},
	}

	_, err := Install(context.Background(), cfg, projectDir, InstallOptions{})
	require.Error(t, err)
	assert.Equal(t, lucerr.KindDependencyFetchFailed, lucerr.KindOf(err))
	assert.Contains(t, err.Error(), "cycle")
}

func TestInstallRejectsSharedInstallPath(t *testing.T) {
	cfg, projectDir := testProject(t)
	srcA, srcB := t.TempDir(), t.TempDir()
	cfg.Dependencies = map[string]config.DependencySpec{
		"a": {Source: SourceFile, Path: srcA, InstallPath: "dependencies/shared"},
		"b": {Source: SourceFile, Path: srcB, InstallPath: "dependencies/shared"},
	}

	_, err := Install(context.Background(), cfg, projectDir, InstallOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share installPath")
}

func TestUninstallRemovesTreeAndLockEntry(t *testing.T) {
	cfg, projectDir := testProject(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.cfm"), []byte("x"), 0o644))
	cfg.Dependencies = map[string]config.DependencySpec{
		"lib": {Source: SourceFile, Path: src},
	}

	_, err := Install(context.Background(), cfg, projectDir, InstallOptions{})
	require.NoError(t, err)

	require.NoError(t, Uninstall(cfg, projectDir, "lib"))
	assert.NoDirExists(t, filepath.Join(cfg.Webroot, "dependencies", "lib"))

	lf, err := LoadLockFile(projectDir)
	require.NoError(t, err)
	_, ok := lf.Dependencies["lib"]
	assert.False(t, ok)
}
