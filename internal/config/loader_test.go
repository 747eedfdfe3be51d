package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lucli-dev/lucli/internal/lucerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T, dir, lucee string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(lucee), 0o600))
}

func TestLoadAppliesDefaultsWhenProjectOmitsFields(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `{"name":"demo"}`)

	res, err := Load(LoadOptions{ProjectDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 8888, res.Config.Port)
	assert.Equal(t, "512m", res.Config.JVM.MaxMemory)
	assert.Equal(t, "128m", res.Config.JVM.MinMemory)
	assert.True(t, res.Config.URLRewrite.Enabled)
	assert.Equal(t, 9888, res.Config.ShutdownPort)
}

func TestLoadMissingFileIsConfigNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(LoadOptions{ProjectDir: dir})
	require.Error(t, err)
	assert.Equal(t, lucerr.KindConfigNotFound, lucerr.KindOf(err))
}

func TestLoadEnvironmentOverridesJVMMemory(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `{
		"name": "demo",
		"jvm": {"maxMemory": "512m", "minMemory": "128m"},
		"environments": {"prod": {"jvm": {"maxMemory": "2048m"}}}
	}`)

	res, err := Load(LoadOptions{ProjectDir: dir, Environment: "prod"})
	require.NoError(t, err)
	assert.Equal(t, "2048m", res.Config.JVM.MaxMemory)
	assert.Equal(t, "128m", res.Config.JVM.MinMemory, "untouched sibling key survives the merge")
	assert.Equal(t, "prod", res.Config.Environment)
}

func TestLoadUnknownEnvironmentListsAvailableNames(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `{"name":"demo","environments":{"staging":{}}}`)

	_, err := Load(LoadOptions{ProjectDir: dir, Environment: "prod"})
	require.Error(t, err)
	assert.Equal(t, lucerr.KindEnvironmentUnknown, lucerr.KindOf(err))
	assert.Contains(t, err.Error(), "staging")
}

func TestLoadEnvironmentValueMustBeObject(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `{"name":"demo","environments":{"prod":"not-an-object"}}`)

	_, err := Load(LoadOptions{ProjectDir: dir, Environment: "prod"})
	require.Error(t, err)
	assert.Equal(t, lucerr.KindConfigInvalid, lucerr.KindOf(err))
}

func TestLoadRejectsUnsafeName(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `{"name":"../escape"}`)

	_, err := Load(LoadOptions{ProjectDir: dir})
	require.Error(t, err)
	assert.Equal(t, lucerr.KindConfigInvalid, lucerr.KindOf(err))
}

func TestLoadRejectsNonPositivePort(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `{"name":"demo","port":0}`)

	_, err := Load(LoadOptions{ProjectDir: dir})
	require.Error(t, err)
	assert.Equal(t, lucerr.KindConfigInvalid, lucerr.KindOf(err))
}

func TestLoadRejectsDuplicatePorts(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `{"name":"demo","port":8001,"shutdownPort":8001}`)

	_, err := Load(LoadOptions{ProjectDir: dir})
	require.Error(t, err)
	assert.Equal(t, lucerr.KindConfigInvalid, lucerr.KindOf(err))
}

func TestLoadRequiredPlaceholderWithoutResolverFails(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `{"name":"demo","admin":{"password":"${DB_PASSWORD}"}}`)

	_, err := Load(LoadOptions{ProjectDir: dir})
	require.Error(t, err)
	assert.Equal(t, lucerr.KindPlaceholderUnresolved, lucerr.KindOf(err))
}

func TestLoadDotEnvFeedsPlaceholder(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `{"name":"demo","admin":{"password":"${DB_PASSWORD}"}}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DotEnvFileName), []byte("DB_PASSWORD=hunter2\n"), 0o600))

	res, err := Load(LoadOptions{ProjectDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", res.Config.Admin.Password)
}

func TestLoadDefaultsWebrootToProjectDir(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `{"name":"demo"}`)

	res, err := Load(LoadOptions{ProjectDir: dir})
	require.NoError(t, err)
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, abs, res.Config.Webroot)
}

func TestLoadIsPureFunctionOfInputs(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `{"name":"demo","port":8001}`)

	first, err := Load(LoadOptions{ProjectDir: dir})
	require.NoError(t, err)
	second, err := Load(LoadOptions{ProjectDir: dir})
	require.NoError(t, err)
	assert.Equal(t, first.Config, second.Config)
}
