package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucli-dev/lucli/internal/lucerr"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(t.TempDir())
	t.Cleanup(r.Close)
	return r
}

func saveInstance(t *testing.T, r *Registry, name string, port int) *Instance {
	t.Helper()
	inst := &Instance{
		Name:    name,
		BaseDir: r.BaseDir(name),
		Webroot: t.TempDir(),
		Port:    port,
	}
	require.NoError(t, os.MkdirAll(inst.BaseDir, 0o755))
	require.NoError(t, r.Save(inst))
	return inst
}

func TestSaveAndGet(t *testing.T) {
	r := newTestRegistry(t)
	saved := saveInstance(t, r, "myapp", 8001)

	got, err := r.Get("myapp")
	require.NoError(t, err)
	assert.Equal(t, "myapp", got.Name)
	assert.Equal(t, saved.Webroot, got.Webroot)
	assert.Equal(t, StatusStopped, got.Status, "no PID file means not running")
}

func TestGetUnknownInstance(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get("ghost")
	require.Error(t, err)
	assert.Equal(t, lucerr.KindNotRunning, lucerr.KindOf(err))
}

func TestListSortsAndComputesStatus(t *testing.T) {
	r := newTestRegistry(t)
	saveInstance(t, r, "beta", 8002)
	saveInstance(t, r, "alpha", 8001)

	instances, err := r.List()
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "alpha", instances[0].Name)
	assert.Equal(t, "beta", instances[1].Name)
	for _, inst := range instances {
		assert.Equal(t, StatusStopped, inst.Status)
	}
}

func TestListEmptyHome(t *testing.T) {
	r := newTestRegistry(t)
	instances, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestPIDFileOverridesMetadata(t *testing.T) {
	r := newTestRegistry(t)
	inst := saveInstance(t, r, "myapp", 8001)

	// Metadata claims a PID but there is no PID file: treated as stopped.
	inst.PID = 999999
	require.NoError(t, r.Save(inst))
	got, err := r.Get("myapp")
	require.NoError(t, err)
	assert.Zero(t, got.PID, "stale metadata PID ignored without a PID file")

	// A live PID file wins: use our own PID, which definitely exists. The
	// port probe fails but the fresh PID file keeps it within the
	// freshness window.
	require.NoError(t, WritePIDFile(r.PIDFile("myapp"), os.Getpid()))
	got, err = r.Get("myapp")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), got.PID)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestResolveExactAndFuzzy(t *testing.T) {
	r := newTestRegistry(t)
	saveInstance(t, r, "foobar", 8001)
	saveInstance(t, r, "foobaz", 8002)

	got, err := r.Resolve("foobar")
	require.NoError(t, err)
	assert.Equal(t, "foobar", got.Name)

	_, err = r.Resolve("foo")
	require.Error(t, err)
	assert.Equal(t, lucerr.KindUsage, lucerr.KindOf(err), "ambiguous partial is a usage error")
	assert.Contains(t, err.Error(), "foobar")
	assert.Contains(t, err.Error(), "foobaz")

	_, err = r.Resolve("zzz")
	require.Error(t, err)
	assert.Equal(t, lucerr.KindNotRunning, lucerr.KindOf(err))
}

func TestForDirectoryPrefersMostRecent(t *testing.T) {
	r := newTestRegistry(t)
	webroot := t.TempDir()

	older := saveInstance(t, r, "old", 8001)
	older.Webroot = webroot
	older.UpdatedAt = time.Now().Add(-time.Hour)
	raw := mustMarshal(t, older)
	require.NoError(t, os.WriteFile(filepath.Join(older.BaseDir, MetadataFileName), raw, 0o644))

	newer := saveInstance(t, r, "new", 8002)
	newer.Webroot = webroot
	require.NoError(t, r.Save(newer))

	got, err := r.ForDirectory(webroot)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Name)

	none, err := r.ForDirectory(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPruneRemovesStaleOnly(t *testing.T) {
	r := newTestRegistry(t)

	stale := saveInstance(t, r, "stale", 8001)
	// A recorded PID that no longer exists, with an old PID file so the
	// freshness fallback does not apply.
	require.NoError(t, WritePIDFile(r.PIDFile("stale"), 4194303))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(r.PIDFile("stale"), old, old))

	saveInstance(t, r, "neverstarted", 8002)

	removed, err := r.Prune(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, removed)
	assert.NoDirExists(t, stale.BaseDir)
	assert.DirExists(t, r.BaseDir("neverstarted"), "never-started instances survive without --all")

	removed, err = r.Prune(true)
	require.NoError(t, err)
	assert.Equal(t, []string{"neverstarted"}, removed)
}

func TestIndexRebuildsFromFilesystem(t *testing.T) {
	home := t.TempDir()
	r := New(home)
	defer r.Close()

	inst := &Instance{Name: "myapp", BaseDir: r.BaseDir("myapp"), Webroot: t.TempDir(), Port: 8001}
	require.NoError(t, os.MkdirAll(inst.BaseDir, 0o755))
	require.NoError(t, r.Save(inst))

	// Blow the index away; the filesystem is the source of truth.
	r.Close()
	require.NoError(t, os.Remove(filepath.Join(home, "registry.db")))

	r2 := New(home)
	defer r2.Close()
	instances, err := r2.List()
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "myapp", instances[0].Name)

	idx, err := OpenIndex(filepath.Join(home, "registry.db"))
	require.NoError(t, err)
	defer idx.Close()
	rows, err := idx.Load()
	require.NoError(t, err)
	require.Len(t, rows, 1, "List rebuilt the index")
	assert.Equal(t, "myapp", rows[0].Name)
}

func TestIndexTouchAdvancesLastModified(t *testing.T) {
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	defer idx.Close()

	before, err := idx.LastModified()
	require.NoError(t, err)

	require.NoError(t, idx.Touch())
	after, err := idx.LastModified()
	require.NoError(t, err)
	assert.Greater(t, after, before)
}

func TestReadPIDFileToleratesGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lucli.pid")

	_, ok := ReadPIDFile(path)
	assert.False(t, ok, "missing file is not running")

	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))
	_, ok = ReadPIDFile(path)
	assert.False(t, ok)

	require.NoError(t, WritePIDFile(path, 1234))
	pid, ok := ReadPIDFile(path)
	assert.True(t, ok)
	assert.Equal(t, 1234, pid)
}

func mustMarshal(t *testing.T, inst *Instance) []byte {
	t.Helper()
	raw, err := json.MarshalIndent(inst, "", "  ")
	require.NoError(t, err)
	return raw
}
