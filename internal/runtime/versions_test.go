package runtime

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEngineVersionsUsesFreshCache(t *testing.T) {
	home := t.TempDir()
	cache := versionsCache{
		FetchedAt: time.Now().UTC(),
		Versions:  []string{"6.1.0.243", "6.0.3.1", "5.4.6.9"},
	}
	raw, err := json.Marshal(cache)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(home, VersionsCacheFile), raw, 0o644))

	got, err := ListEngineVersions(context.Background(), home)
	require.NoError(t, err)
	assert.Equal(t, cache.Versions, got, "fresh cache short-circuits the network")
}

func TestReadVersionsCacheRejectsGarbage(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, VersionsCacheFile)
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := readVersionsCache(path)
	require.Error(t, err)
}
