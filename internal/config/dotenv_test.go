package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseDotEnvBasics(t *testing.T) {
	path := writeTemp(t, ".env", ""+
		"# a comment\n"+
		"\n"+
		"DB_HOST=localhost\n"+
		"DB_PASS=\"s3cret\"\n"+
		"API_KEY='abc123'\n")

	vars, warnings, err := ParseDotEnv(path)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "localhost", vars["DB_HOST"])
	assert.Equal(t, "s3cret", vars["DB_PASS"])
	assert.Equal(t, "abc123", vars["API_KEY"])
}

func TestParseDotEnvMalformedLineWarns(t *testing.T) {
	path := writeTemp(t, ".env", "GOOD=1\nnotakeyvalue\nALSO_GOOD=2\n")

	vars, warnings, err := ParseDotEnv(path)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "1", vars["GOOD"])
	assert.Equal(t, "2", vars["ALSO_GOOD"])
}

func TestParseDotEnvMissingFileIsNotAnError(t *testing.T) {
	vars, warnings, err := ParseDotEnv(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Empty(t, vars)
}
