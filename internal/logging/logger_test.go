package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSONLinesWithComponent(t *testing.T) {
	home := t.TempDir()
	Init(Config{Home: home, Debug: true})
	defer Shutdown()

	ForComponent(CompSupervisor).Info("instance_started", "name", "myapp")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "lucli.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.NotEmpty(t, lines)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &record))
	assert.Equal(t, "instance_started", record["msg"])
	assert.Equal(t, CompSupervisor, record["component"])
	assert.Equal(t, "myapp", record["name"])
}

func TestLoggerCreatedBeforeInitStillReachesSink(t *testing.T) {
	Shutdown()
	early := ForComponent(CompDeps)
	early.Info("dropped_before_init")

	home := t.TempDir()
	Init(Config{Home: home, Debug: true})
	defer Shutdown()

	early.Info("emitted_after_init")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "lucli.log"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "emitted_after_init")
	assert.NotContains(t, string(raw), "dropped_before_init")
}

func TestLevelFloor(t *testing.T) {
	home := t.TempDir()
	Init(Config{Home: home, Level: "warn"})
	defer Shutdown()

	l := ForComponent(CompRegistry)
	l.Info("below_floor")
	l.Warn("at_floor")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "lucli.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "below_floor")
	assert.Contains(t, string(raw), "at_floor")
}

func TestRecentReturnsNewestLines(t *testing.T) {
	home := t.TempDir()
	Init(Config{Home: home, Debug: true, RecentLines: 3})
	defer Shutdown()

	l := ForComponent(CompCommand)
	l.Info("one")
	l.Info("two")
	l.Info("three")
	l.Info("four")

	got := Recent(10)
	require.Len(t, got, 3, "ring capacity bounds the result")
	assert.Contains(t, got[0], "two")
	assert.Contains(t, got[2], "four")

	got = Recent(1)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "four")
}

func TestShutdownDeactivates(t *testing.T) {
	home := t.TempDir()
	Init(Config{Home: home, Debug: true})
	Shutdown()

	assert.Nil(t, Recent(5))
	// Logging after shutdown is a no-op, not a panic.
	ForComponent(CompDaemon).Info("into_the_void")
}

func TestInitWithoutHomeStaysInactive(t *testing.T) {
	Init(Config{})
	defer Shutdown()
	assert.Nil(t, Recent(5))
	ForComponent(CompConfig).Info("discarded")
}

func TestWithAttrsAndGroupSurviveDelegation(t *testing.T) {
	home := t.TempDir()
	Init(Config{Home: home, Debug: true})
	defer Shutdown()

	l := ForComponent(CompRuntime).With("instance", "myapp").WithGroup("probe")
	l.Info("tick", "attempt", 3)

	raw, err := os.ReadFile(filepath.Join(home, "logs", "lucli.log"))
	require.NoError(t, err)
	line := string(raw)
	assert.Contains(t, line, `"instance":"myapp"`)
	assert.Contains(t, line, `"probe"`)
}
