package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerNameFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		instance string
		override string
		want     string
	}{
		{
			name:     "simple name gets prefix",
			instance: "myapp",
			want:     "lucli-myapp",
		},
		{
			name:     "override wins verbatim",
			instance: "myapp",
			override: "custom-engine",
			want:     "custom-engine",
		},
		{
			name:     "spaces become hyphens",
			instance: "my app",
			want:     "lucli-my-app",
		},
		{
			name:     "disallowed characters stripped",
			instance: "my@app!v2",
			want:     "lucli-myappv2",
		},
		{
			name:     "trailing dots trimmed",
			instance: "myapp..",
			want:     "lucli-myapp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ContainerNameFor(tt.instance, tt.override))
		})
	}
}

func TestRunConfigArgs(t *testing.T) {
	t.Parallel()

	cfg := NewRunConfig(8001, "/projects/myapp",
		WithEnv("LUCEE_ADMIN_ENABLED", "true"),
		WithEnv("JAVA_OPTS", "-Xmx512m"),
		WithMemoryLimit("1g"),
		WithMount("/projects/myapp/deps", "/var/www/dependencies", true),
	)
	args := cfg.Args()

	assert.Contains(t, args, "managed-by=lucli")
	assert.Contains(t, args, "127.0.0.1:8001:8888", "HTTP port published on loopback only")
	assert.Contains(t, args, "/projects/myapp:/var/www")
	assert.Contains(t, args, "/projects/myapp/deps:/var/www/dependencies:ro")
	assert.Contains(t, args, "1g")

	// Env keys render sorted for a deterministic command line.
	javaIdx, adminIdx := -1, -1
	for i, a := range args {
		switch a {
		case "JAVA_OPTS=-Xmx512m":
			javaIdx = i
		case "LUCEE_ADMIN_ENABLED=true":
			adminIdx = i
		}
	}
	require.NotEqual(t, -1, javaIdx)
	require.NotEqual(t, -1, adminIdx)
	assert.Less(t, javaIdx, adminIdx)
}

func TestRunConfigArgsOmitsEmptyWebroot(t *testing.T) {
	t.Parallel()

	args := NewRunConfig(8888, "").Args()
	for _, a := range args {
		assert.NotContains(t, a, ":/var/www")
	}
}
