// Package runtime turns a resolved ServerConfig into something that can
// run: it builds the per-instance base directory (conf, lib, logs, rendered
// configuration) and provides the three provider strategies — embedded
// distribution, external vendor installation, container engine — behind one
// interface.
package runtime

import (
	"context"
	"strings"

	"github.com/lucli-dev/lucli/internal/config"
	"github.com/lucli-dev/lucli/internal/logging"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

var log = logging.ForComponent(logging.CompRuntime)

// Runtime type selectors. A missing or blank runtime.type means embedded.
const (
	TypeEmbedded  = "embedded"
	TypeExternal  = "external"
	TypeContainer = "container"
)

// Provider is the strategy that knows how to turn a provisioned base
// directory into a running servlet container and back. Implementations are
// stateless; all instance state lives under baseDir and in the registry.
type Provider interface {
	// Provision prepares provider-specific state under baseDir: the
	// embedded provider materializes a distribution, the external
	// provider validates the vendor installation and deploys the engine
	// JAR, the container provider creates the container.
	Provision(ctx context.Context, cfg *config.ServerConfig, baseDir string) error

	// Start launches the servlet container and returns the child PID.
	Start(ctx context.Context, cfg *config.ServerConfig, baseDir string) (int, error)

	// Stop terminates the process identified by pid, provider-specifically
	// (the container provider stops the container rather than signaling).
	// Graceful-shutdown escalation policy lives in the supervisor.
	Stop(ctx context.Context, cfg *config.ServerConfig, baseDir string, pid int) error
}

// Select returns the provider for cfg.Runtime.Type.
func Select(cfg *config.ServerConfig, lucliHome string) (Provider, error) {
	switch strings.TrimSpace(cfg.Runtime.Type) {
	case "", TypeEmbedded:
		return &EmbeddedProvider{LucliHome: lucliHome}, nil
	case TypeExternal:
		return &ExternalProvider{}, nil
	case TypeContainer:
		return &ContainerProvider{}, nil
	default:
		return nil, lucerr.Newf(lucerr.KindRuntimeMisconfigured,
			"unknown runtime.type %q (expected embedded, external, or container)", cfg.Runtime.Type)
	}
}
