package config

import (
	"strings"

	"github.com/lucli-dev/lucli/internal/lucerr"
)

// validate enforces the ServerConfig invariants: name is non-empty and
// path-safe, every port is
// positive, and all configured ports are mutually distinct.
func validate(cfg *ServerConfig) error {
	if cfg.Name == "" {
		return lucerr.New(lucerr.KindConfigInvalid, "name must not be empty")
	}
	if strings.Contains(cfg.Name, "/") || strings.Contains(cfg.Name, "..") {
		return lucerr.Newf(lucerr.KindConfigInvalid, "name %q must not contain '/' or '..'", cfg.Name)
	}

	ports := map[string]int{"port": cfg.Port}
	if cfg.ShutdownPort != 0 {
		ports["shutdownPort"] = cfg.ShutdownPort
	}
	if cfg.Monitoring.Enabled && cfg.Monitoring.JMX.Port != 0 {
		ports["monitoring.jmx.port"] = cfg.Monitoring.JMX.Port
	}
	if cfg.HTTPS.Enabled && cfg.HTTPS.Port != 0 {
		ports["https.port"] = cfg.HTTPS.Port
	}
	if cfg.AJP.Enabled && cfg.AJP.Port != 0 {
		ports["ajp.port"] = cfg.AJP.Port
	}

	seen := make(map[int]string, len(ports))
	for field, p := range ports {
		if p <= 0 {
			return lucerr.Newf(lucerr.KindConfigInvalid, "%s must be a positive integer, got %d", field, p)
		}
		if other, ok := seen[p]; ok {
			return lucerr.Newf(lucerr.KindConfigInvalid, "%s and %s both use port %d", field, other, p)
		}
		seen[p] = field
	}

	return nil
}
