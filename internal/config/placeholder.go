package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/lucli-dev/lucli/internal/lucerr"
)

// SecretResolver resolves ${secret:NAME} placeholders. Implemented by
// internal/secrets so this package never links against the crypto store
// directly; a nil SecretResolver makes any ${secret:...} placeholder fail
// with SecretStoreLocked.
type SecretResolver interface {
	ResolveSecret(name string) (string, error)
}

// Resolver is the chain consulted for non-secret placeholders, highest
// precedence first: .env file, then OS environment, then the placeholder's
// own default.
type Resolver struct {
	DotEnv  map[string]string
	Secrets SecretResolver
}

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Substitute walks value (the canonical JSON-decoded shape) recursively,
// replacing ${...} tokens in every string. It returns the substituted
// value, a warnings list (no substitution rule adds to it), and an error
// the moment a required placeholder or a ${secret:...} cannot be resolved.
// Whether a read-only path avoids the secret store is the caller's
// decision, made through the SecretResolver it supplies.
func (r *Resolver) Substitute(value any, path string) (any, []string, error) {
	var warnings []string
	out, err := r.substitute(value, path, &warnings)
	return out, warnings, err
}

func (r *Resolver) substitute(value any, path string, warnings *[]string) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, item := range v {
			childPath := path + "." + k
			sub, err := r.substitute(item, childPath, warnings)
			if err != nil {
				return nil, err
			}
			result[k] = sub
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			sub, err := r.substitute(item, childPath, warnings)
			if err != nil {
				return nil, err
			}
			result[i] = sub
		}
		return result, nil
	case string:
		return r.substituteString(v, path, warnings)
	default:
		return value, nil
	}
}

func (r *Resolver) substituteString(s, path string, warnings *[]string) (string, error) {
	var firstErr error
	result := placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		if firstErr != nil {
			return token
		}
		inner := token[2 : len(token)-1] // strip ${ and }

		if name, ok := strings.CutPrefix(inner, "secret:"); ok {
			val, err := r.resolveSecret(name)
			if err != nil {
				// Preserve the underlying kind (e.g. SecretStoreLocked) so
				// callers distinguish "store not initialized" from a plain
				// unresolved placeholder; only the message gains path context.
				firstErr = fmt.Errorf("%s: secret %q unavailable: %w", path, name, err)
				return token
			}
			return val
		}

		name, def, hasDefault := strings.Cut(inner, ":-")
		if val, ok := r.resolveVar(name); ok {
			return val
		}
		if hasDefault {
			return def
		}
		firstErr = lucerr.Newf(lucerr.KindPlaceholderUnresolved,
			"%s: ${%s} has no value and no default", path, name)
		return token
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func (r *Resolver) resolveVar(name string) (string, bool) {
	if r.DotEnv != nil {
		if v, ok := r.DotEnv[name]; ok {
			return v, true
		}
	}
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	return "", false
}

func (r *Resolver) resolveSecret(name string) (string, error) {
	if r.Secrets == nil {
		return "", lucerr.New(lucerr.KindSecretStoreLocked, "secret store not initialized").
			WithRemedy("run 'lucli secrets init'")
	}
	return r.Secrets.ResolveSecret(name)
}
