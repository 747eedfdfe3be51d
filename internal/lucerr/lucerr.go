// Package lucerr defines the kinded error type shared across LuCLI's
// components so that callers (the CLI, the daemon, tests) can distinguish
// failure modes without parsing message text.
package lucerr

import "fmt"

// Kind identifies a distinguishable failure mode.
type Kind string

const (
	KindConfigNotFound              Kind = "config_not_found"
	KindConfigInvalid               Kind = "config_invalid"
	KindEnvironmentUnknown          Kind = "environment_unknown"
	KindPlaceholderUnresolved       Kind = "placeholder_unresolved"
	KindSecretStoreLocked           Kind = "secret_store_locked"
	KindSecretStoreCorrupt          Kind = "secret_store_corrupt"
	KindSecretNotFound              Kind = "secret_not_found"
	KindRuntimeMisconfigured        Kind = "runtime_misconfigured"
	KindAlreadyRunning              Kind = "already_running"
	KindNotRunning                  Kind = "not_running"
	KindStartTimeout                Kind = "start_timeout"
	KindLockConflict                Kind = "lock_conflict"
	KindDependencyFetchFailed       Kind = "dependency_fetch_failed"
	KindDependencyIntegrityMismatch Kind = "dependency_integrity_mismatch"
	KindUsage                       Kind = "usage_error"
	KindInternal                    Kind = "internal"
)

// Error is the kinded error carried through LuCLI's command layer. It never
// wraps cryptographic material in Message or Remedy.
type Error struct {
	Kind    Kind
	Message string
	Remedy  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Remedy != "" {
		return fmt.Sprintf("%s (remedy: %s)", e.Message, e.Remedy)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a kinded error with no remedy.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a kinded error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithRemedy returns a copy of e with Remedy set.
func (e *Error) WithRemedy(remedy string) *Error {
	cp := *e
	cp.Remedy = remedy
	return &cp
}

// KindOf extracts the Kind from err, or KindInternal if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return KindInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ExitCode maps a Kind to the process exit code defined by the CLI surface.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindUsage:
		return 2
	case KindConfigNotFound, KindConfigInvalid, KindEnvironmentUnknown,
		KindPlaceholderUnresolved:
		return 3
	case KindRuntimeMisconfigured, KindDependencyFetchFailed,
		KindDependencyIntegrityMismatch:
		return 4
	case KindAlreadyRunning, KindNotRunning, KindStartTimeout, KindLockConflict:
		return 5
	case KindSecretStoreLocked, KindSecretStoreCorrupt, KindSecretNotFound:
		return 1
	default:
		return 1
	}
}
