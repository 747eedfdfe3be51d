package secrets

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// PassphraseEnvVar is consulted before any interactive prompt.
const PassphraseEnvVar = "LUCLI_SECRETS_PASSPHRASE"

// PassphraseSource acquires the store's passphrase. The default
// implementation checks LUCLI_SECRETS_PASSPHRASE, then reads a no-echo
// line from the terminal; tests substitute a canned source.
type PassphraseSource interface {
	Acquire(prompt string) (string, error)
}

// EnvOrPrompt is the production PassphraseSource.
type EnvOrPrompt struct{}

func (EnvOrPrompt) Acquire(prompt string) (string, error) {
	if v := os.Getenv(PassphraseEnvVar); v != "" {
		return v, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("secrets: read passphrase: %w", err)
	}
	return string(b), nil
}

// StaticPassphrase is a PassphraseSource that always returns a fixed value,
// used by tests and by callers that already resolved the passphrase.
type StaticPassphrase string

func (p StaticPassphrase) Acquire(string) (string, error) { return string(p), nil }
