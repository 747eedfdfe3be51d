package command

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

// HomeEnvVar overrides the LuCLI home directory.
const HomeEnvVar = "LUCLI_HOME"

// ResolveHome resolves the LuCLI home: an explicit process argument wins,
// then LUCLI_HOME, then {userHome}/.lucli. The directory is created on
// first use.
func ResolveHome(explicit string) (string, error) {
	home := explicit
	if home == "" {
		home = os.Getenv(HomeEnvVar)
	}
	if home == "" {
		userHome, err := homedir.Dir()
		if err != nil {
			return "", fmt.Errorf("resolve user home: %w", err)
		}
		home = filepath.Join(userHome, ".lucli")
	}
	expanded, err := homedir.Expand(home)
	if err != nil {
		return "", fmt.Errorf("expand home path %q: %w", home, err)
	}
	if err := os.MkdirAll(expanded, 0o700); err != nil {
		return "", fmt.Errorf("create home %s: %w", expanded, err)
	}
	return expanded, nil
}
