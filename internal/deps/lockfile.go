package deps

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/lucli-dev/lucli/internal/atomicfile"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

// LockFileName is the lock file's name, adjacent to lucee.json.
const LockFileName = "lucee-lock.json"

// lockfileVersion is bumped when the on-disk shape changes.
const lockfileVersion = 1

// LockedDependency is the pinned record of one materialized dependency.
type LockedDependency struct {
	// Version is the declared version constraint, empty for git and file
	// sources.
	Version string `json:"version,omitempty"`

	// Resolved is the pinned identifier: a commit SHA for git, an archive
	// SHA-256 for registry packages, the resolved path for file sources,
	// the provider UUID for extensions.
	Resolved string `json:"resolved"`

	// Integrity is the SHA-256 content hash of the materialized tree in
	// "sha256-<hex>" form.
	Integrity string `json:"integrity"`

	// Source is the dependency source kind.
	Source string `json:"source"`

	// InstallPath is where the tree lives, relative to the webroot.
	InstallPath string `json:"installPath"`

	// Mapping is the virtual path prefix exposed to the engine.
	Mapping string `json:"mapping"`
}

// ServerLock records which resolved configuration an environment was last
// provisioned with.
type ServerLock struct {
	ConfigHash string    `json:"configHash"`
	LockedAt   time.Time `json:"lockedAt"`
	ConfigFile string    `json:"configFile"`
}

// LockFile is the persisted lock, written next to the project
// configuration.
type LockFile struct {
	LockfileVersion int                         `json:"lockfileVersion"`
	GeneratedAt     time.Time                   `json:"generatedAt"`
	ToolVersion     string                      `json:"toolVersion"`
	Dependencies    map[string]LockedDependency `json:"dependencies"`
	DevDependencies map[string]LockedDependency `json:"devDependencies,omitempty"`
	ServerLocks     map[string]ServerLock       `json:"serverLocks,omitempty"`
}

// NewLockFile returns an empty lock for toolVersion.
func NewLockFile(toolVersion string) *LockFile {
	return &LockFile{
		LockfileVersion: lockfileVersion,
		GeneratedAt:     time.Now().UTC(),
		ToolVersion:     toolVersion,
		Dependencies:    map[string]LockedDependency{},
		DevDependencies: map[string]LockedDependency{},
		ServerLocks:     map[string]ServerLock{},
	}
}

// LoadLockFile reads the lock adjacent to the project configuration.
// A missing file returns (nil, nil): no lock is not an error.
func LoadLockFile(projectDir string) (*LockFile, error) {
	raw, err := os.ReadFile(filepath.Join(projectDir, LockFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, lucerr.Wrap(lucerr.KindConfigInvalid, err, "read lock file")
	}
	var lf LockFile
	if err := json.Unmarshal(raw, &lf); err != nil {
		return nil, lucerr.Wrap(lucerr.KindConfigInvalid, err, "parse lock file")
	}
	if lf.Dependencies == nil {
		lf.Dependencies = map[string]LockedDependency{}
	}
	if lf.DevDependencies == nil {
		lf.DevDependencies = map[string]LockedDependency{}
	}
	if lf.ServerLocks == nil {
		lf.ServerLocks = map[string]ServerLock{}
	}
	return &lf, nil
}

// Save writes the lock atomically so a concurrent reader never observes
// partial JSON.
func (lf *LockFile) Save(projectDir string) error {
	raw, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return lucerr.Wrap(lucerr.KindInternal, err, "marshal lock file")
	}
	return atomicfile.Write(filepath.Join(projectDir, LockFileName), append(raw, '\n'), 0o644)
}

// RecordServerLock pins the resolved configuration hash for one
// environment and persists the lock. The hash lets a later start detect
// that the configuration drifted since the environment was last
// provisioned.
func (lf *LockFile) RecordServerLock(projectDir, environment, configHash string) error {
	key := environment
	if key == "" {
		key = "default"
	}
	if lf.ServerLocks == nil {
		lf.ServerLocks = map[string]ServerLock{}
	}
	lf.ServerLocks[key] = ServerLock{
		ConfigHash: configHash,
		LockedAt:   time.Now().UTC(),
		ConfigFile: "lucee.json",
	}
	return lf.Save(projectDir)
}

// HashConfig computes the canonical hash of a resolved configuration for
// server locks.
func HashConfig(cfg any) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return "sha256-" + hex.EncodeToString(sum[:]), nil
}

// Locked returns the locked record for name from the right section.
func (lf *LockFile) Locked(name string, dev bool) (LockedDependency, bool) {
	if lf == nil {
		return LockedDependency{}, false
	}
	section := lf.Dependencies
	if dev {
		section = lf.DevDependencies
	}
	d, ok := section[name]
	return d, ok
}
