// Package deps resolves and materializes project dependencies — git
// repositories, local paths, registry packages, and platform extensions —
// into the project webroot, recording every resolution in a
// content-addressed lock file so reinstalls are reproducible.
package deps

import (
	"fmt"
	"path"
	"strings"

	"github.com/lucli-dev/lucli/internal/logging"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

var log = logging.ForComponent(logging.CompDeps)

// Dependency source kinds.
const (
	SourceGit       = "git"
	SourceFile      = "file"
	SourceRegistry  = "package-registry"
	SourceExtension = "extension"
)

// Spec is one dependency as declared in lucee.json, after name/default
// normalization.
type Spec struct {
	Name        string
	Source      string
	URL         string
	Path        string
	Ref         string
	SubPath     string
	Version     string
	Registry    string
	InstallPath string
	Mapping     string
	Dev         bool
}

// Normalize fills the defaulted fields: installPath defaults to
// dependencies/{name} under the webroot, mapping to /{name}, a git ref to
// the remote default via "HEAD".
func (s *Spec) Normalize() error {
	if s.Name == "" {
		return lucerr.New(lucerr.KindConfigInvalid, "dependency with no name")
	}
	if strings.Contains(s.Name, "/") || strings.Contains(s.Name, "..") {
		return lucerr.Newf(lucerr.KindConfigInvalid, "dependency name %q must not contain '/' or '..'", s.Name)
	}
	switch s.Source {
	case SourceGit, SourceFile, SourceRegistry, SourceExtension:
	default:
		return lucerr.Newf(lucerr.KindConfigInvalid,
			"dependency %s: unknown source %q (expected git, file, package-registry, or extension)", s.Name, s.Source)
	}
	if s.InstallPath == "" {
		s.InstallPath = path.Join("dependencies", s.Name)
	}
	if strings.Contains(s.InstallPath, "..") {
		return lucerr.Newf(lucerr.KindConfigInvalid, "dependency %s: installPath escapes the webroot", s.Name)
	}
	if s.Mapping == "" {
		s.Mapping = "/" + s.Name
	}
	if s.Source == SourceGit && s.Ref == "" {
		s.Ref = "HEAD"
	}
	return nil
}

// InstalledDependency is what Install reports per dependency: the locked
// record plus the mapping the runtime-base builder injects into the engine
// configuration.
type InstalledDependency struct {
	Name     string
	Locked   LockedDependency
	Mapping  string
	FullPath string
}

func (d InstalledDependency) String() string {
	return fmt.Sprintf("%s@%s (%s) -> %s", d.Name, d.Locked.Resolved, d.Locked.Source, d.Locked.InstallPath)
}
