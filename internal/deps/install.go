package deps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lucli-dev/lucli/internal/config"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

// fetchConcurrency bounds the worker pool used for dependency fetches.
const fetchConcurrency = 4

// InstallOptions parameterizes Install.
type InstallOptions struct {
	// IncludeDev also installs devDependencies.
	IncludeDev bool

	// Force re-resolves every dependency even when the lock pins it.
	Force bool

	// DryRun resolves and plans but materializes nothing and leaves the
	// lock file untouched.
	DryRun bool

	// Only limits the install to the named dependencies (empty = all).
	Only []string

	// ToolVersion is recorded in the generated lock file.
	ToolVersion string
}

// InstallResult is what Install reports back to the command layer.
type InstallResult struct {
	Installed []InstalledDependency
	Lock      *LockFile

	// Reused names dependencies whose locked state was already on disk
	// with a matching content hash, so nothing was touched.
	Reused []string
}

// Install resolves every declared dependency (reusing locked identifiers
// unless forced), materializes each into a temporary directory that is
// atomically renamed into place, hashes the materialized tree, and writes
// the updated lock file.
func Install(ctx context.Context, cfg *config.ServerConfig, projectDir string, opts InstallOptions) (*InstallResult, error) {
	specs, err := collectSpecs(cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := checkCycles(specs, cfg.Webroot, projectDir); err != nil {
		return nil, err
	}

	prior, err := LoadLockFile(projectDir)
	if err != nil {
		return nil, err
	}

	next := NewLockFile(opts.ToolVersion)
	if prior != nil {
		next.ServerLocks = prior.ServerLocks
	}

	result := &InstallResult{Lock: next}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, spec := range specs {
		g.Go(func() error {
			installed, reused, err := installOne(gctx, spec, cfg.Webroot, projectDir, prior, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			result.Installed = append(result.Installed, *installed)
			if reused {
				result.Reused = append(result.Reused, spec.Name)
			}
			section := next.Dependencies
			if spec.Dev {
				section = next.DevDependencies
			}
			section[spec.Name] = installed.Locked
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(result.Installed, func(i, j int) bool {
		return result.Installed[i].Name < result.Installed[j].Name
	})
	sort.Strings(result.Reused)

	if opts.DryRun {
		return result, nil
	}
	if err := next.Save(projectDir); err != nil {
		return nil, err
	}
	return result, nil
}

// installOne handles a single dependency end to end. With a usable lock
// entry and an on-disk tree whose hash still matches, it is a no-op.
func installOne(ctx context.Context, spec *Spec, webroot, projectDir string, prior *LockFile, opts InstallOptions) (*InstalledDependency, bool, error) {
	installDir := filepath.Join(webroot, filepath.FromSlash(spec.InstallPath))

	locked, hasLock := prior.Locked(spec.Name, spec.Dev)
	useLock := hasLock && !opts.Force && locked.Source == spec.Source

	if useLock {
		if onDisk, err := HashTree(installDir); err == nil && onDisk == locked.Integrity {
			log.Debug("dependency_unchanged", slog.String("name", spec.Name))
			return &InstalledDependency{
				Name:     spec.Name,
				Locked:   locked,
				Mapping:  spec.Mapping,
				FullPath: installDir,
			}, true, nil
		}
	}

	var resolved string
	var err error
	if useLock {
		resolved = locked.Resolved
	} else {
		resolved, err = resolve(ctx, spec, projectDir)
		if err != nil {
			return nil, false, err
		}
	}

	if opts.DryRun {
		return &InstalledDependency{
			Name: spec.Name,
			Locked: LockedDependency{
				Version:     spec.Version,
				Resolved:    resolved,
				Integrity:   locked.Integrity,
				Source:      spec.Source,
				InstallPath: spec.InstallPath,
				Mapping:     spec.Mapping,
			},
			Mapping:  spec.Mapping,
			FullPath: installDir,
		}, false, nil
	}

	// Materialize into a sibling staging directory, then atomic-rename so
	// a partial tree is never visible at the install path.
	staging := installDir + ".staging-" + uuid.NewString()[:8]
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return nil, false, fmt.Errorf("deps: mkdir install parent: %w", err)
	}
	defer os.RemoveAll(staging)

	wantArchiveSHA := ""
	if useLock && spec.Source == SourceRegistry {
		wantArchiveSHA = locked.Resolved
	}
	materializedID, err := materialize(ctx, spec, resolved, wantArchiveSHA, staging, projectDir)
	if err != nil {
		return nil, false, err
	}

	integrity, err := HashTree(staging)
	if err != nil {
		return nil, false, lucerr.Wrap(lucerr.KindDependencyIntegrityMismatch, err, "hash materialized tree")
	}
	if useLock && locked.Integrity != "" && integrity != locked.Integrity {
		return nil, false, lucerr.Newf(lucerr.KindDependencyIntegrityMismatch,
			"dependency %s: materialized tree hash %s does not match locked %s", spec.Name, integrity, locked.Integrity).
			WithRemedy("rerun with --force to accept the new content")
	}

	if err := os.RemoveAll(installDir); err != nil {
		return nil, false, fmt.Errorf("deps: clear %s: %w", installDir, err)
	}
	if err := os.Rename(staging, installDir); err != nil {
		return nil, false, fmt.Errorf("deps: move into place: %w", err)
	}

	log.Info("dependency_installed",
		slog.String("name", spec.Name),
		slog.String("source", spec.Source),
		slog.String("resolved", materializedID))

	return &InstalledDependency{
		Name: spec.Name,
		Locked: LockedDependency{
			Version:     spec.Version,
			Resolved:    materializedID,
			Integrity:   integrity,
			Source:      spec.Source,
			InstallPath: spec.InstallPath,
			Mapping:     spec.Mapping,
		},
		Mapping:  spec.Mapping,
		FullPath: installDir,
	}, false, nil
}

// Uninstall removes a dependency's materialized tree and its lock entry.
func Uninstall(cfg *config.ServerConfig, projectDir, name string) error {
	lf, err := LoadLockFile(projectDir)
	if err != nil {
		return err
	}
	spec, ok := findSpec(cfg, name)
	if !ok && lf == nil {
		return lucerr.Newf(lucerr.KindConfigInvalid, "no dependency named %q", name)
	}

	installPath := ""
	if ok {
		installPath = spec.InstallPath
	} else if d, found := lf.Locked(name, false); found {
		installPath = d.InstallPath
	} else if d, found := lf.Locked(name, true); found {
		installPath = d.InstallPath
	}
	if installPath == "" {
		return lucerr.Newf(lucerr.KindConfigInvalid, "no dependency named %q", name)
	}

	if err := os.RemoveAll(filepath.Join(cfg.Webroot, filepath.FromSlash(installPath))); err != nil {
		return fmt.Errorf("deps: remove %s: %w", installPath, err)
	}
	if lf != nil {
		delete(lf.Dependencies, name)
		delete(lf.DevDependencies, name)
		return lf.Save(projectDir)
	}
	return nil
}

// collectSpecs normalizes the declared dependencies, applying the Only
// filter.
func collectSpecs(cfg *config.ServerConfig, opts InstallOptions) ([]*Spec, error) {
	only := map[string]bool{}
	for _, n := range opts.Only {
		only[n] = true
	}
	include := func(name string) bool {
		return len(only) == 0 || only[name]
	}

	var specs []*Spec
	add := func(name string, d config.DependencySpec, dev bool) error {
		if !include(name) {
			return nil
		}
		spec := &Spec{
			Name:        name,
			Source:      d.Source,
			URL:         d.URL,
			Path:        d.Path,
			Ref:         d.Ref,
			SubPath:     d.SubPath,
			Version:     d.Version,
			Registry:    d.Registry,
			InstallPath: d.InstallPath,
			Mapping:     d.Mapping,
			Dev:         dev,
		}
		if err := spec.Normalize(); err != nil {
			return err
		}
		specs = append(specs, spec)
		return nil
	}

	for _, name := range sortedKeys(cfg.Dependencies) {
		if err := add(name, cfg.Dependencies[name], false); err != nil {
			return nil, err
		}
	}
	if opts.IncludeDev {
		for _, name := range sortedKeys(cfg.DevDependencies) {
			if err := add(name, cfg.DevDependencies[name], true); err != nil {
				return nil, err
			}
		}
	}
	return specs, nil
}

// checkCycles rejects file dependencies that point back into the project:
// a dependency materialized inside the webroot that is itself sourced from
// the webroot would feed its own output back into its input on the next
// install.
func checkCycles(specs []*Spec, webroot, projectDir string) error {
	absWebroot, err := filepath.Abs(webroot)
	if err != nil {
		return err
	}
	visited := map[string]string{}
	for _, spec := range specs {
		installAbs := filepath.Join(absWebroot, filepath.FromSlash(spec.InstallPath))
		if other, dup := visited[installAbs]; dup {
			return lucerr.Newf(lucerr.KindConfigInvalid,
				"dependencies %s and %s share installPath %s", other, spec.Name, spec.InstallPath)
		}
		visited[installAbs] = spec.Name

		if spec.Source != SourceFile {
			continue
		}
		src := spec.Path
		if !filepath.IsAbs(src) {
			src = filepath.Join(projectDir, src)
		}
		srcAbs, err := filepath.Abs(src)
		if err != nil {
			return err
		}
		if srcAbs == absWebroot || strings.HasPrefix(srcAbs+string(os.PathSeparator), absWebroot+string(os.PathSeparator)) {
			return lucerr.Newf(lucerr.KindDependencyFetchFailed,
				"dependency %s: path %s is inside the project webroot (cycle)", spec.Name, spec.Path)
		}
	}
	return nil
}

func findSpec(cfg *config.ServerConfig, name string) (*Spec, bool) {
	if d, ok := cfg.Dependencies[name]; ok {
		spec := &Spec{Name: name, Source: d.Source, InstallPath: d.InstallPath, Mapping: d.Mapping}
		if err := spec.Normalize(); err == nil {
			return spec, true
		}
	}
	if d, ok := cfg.DevDependencies[name]; ok {
		spec := &Spec{Name: name, Source: d.Source, InstallPath: d.InstallPath, Mapping: d.Mapping, Dev: true}
		if err := spec.Normalize(); err == nil {
			return spec, true
		}
	}
	return nil, false
}

func sortedKeys(m map[string]config.DependencySpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
