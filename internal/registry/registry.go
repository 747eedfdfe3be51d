// Package registry tracks provisioned server instances: one directory per
// instance under {lucliHome}/servers/, each holding the runtime base, a PID
// file, and an instance.json metadata record. The filesystem is the source
// of truth and List/Get read it directly; a SQLite index mirrors it
// (resynced on every List) and carries a change stamp for cross-process
// change detection.
package registry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/lucli-dev/lucli/internal/atomicfile"
	"github.com/lucli-dev/lucli/internal/logging"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

var log = logging.ForComponent(logging.CompRegistry)

// MetadataFileName is the per-instance metadata record.
const MetadataFileName = "instance.json"

// PIDFileName is the per-instance PID file, written atomically by the
// supervisor on successful spawn.
const PIDFileName = "lucli.pid"

// LockFileName is the per-instance advisory lock serializing
// start/stop/restart.
const LockFileName = ".lock"

// Instance is the persisted record of one provisioned server plus its
// computed liveness.
type Instance struct {
	Name        string    `json:"name"`
	BaseDir     string    `json:"baseDir"`
	Webroot     string    `json:"webroot"`
	PID         int       `json:"pid"`
	Port        int       `json:"port"`
	Environment string    `json:"environment,omitempty"`
	Runtime     string    `json:"runtime,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// Status is computed at read time, never persisted.
	Status string `json:"-"`
}

// Instance status values.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Registry enumerates and persists instances under one LuCLI home.
type Registry struct {
	home  string
	index *Index
}

// New opens a registry rooted at lucliHome. The SQLite index is opened
// lazily; a missing or broken index never fails registry operations.
func New(lucliHome string) *Registry {
	return &Registry{home: lucliHome}
}

// Close releases the index handle if one was opened.
func (r *Registry) Close() {
	if r.index != nil {
		r.index.Close()
		r.index = nil
	}
}

// ServersDir is where instance base directories live.
func (r *Registry) ServersDir() string {
	return filepath.Join(r.home, "servers")
}

// BaseDir returns the base directory for name.
func (r *Registry) BaseDir(name string) string {
	return filepath.Join(r.ServersDir(), name)
}

// PIDFile returns the PID file path for name.
func (r *Registry) PIDFile(name string) string {
	return filepath.Join(r.BaseDir(name), PIDFileName)
}

// LockFile returns the per-instance lock path for name.
func (r *Registry) LockFile(name string) string {
	return filepath.Join(r.BaseDir(name), LockFileName)
}

// Save persists inst's metadata record and refreshes the index.
func (r *Registry) Save(inst *Instance) error {
	inst.UpdatedAt = time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = inst.UpdatedAt
	}
	raw, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return lucerr.Wrap(lucerr.KindInternal, err, "marshal instance metadata")
	}
	if err := atomicfile.Write(filepath.Join(inst.BaseDir, MetadataFileName), append(raw, '\n'), 0o644); err != nil {
		return lucerr.Wrap(lucerr.KindInternal, err, "write instance metadata")
	}
	if idx := r.openIndex(); idx != nil {
		if err := idx.Upsert(inst); err != nil {
			log.Warn("index_upsert_failed", slog.String("name", inst.Name), slog.String("error", err.Error()))
		}
		_ = idx.Touch()
	}
	return nil
}

// Get loads the instance named name, computing its current status.
// A directory with no readable metadata is reported as absent.
func (r *Registry) Get(name string) (*Instance, error) {
	inst, err := r.read(r.BaseDir(name))
	if err != nil {
		return nil, lucerr.Newf(lucerr.KindNotRunning, "no instance named %q", name)
	}
	return inst, nil
}

// List enumerates every known instance sorted by name, computing liveness
// for each, and resyncs the index as a side effect (the index is a cache:
// deleting it loses nothing).
func (r *Registry) List() ([]*Instance, error) {
	entries, err := os.ReadDir(r.ServersDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, lucerr.Wrap(lucerr.KindInternal, err, "enumerate servers directory")
	}

	var instances []*Instance
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		inst, err := r.read(filepath.Join(r.ServersDir(), e.Name()))
		if err != nil {
			log.Warn("unreadable_instance", slog.String("dir", e.Name()), slog.String("error", err.Error()))
			continue
		}
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })

	if idx := r.openIndex(); idx != nil {
		if err := idx.Replace(instances); err != nil {
			log.Warn("index_resync_failed", slog.String("error", err.Error()))
		}
	}
	return instances, nil
}

// Resolve finds the instance for query: an exact name match wins; otherwise
// fuzzy candidates are returned through a UsageError so the caller can list
// them instead of silently picking one.
func (r *Registry) Resolve(query string) (*Instance, error) {
	instances, err := r.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(instances))
	for i, inst := range instances {
		names[i] = inst.Name
		if inst.Name == query {
			return inst, nil
		}
	}

	matches := fuzzy.Find(query, names)
	if len(matches) == 0 {
		return nil, lucerr.Newf(lucerr.KindNotRunning, "no instance named %q", query)
	}
	candidates := make([]string, len(matches))
	for i, m := range matches {
		candidates[i] = m.Str
	}
	return nil, lucerr.Newf(lucerr.KindUsage,
		"no instance named %q; close matches: %v", query, candidates)
}

// ForDirectory returns the instance whose recorded webroot equals dir,
// preferring the most recently updated when several match. Returns nil
// when none match.
func (r *Registry) ForDirectory(dir string) (*Instance, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	instances, err := r.List()
	if err != nil {
		return nil, err
	}
	var best *Instance
	for _, inst := range instances {
		if inst.Webroot != abs {
			continue
		}
		if best == nil || inst.UpdatedAt.After(best.UpdatedAt) {
			best = inst
		}
	}
	return best, nil
}

// Prune removes instances that are not live. With all=false only stale
// registrations (a recorded PID that no longer exists) are removed; with
// all=true every non-running instance goes. Returns the removed names.
func (r *Registry) Prune(all bool) ([]string, error) {
	instances, err := r.List()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, inst := range instances {
		if inst.Status == StatusRunning {
			continue
		}
		if !all && inst.PID == 0 {
			// Never started or cleanly stopped; only --all reaps these.
			continue
		}
		if err := os.RemoveAll(inst.BaseDir); err != nil {
			return removed, lucerr.Wrap(lucerr.KindInternal, err, "remove "+inst.BaseDir)
		}
		if idx := r.openIndex(); idx != nil {
			_ = idx.Delete(inst.Name)
		}
		removed = append(removed, inst.Name)
	}
	if len(removed) > 0 {
		if idx := r.openIndex(); idx != nil {
			_ = idx.Touch()
		}
	}
	return removed, nil
}

// read loads one instance record from baseDir and computes its status.
func (r *Registry) read(baseDir string) (*Instance, error) {
	raw, err := os.ReadFile(filepath.Join(baseDir, MetadataFileName))
	if err != nil {
		return nil, err
	}
	var inst Instance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, err
	}
	inst.BaseDir = baseDir

	// The PID file is authoritative over the metadata snapshot; a missing
	// PID file means "not running", never an error.
	if pid, ok := ReadPIDFile(filepath.Join(baseDir, PIDFileName)); ok {
		inst.PID = pid
	} else {
		inst.PID = 0
	}

	if IsLive(inst.PID, inst.Port, filepath.Join(baseDir, PIDFileName)) {
		inst.Status = StatusRunning
	} else {
		inst.Status = StatusStopped
	}
	return &inst, nil
}

func (r *Registry) openIndex() *Index {
	if r.index != nil {
		return r.index
	}
	idx, err := OpenIndex(filepath.Join(r.home, "registry.db"))
	if err != nil {
		log.Warn("index_unavailable", slog.String("error", err.Error()))
		return nil
	}
	r.index = idx
	return idx
}
