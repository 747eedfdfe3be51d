package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// indexSchemaVersion tracks the index schema. Bump when adding migrations —
// the index is a rebuildable cache, so a migration may simply drop and
// recreate.
const indexSchemaVersion = 1

// Index is the SQLite mirror of the servers directory. Thread-safe within
// one process; multiple OS processes coordinate via WAL mode + busy
// timeout. Deleting the file loses nothing: List rebuilds it on the next
// call.
type Index struct {
	db *sql.DB
}

// OpenIndex creates or opens the index database at dbPath.
func OpenIndex(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("registry: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("registry: open index: %w", err)
	}

	// WAL mode: concurrent readers while writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: wal mode: %w", err)
	}
	// Busy timeout: wait up to 5s if another process holds a lock.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: busy timeout: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close checkpoints WAL and closes the database.
func (idx *Index) Close() error {
	_, _ = idx.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return idx.db.Close()
}

func (idx *Index) migrate() error {
	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("registry: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("registry: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			name        TEXT PRIMARY KEY,
			base_dir    TEXT NOT NULL,
			webroot     TEXT NOT NULL,
			pid         INTEGER NOT NULL DEFAULT 0,
			port        INTEGER NOT NULL DEFAULT 0,
			environment TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("registry: create instances: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprintf("%d", indexSchemaVersion),
	); err != nil {
		return fmt.Errorf("registry: set schema version: %w", err)
	}
	return tx.Commit()
}

// Upsert inserts or replaces a single instance row.
func (idx *Index) Upsert(inst *Instance) error {
	_, err := idx.db.Exec(`
		INSERT OR REPLACE INTO instances (
			name, base_dir, webroot, pid, port, environment, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inst.Name, inst.BaseDir, inst.Webroot, inst.PID, inst.Port, inst.Environment,
		inst.CreatedAt.Unix(), inst.UpdatedAt.Unix(),
	)
	return err
}

// Replace mirrors the full instance set in one transaction, deleting rows
// for instances that no longer exist on disk.
func (idx *Index) Replace(instances []*Instance) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if len(instances) == 0 {
		if _, err := tx.Exec("DELETE FROM instances"); err != nil {
			return err
		}
	} else {
		placeholders := make([]string, len(instances))
		args := make([]any, len(instances))
		for i, inst := range instances {
			placeholders[i] = "?"
			args[i] = inst.Name
		}
		query := "DELETE FROM instances WHERE name NOT IN (" + strings.Join(placeholders, ",") + ")"
		if _, err := tx.Exec(query, args...); err != nil {
			return err
		}
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO instances (
			name, base_dir, webroot, pid, port, environment, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, inst := range instances {
		if _, err := stmt.Exec(
			inst.Name, inst.BaseDir, inst.Webroot, inst.PID, inst.Port, inst.Environment,
			inst.CreatedAt.Unix(), inst.UpdatedAt.Unix(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load returns all indexed instances ordered by name. Status is not
// stored; callers wanting liveness go through Registry.List.
func (idx *Index) Load() ([]*Instance, error) {
	rows, err := idx.db.Query(`
		SELECT name, base_dir, webroot, pid, port, environment, created_at, updated_at
		FROM instances ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Instance
	for rows.Next() {
		inst := &Instance{}
		var createdUnix, updatedUnix int64
		if err := rows.Scan(
			&inst.Name, &inst.BaseDir, &inst.Webroot, &inst.PID, &inst.Port, &inst.Environment,
			&createdUnix, &updatedUnix,
		); err != nil {
			return nil, err
		}
		inst.CreatedAt = time.Unix(createdUnix, 0)
		inst.UpdatedAt = time.Unix(updatedUnix, 0)
		result = append(result, inst)
	}
	return result, rows.Err()
}

// Delete removes an instance row by name.
func (idx *Index) Delete(name string) error {
	_, err := idx.db.Exec("DELETE FROM instances WHERE name = ?", name)
	return err
}

// SetMeta sets a key-value pair in the metadata table.
func (idx *Index) SetMeta(key, value string) error {
	_, err := idx.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (idx *Index) GetMeta(key string) (string, error) {
	var value string
	err := idx.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Touch updates a metadata timestamp that other LuCLI processes can poll
// to detect registry changes without a filesystem watcher.
func (idx *Index) Touch() error {
	return idx.SetMeta("last_modified", fmt.Sprintf("%d", time.Now().UnixNano()))
}

// LastModified returns the last_modified timestamp from metadata.
func (idx *Index) LastModified() (int64, error) {
	val, err := idx.GetMeta("last_modified")
	if err != nil || val == "" {
		return 0, err
	}
	var ts int64
	_, err = fmt.Sscanf(val, "%d", &ts)
	return ts, err
}
