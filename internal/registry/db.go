// Package registry provides persistent history for simbatch submissions
// and transfers. Uses pure-Go SQLite (modernc.org/sqlite) — no cgo.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite history database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at the given path.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL so `simbatch jobs` can read while a submit is writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	hdb := &DB{db: db}
	if err := hdb.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return hdb, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			slurm_id     INTEGER PRIMARY KEY,
			project      TEXT NOT NULL,
			stage        TEXT NOT NULL,
			state        TEXT NOT NULL DEFAULT 'PENDING',
			image_digest TEXT NOT NULL DEFAULT '',
			script_path  TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE IF NOT EXISTS transfers (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			direction   TEXT NOT NULL,
			source      TEXT NOT NULL,
			dest        TEXT NOT NULL,
			exit_code   INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			started_at  TEXT NOT NULL
		);
	`)
	return err
}
