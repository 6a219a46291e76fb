package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the ledger database at path and creates the acquisitions
// table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Provisioners running side by side share the file; wait on SQLITE_BUSY
	// instead of failing.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS acquisitions (
		id INTEGER PRIMARY KEY,
		run_id TEXT NOT NULL,
		instance_id TEXT,
		kind TEXT NOT NULL,
		source_url TEXT NOT NULL,
		destination TEXT NOT NULL,
		final_path TEXT,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		last_error TEXT,
		created_at DATETIME
	)`)
	if err != nil {
		db.Close()

		return nil, err
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_acquisitions_run_id ON acquisitions (run_id)`); err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}
