package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for the engine-owned canonical store.
type DB struct {
	*sql.DB

	// ftsEnabled records whether the FTS5 module was available when the
	// schema was set up. mattn/go-sqlite3 only compiles FTS5 behind the
	// sqlite_fts5 build tag; without it search degrades to LIKE.
	ftsEnabled bool
}

// FTSEnabled reports whether full-text search is backed by FTS5.
func (db *DB) FTSEnabled() bool {
	return db.ftsEnabled
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}
