package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrSchemaTooNew is returned when the queue file was written by a newer
// release; opening it would risk corrupting events this binary cannot read.
var ErrSchemaTooNew = errors.New("queue database schema is newer than this binary")

// Database wraps sql.DB with helper methods for schema management
type Database struct {
	*sql.DB
	path string
}

// InitDatabase opens (creating if needed) the queue database at customPath,
// or at the default location when it is empty. The pool holds a single
// connection, so statements from concurrent goroutines run one at a time.
func InitDatabase(customPath string) (*Database, error) {
	dbPath, err := DatabasePath(customPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve queue database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := &Database{DB: sqlDB, path: dbPath}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// DatabasePath returns the path to the SQLite database file
// Priority: customPath > $XDG_DATA_HOME/gosyncprogress/queue.db > ~/.local/share/gosyncprogress/queue.db
func DatabasePath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "gosyncprogress", "queue.db"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "gosyncprogress", "queue.db"), nil
}

// migrate applies pragmas, then creates tables and indexes, upgrades an older
// file and stamps the schema version inside one transaction. A file stamped
// with a newer version is left untouched.
func (db *Database) migrate() error {
	for _, pragma := range PragmaStatements() {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %q: %w", pragma, err)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start schema migration: %w", err)
	}
	defer tx.Rollback()

	steps := append(AllTableSchemas(), AllIndexes()...)
	for _, stmt := range steps {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	var current sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current.Valid && current.Int64 > SchemaVersion {
		return fmt.Errorf("%w: file has version %d, binary supports %d", ErrSchemaTooNew, current.Int64, SchemaVersion)
	}
	if current.Valid {
		for v := int(current.Int64) + 1; v <= SchemaVersion; v++ {
			for _, stmt := range upgradeSteps[v] {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("failed to upgrade schema to version %d: %w", v, err)
				}
			}
		}
	}
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)`,
		SchemaVersion, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}

// GetSchemaVersion returns the newest schema version applied to the file
func (db *Database) GetSchemaVersion() (int, error) {
	var version int
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Path returns the filesystem path to the database file
func (db *Database) Path() string {
	return db.path
}

// Vacuum rebuilds the file to release pages freed by deletes
func (db *Database) Vacuum() error {
	_, err := db.Exec("VACUUM")
	return err
}
