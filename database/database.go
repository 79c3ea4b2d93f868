// Package database opens the SQLite database backing the memory store and
// search index and brings its schema up to date.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/aschepis/memvault/migrations"
)

const memoryPath = ":memory:"

// Options controls how the database is opened.
type Options struct {
	Path        string
	Driver      string        // migrations.DriverSQLite (default) or migrations.DriverSQLite3
	BusyTimeout time.Duration // how long a writer waits on a locked database
}

// Open opens (creating if needed) the database at opts.Path, applies pragmas
// and runs the embedded migrations.
func Open(opts Options, logger zerolog.Logger) (*sql.DB, error) {
	if opts.Driver == "" {
		opts.Driver = migrations.DriverSQLite
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	if opts.Path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn, err := buildDSN(opts)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("path", opts.Path).
		Str("driver", opts.Driver).
		Dur("busyTimeout", opts.BusyTimeout).
		Msg("Opening database")

	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.Path == memoryPath {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := migrations.RunMigrations(db, opts.Driver, logger); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

func buildDSN(opts Options) (string, error) {
	ms := opts.BusyTimeout.Milliseconds()
	switch opts.Driver {
	case migrations.DriverSQLite:
		if opts.Path == memoryPath {
			return fmt.Sprintf("%s?_pragma=busy_timeout(%d)", memoryPath, ms), nil
		}
		return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_txlock=immediate", opts.Path, ms), nil
	case migrations.DriverSQLite3:
		if opts.Path == memoryPath {
			return fmt.Sprintf("%s?_busy_timeout=%d", memoryPath, ms), nil
		}
		return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate", opts.Path, ms), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}
