// Package database provides the SQLite connection, schema migrations and the
// Store used to persist dispatch state and the delivery log.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/relaybot/internal/logger"
	"github.com/edgard/relaybot/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// filePragmas apply to every connection of an on-disk database. The web
// handlers and the scheduler write concurrently, so writers wait instead of
// failing with SQLITE_BUSY.
var filePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// NewDB opens the database at path and migrates it to the latest schema.
// path is a plain file path, a "file:" URI or ":memory:". Parent directories
// of a file database are created.
func NewDB(path string, log *slog.Logger) (*sqlx.DB, error) {
	log = logger.OrDefault(log).With("component", "database")

	dsn, memory, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", path, err)
	}

	// One connection: a single writer, and an in-memory schema lives only
	// as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !memory {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	version, err := Migrate(db.DB, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("Database ready", "path", path, "memory", memory, "schema_version", version)
	return db, nil
}

// CloseDB closes db, logging rather than returning the error.
func CloseDB(db *sqlx.DB, log *slog.Logger) {
	if db == nil {
		return
	}
	log = logger.OrDefault(log).With("component", "database")
	if err := db.Close(); err != nil {
		log.Error("Error closing database", "error", err)
		return
	}
	log.Debug("Database closed")
}

// Migrate brings db to the newest embedded migration and returns the
// resulting schema version.
func Migrate(db *sql.DB, log *slog.Logger) (uint, error) {
	if db == nil {
		return 0, errors.New("cannot migrate a nil database")
	}
	log = logger.OrDefault(log)

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	target, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return 0, fmt.Errorf("failed to prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", target)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare migrations: %w", err)
	}

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		log.Debug("Schema already up to date")
	case err != nil:
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// buildDSN turns a configured path into a modernc sqlite DSN and reports
// whether it names an in-memory database.
func buildDSN(path string) (dsn string, memory bool, err error) {
	path = strings.TrimSpace(path)
	switch {
	case path == "":
		return "", false, errors.New("database path is required")
	case path == ":memory:":
		return path, true, nil
	case strings.HasPrefix(path, "file:"):
		u, err := url.Parse(path)
		if err != nil {
			return "", false, fmt.Errorf("invalid database uri %q: %w", path, err)
		}
		file := u.Opaque
		if file == "" {
			file = u.Path
		}
		if file == ":memory:" || u.Query().Get("mode") == "memory" {
			return path, true, nil
		}
		if err := ensureDir(file); err != nil {
			return "", false, err
		}
		return withPragmas(path), false, nil
	default:
		if err := ensureDir(path); err != nil {
			return "", false, err
		}
		return withPragmas("file:" + filepath.ToSlash(filepath.Clean(path))), false, nil
	}
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(dsn)
	for _, p := range filePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

func ensureDir(file string) error {
	dir := filepath.Dir(file)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}
