package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"therapybridge/internal/config"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store manages session, demo account, and job persistence.
type Store struct {
	db     *sql.DB
	driver string
	path   string
}

// Open connects to the configured backend and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	switch cfg.Store.Driver {
	case DriverPostgres:
		return OpenPostgres(cfg.Store.DSN, cfg.Store.MaxOpenConns)
	case DriverSQLite, "":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(cfg.DatabasePath())
	default:
		return nil, fmt.Errorf("open store: unsupported driver %q", cfg.Store.Driver)
	}
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string) (*Store, error) {
	query := url.Values{}
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "busy_timeout(5000)")
	query.Add("_pragma", "foreign_keys(1)")
	query.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + query.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return finishOpen(db, DriverSQLite, path)
}

// OpenPostgres connects to a Postgres (or Supabase) database.
func OpenPostgres(dsn string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return finishOpen(db, DriverPostgres, "")
}

func finishOpen(db *sql.DB, driver, path string) (*Store, error) {
	store := &Store{db: db, driver: driver, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver returns the backend name ("sqlite" or "postgres").
func (s *Store) Driver() string {
	return s.driver
}

// Path returns the SQLite file path, or "" for Postgres.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ensureContext(ctx))
}
