package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"boqmatch/internal/config"
)

const applicationName = "boqmatch"

// Store persists catalog entries, jobs and match results.
type Store struct {
	b        backend
	location string
	now      func() time.Time
}

// PostgresOptions tunes the Postgres connection pool.
type PostgresOptions struct {
	MaxConns    int32
	DialTimeout time.Duration
}

// Open connects to the backend selected by cfg.Store.Driver and initializes
// the schema.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return OpenPostgres(ctx, cfg.Store.PostgresDSN, PostgresOptions{
			MaxConns:    cfg.Store.MaxConns,
			DialTimeout: time.Duration(cfg.Store.DialTimeoutSeconds) * time.Second,
		})
	case "", "sqlite":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(ctx, cfg.SQLitePath())
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// OpenSQLite opens or creates the SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Set("_txlock", "immediate")
	dsn := "file:" + filepath.ToSlash(path) + "?" + params.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	store := &Store{b: newSQLiteBackend(db), location: path, now: time.Now}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenPostgres connects a pgx pool to dsn and initializes the schema.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*Store, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		pc.MaxConns = opts.MaxConns
	}
	if pc.ConnConfig.RuntimeParams == nil {
		pc.ConnConfig.RuntimeParams = map[string]string{}
	}
	pc.ConnConfig.RuntimeParams["application_name"] = applicationName

	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	pc.ConnConfig.ConnectTimeout = dialTimeout

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{b: newPostgresBackend(pool), location: pc.ConnConfig.Host, now: time.Now}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Driver returns the backend name, "sqlite" or "postgres".
func (s *Store) Driver() string {
	return s.b.name()
}

// Location returns the database file or Postgres host.
func (s *Store) Location() string {
	return s.location
}

// Ping verifies the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.fail("ping", s.b.ping(ctx))
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.b == nil {
		return nil
	}
	return s.b.close()
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}
