package store

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// conn is the query surface shared by both backends and their transactions.
type conn interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args ...any) (rows, error)
	queryRow(ctx context.Context, query string, args ...any) row
}

type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type row interface {
	Scan(dest ...any) error
}

type backend interface {
	conn
	name() string
	schema() string
	inTx(ctx context.Context, fn func(conn) error) error
	tableExists(ctx context.Context, table string) (bool, error)
	ping(ctx context.Context) error
	close() error
	// throttled reports lock contention or connection exhaustion.
	throttled(err error) bool
	// transient reports connection-level failures worth retrying.
	transient(err error) bool
}

// sqlite

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlConn struct {
	q sqlQuerier
}

func (c sqlConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c sqlConn) query(ctx context.Context, query string, args ...any) (rows, error) {
	r, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{r}, nil
}

func (c sqlConn) queryRow(ctx context.Context, query string, args ...any) row {
	return c.q.QueryRowContext(ctx, query, args...)
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() {
	_ = r.Rows.Close()
}

type sqliteBackend struct {
	sqlConn
	db *sql.DB
}

func newSQLiteBackend(db *sql.DB) *sqliteBackend {
	return &sqliteBackend{sqlConn: sqlConn{q: db}, db: db}
}

func (b *sqliteBackend) name() string   { return "sqlite" }
func (b *sqliteBackend) schema() string { return sqliteSchema }

func (b *sqliteBackend) inTx(ctx context.Context, fn func(conn) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(sqlConn{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *sqliteBackend) tableExists(ctx context.Context, table string) (bool, error) {
	var count int64
	err := b.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&count)
	return count > 0, err
}

func (b *sqliteBackend) ping(ctx context.Context) error { return b.db.PingContext(ctx) }
func (b *sqliteBackend) close() error                  { return b.db.Close() }

func (b *sqliteBackend) throttled(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func (b *sqliteBackend) transient(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_IOERR
}

// postgres

type pgQuerier interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

type pgConn struct {
	q pgQuerier
}

func (c pgConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.q.Exec(ctx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c pgConn) query(ctx context.Context, query string, args ...any) (rows, error) {
	r, err := c.q.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (c pgConn) queryRow(ctx context.Context, query string, args ...any) row {
	return c.q.QueryRow(ctx, rebind(query), args...)
}

type postgresBackend struct {
	pgConn
	pool *pgxpool.Pool
}

func newPostgresBackend(pool *pgxpool.Pool) *postgresBackend {
	return &postgresBackend{pgConn: pgConn{q: pool}, pool: pool}
}

func (b *postgresBackend) name() string   { return "postgres" }
func (b *postgresBackend) schema() string { return postgresSchema }

func (b *postgresBackend) inTx(ctx context.Context, fn func(conn) error) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		return fn(pgConn{q: tx})
	})
}

func (b *postgresBackend) tableExists(ctx context.Context, table string) (bool, error) {
	var count int64
	err := b.pool.QueryRow(ctx,
		"SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1", table,
	).Scan(&count)
	return count > 0, err
}

func (b *postgresBackend) ping(ctx context.Context) error { return b.pool.Ping(ctx) }

func (b *postgresBackend) close() error {
	b.pool.Close()
	return nil
}

var pgThrottleCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"53300": {}, // too_many_connections
	"57P03": {}, // cannot_connect_now
}

func (b *postgresBackend) throttled(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	_, ok := pgThrottleCodes[pgErr.Code]
	return ok
}

func (b *postgresBackend) transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08")
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// rebind rewrites `?` placeholders into Postgres `$n` form. Queries in this
// package never contain a literal question mark.
func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}
