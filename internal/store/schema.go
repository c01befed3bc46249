package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// schemaVersion is the current schema version. Bump this when either schema
// file changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	exists, err := s.b.tableExists(ctx, "schema_version")
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if !exists {
		return s.createSchema(ctx)
	}

	var version int64
	if err := s.b.queryRow(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (recreate the %s database)",
			ErrSchemaMismatch, version, schemaVersion, s.b.name())
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	return s.b.inTx(ctx, func(c conn) error {
		if _, err := c.exec(ctx, s.b.schema()); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := c.exec(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}
