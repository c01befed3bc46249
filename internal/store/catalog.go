package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"boqmatch/internal/boq"
	"boqmatch/internal/services"
)

const entryColumns = "id, code, description, category, subcategory, unit, rate, keywords_json, active, updated_at"

func scanEntry(scanner interface{ Scan(dest ...any) error }) (CatalogRecord, error) {
	var (
		id          string
		code        sql.NullString
		description string
		category    sql.NullString
		subcategory sql.NullString
		unit        sql.NullString
		rate        float64
		keywords    sql.NullString
		active      int64
		updatedRaw  string
	)
	if err := scanner.Scan(&id, &code, &description, &category, &subcategory, &unit, &rate, &keywords, &active, &updatedRaw); err != nil {
		return CatalogRecord{}, err
	}
	record := CatalogRecord{
		Entry: boq.CatalogEntry{
			ID:          id,
			Code:        code.String,
			Description: description,
			Category:    category.String,
			Subcategory: subcategory.String,
			Unit:        unit.String,
			Rate:        rate,
			Keywords:    decodeStrings(keywords.String),
		},
		Active: active != 0,
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

// ActiveCatalog returns the active entries in insertion order together with
// the current catalog version. An empty catalog is not an error.
func (s *Store) ActiveCatalog(ctx context.Context) (*boq.Catalog, error) {
	catalog := &boq.Catalog{}
	err := s.b.inTx(ctx, func(c conn) error {
		version, err := catalogVersion(ctx, c)
		if err != nil {
			return err
		}
		catalog.Version = version
		records, err := listEntries(ctx, c, false)
		if err != nil {
			return err
		}
		catalog.Entries = make([]boq.CatalogEntry, 0, len(records))
		for _, record := range records {
			catalog.Entries = append(catalog.Entries, record.Entry)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("load active catalog", err)
	}
	return catalog, nil
}

// CatalogVersion returns the current catalog version without loading entries.
func (s *Store) CatalogVersion(ctx context.Context) (string, error) {
	version, err := catalogVersion(ctx, s.b)
	if err != nil {
		return "", s.fail("read catalog version", err)
	}
	return version, nil
}

// ListCatalog returns stored entries in insertion order. Inactive entries are
// included only when includeInactive is set.
func (s *Store) ListCatalog(ctx context.Context, includeInactive bool) ([]CatalogRecord, error) {
	records, err := listEntries(ctx, s.b, includeInactive)
	if err != nil {
		return nil, s.fail("list catalog", err)
	}
	return records, nil
}

// UpsertCatalogEntries inserts new entries and replaces existing ones by ID,
// reactivating any that were deactivated. New entries are appended after the
// existing ones. It returns the new catalog version.
func (s *Store) UpsertCatalogEntries(ctx context.Context, entries []boq.CatalogEntry) (string, error) {
	if len(entries) == 0 {
		return "", services.NewValidationError("entries", "at least one catalog entry is required")
	}
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return "", fmt.Errorf("entry %d: %w", i+1, err)
		}
		if _, dup := seen[entry.ID]; dup {
			return "", services.NewValidationError("id", fmt.Sprintf("duplicate entry id %q", entry.ID))
		}
		seen[entry.ID] = struct{}{}
	}

	var version string
	err := s.b.inTx(ctx, func(c conn) error {
		now := s.timestamp()
		for _, entry := range entries {
			keywords, err := encodeJSON(entry.Keywords)
			if err != nil {
				return fmt.Errorf("encode keywords for %s: %w", entry.ID, err)
			}
			_, err = c.exec(ctx,
				`INSERT INTO catalog_entries (
                    id, code, description, category, subcategory, unit, rate,
                    keywords_json, active, sort_order, updated_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1,
                    (SELECT COALESCE(MAX(sort_order), 0) + 1 FROM catalog_entries), ?)
                ON CONFLICT (id) DO UPDATE SET
                    code = excluded.code,
                    description = excluded.description,
                    category = excluded.category,
                    subcategory = excluded.subcategory,
                    unit = excluded.unit,
                    rate = excluded.rate,
                    keywords_json = excluded.keywords_json,
                    active = 1,
                    updated_at = excluded.updated_at`,
				entry.ID,
				nullableString(entry.Code),
				entry.Description,
				nullableString(entry.Category),
				nullableString(entry.Subcategory),
				nullableString(entry.Unit),
				entry.Rate,
				keywords,
				now,
			)
			if err != nil {
				return fmt.Errorf("upsert entry %s: %w", entry.ID, err)
			}
		}
		var err error
		version, err = bumpCatalogVersion(ctx, c)
		return err
	})
	if err != nil {
		return "", s.fail("upsert catalog entries", err)
	}
	return version, nil
}

// DeactivateCatalogEntry hides an entry from the active catalog. Results that
// already reference it keep their snapshot.
func (s *Store) DeactivateCatalogEntry(ctx context.Context, id string) (string, error) {
	var version string
	err := s.b.inTx(ctx, func(c conn) error {
		affected, err := c.exec(ctx,
			"UPDATE catalog_entries SET active = 0, updated_at = ? WHERE id = ? AND active = 1",
			s.timestamp(), id,
		)
		if err != nil {
			return err
		}
		if affected == 0 {
			return notFound("active catalog entry", id)
		}
		version, err = bumpCatalogVersion(ctx, c)
		return err
	})
	if err != nil {
		return "", s.fail("deactivate catalog entry", err)
	}
	return version, nil
}

func validateEntry(entry boq.CatalogEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return services.NewValidationError("id", "must not be empty")
	}
	if strings.TrimSpace(entry.Description) == "" {
		return services.NewValidationError("description", fmt.Sprintf("entry %q has no description", entry.ID))
	}
	if entry.Rate < 0 {
		return services.NewValidationError("rate", fmt.Sprintf("entry %q has a negative rate", entry.ID))
	}
	return nil
}

func listEntries(ctx context.Context, c conn, includeInactive bool) ([]CatalogRecord, error) {
	query := "SELECT " + entryColumns + " FROM catalog_entries"
	if !includeInactive {
		query += " WHERE active = 1"
	}
	query += " ORDER BY sort_order"

	r, err := c.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records []CatalogRecord
	for r.Next() {
		record, err := scanEntry(r)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, r.Err()
}

func findEntry(ctx context.Context, c conn, id string) (CatalogRecord, error) {
	record, err := scanEntry(c.queryRow(ctx, "SELECT "+entryColumns+" FROM catalog_entries WHERE id = ?", id))
	if isNoRows(err) {
		return CatalogRecord{}, notFound("catalog entry", id)
	}
	return record, err
}

func catalogVersion(ctx context.Context, c conn) (string, error) {
	var version int64
	if err := c.queryRow(ctx, "SELECT version FROM catalog_state WHERE id = 1").Scan(&version); err != nil {
		return "", err
	}
	return strconv.FormatInt(version, 10), nil
}

func bumpCatalogVersion(ctx context.Context, c conn) (string, error) {
	if _, err := c.exec(ctx, "UPDATE catalog_state SET version = version + 1 WHERE id = 1"); err != nil {
		return "", fmt.Errorf("bump catalog version: %w", err)
	}
	return catalogVersion(ctx, c)
}
