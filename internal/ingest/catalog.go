package ingest

import (
	"fmt"
	"io"
	"strings"

	"boqmatch/internal/boq"
	"boqmatch/internal/services"
)

// ReadCatalog parses a price catalog. Entries need an id or code column;
// rows with a description but no rate, unit or id act as category headings
// when the sheet has no category column.
func ReadCatalog(r io.Reader, filename string) ([]boq.CatalogEntry, error) {
	sheets, err := readSheets(r, filename)
	if err != nil {
		return nil, err
	}
	var entries []boq.CatalogEntry
	seen := make(map[string]string)
	for _, s := range sheets {
		sheetEntries, err := sheetCatalog(s)
		if err != nil {
			return nil, err
		}
		for _, e := range sheetEntries {
			where := fmt.Sprintf("%s:%s", s.name, e.ID)
			if prev, dup := seen[e.ID]; dup {
				return nil, services.NewValidationError("id", fmt.Sprintf("duplicate catalog id %q (%s and %s)", e.ID, prev, where))
			}
			seen[e.ID] = where
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return nil, services.NewValidationError("file", "no catalog entries found: expected a header row with description and id, code or rate columns")
	}
	return entries, nil
}

func sheetCatalog(s sheet) ([]boq.CatalogEntry, error) {
	headerIdx, cols, ok := findHeader(s.rows, fieldID, fieldCode, fieldRate)
	if !ok {
		return nil, nil
	}
	if !cols.has(fieldID) && !cols.has(fieldCode) {
		return nil, services.NewValidationError("file", fmt.Sprintf("sheet %q: catalog needs an id or code column", s.name))
	}
	var entries []boq.CatalogEntry
	section := ""
	for i := headerIdx + 1; i < len(s.rows); i++ {
		row := s.rows[i]
		desc := cols.get(row, fieldDescription)
		if desc == "" {
			continue
		}
		id := cols.get(row, fieldID)
		code := cols.get(row, fieldCode)
		if id == "" {
			id = code
		}
		rawRate := cols.get(row, fieldRate)
		unit := cols.get(row, fieldUnit)
		if id == "" {
			if rawRate == "" && unit == "" {
				section = desc
				continue
			}
			return nil, services.NewValidationError("id", fmt.Sprintf("sheet %q row %d: entry has no id or code", s.name, i+1))
		}

		entry := boq.CatalogEntry{
			ID:          id,
			Code:        code,
			Description: desc,
			Category:    cols.get(row, fieldCategory),
			Subcategory: cols.get(row, fieldSubcategory),
			Unit:        unit,
			Keywords:    splitKeywords(cols.get(row, fieldKeywords)),
		}
		if entry.Category == "" {
			entry.Category = section
		}
		if rawRate != "" {
			rate, ok := parseNumber(rawRate)
			if !ok || rate < 0 {
				return nil, services.NewValidationError("rate", fmt.Sprintf("sheet %q row %d: invalid rate %q", s.name, i+1, rawRate))
			}
			entry.Rate = rate
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func splitKeywords(value string) []string {
	if value == "" {
		return nil
	}
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
