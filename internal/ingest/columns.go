package ingest

import (
	"regexp"
	"strings"

	"boqmatch/internal/normalize"
)

// field is a logical column that header detection looks for.
type field string

const (
	fieldRef         field = "ref"
	fieldDescription field = "description"
	fieldQuantity    field = "quantity"
	fieldUnit        field = "unit"
	fieldID          field = "id"
	fieldCode        field = "code"
	fieldCategory    field = "category"
	fieldSubcategory field = "subcategory"
	fieldRate        field = "rate"
	fieldKeywords    field = "keywords"
)

var synonyms = map[field][]string{
	fieldRef:         {"item", "item no", "no", "ref", "ref no", "reference", "s no", "sl no", "sr no", "serial no", "item ref", "pos", "position"},
	fieldDescription: {"description", "item description", "desc", "particulars", "details", "description of work", "description of works", "work description", "specification", "designation"},
	fieldQuantity:    {"qty", "quantity", "quant", "qnty", "qty total", "total qty", "quantite"},
	fieldUnit:        {"unit", "units", "uom", "u m", "unit of measure", "unit of measurement", "measure", "unite"},
	fieldID:          {"id", "entry id", "catalog id", "catalogue id", "sku"},
	fieldCode:        {"code", "item code", "rate code", "cost code", "catalog code", "catalogue code"},
	fieldCategory:    {"category", "trade", "section", "division", "work section"},
	fieldSubcategory: {"subcategory", "sub category", "subsection", "sub section", "group"},
	fieldRate:        {"rate", "unit rate", "price", "unit price", "cost", "unit cost"},
	fieldKeywords:    {"keywords", "keyword", "tags", "aliases", "synonyms"},
}

var (
	synonymLookup = buildSynonymLookup()
	headerClean   = regexp.MustCompile(`[^a-z0-9]+`)
)

func buildSynonymLookup() map[string]field {
	out := make(map[string]field)
	for f, names := range synonyms {
		for _, name := range names {
			out[name] = f
		}
	}
	return out
}

func headerKey(value string) string {
	return strings.TrimSpace(headerClean.ReplaceAllString(strings.ToLower(normalize.Fold(value)), " "))
}

// columns maps logical fields to column indexes.
type columns map[field]int

func (c columns) has(f field) bool {
	_, ok := c[f]
	return ok
}

func (c columns) get(row []string, f field) string {
	idx, ok := c[f]
	if !ok {
		return ""
	}
	return cell(row, idx)
}

// matchHeader maps one header row onto fields. The first column claiming a
// field wins; a header merely containing "description" is accepted when no
// exact synonym is present.
func matchHeader(row []string) columns {
	cols := make(columns)
	for i, value := range row {
		key := headerKey(value)
		if key == "" {
			continue
		}
		if f, ok := synonymLookup[key]; ok && !cols.has(f) {
			cols[f] = i
		}
	}
	if !cols.has(fieldDescription) {
		for i, value := range row {
			if strings.Contains(headerKey(value), "description") {
				cols[fieldDescription] = i
				break
			}
		}
	}
	return cols
}

// headerScanRows bounds how far down a sheet the header row is looked for;
// title blocks above the table are common.
const headerScanRows = 30

// findHeader returns the index of the first row that names a description
// column and at least one of required.
func findHeader(rows [][]string, required ...field) (int, columns, bool) {
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		cols := matchHeader(rows[i])
		if !cols.has(fieldDescription) {
			continue
		}
		for _, f := range required {
			if cols.has(f) {
				return i, cols, true
			}
		}
	}
	return 0, nil, false
}
