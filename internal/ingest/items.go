package ingest

import (
	"fmt"
	"io"
	"strings"

	"boqmatch/internal/boq"
	"boqmatch/internal/services"
)

// DefaultContextDepth is the number of section headings kept above an item.
const DefaultContextDepth = 3

// Options controls line item extraction.
type Options struct {
	// Sheet restricts parsing to one worksheet. Empty reads every sheet that
	// holds a bill table.
	Sheet string
	// MaxContextDepth bounds the context header stack.
	MaxContextDepth int
}

// ReadLineItems parses a bill of quantities. Row numbers are spreadsheet rows
// (1-based); on multi-sheet workbooks each sheet continues after the last row
// of the previous one so numbers stay unique within a job.
func ReadLineItems(r io.Reader, filename string, opts Options) ([]boq.LineItem, error) {
	if opts.MaxContextDepth <= 0 {
		opts.MaxContextDepth = DefaultContextDepth
	}
	sheets, err := readSheets(r, filename)
	if err != nil {
		return nil, err
	}

	var items []boq.LineItem
	offset := 0
	found := false
	for _, s := range sheets {
		if opts.Sheet != "" && !strings.EqualFold(s.name, opts.Sheet) {
			offset += len(s.rows)
			continue
		}
		found = true
		items = append(items, sheetItems(s, offset, opts.MaxContextDepth)...)
		offset += len(s.rows)
	}
	if opts.Sheet != "" && !found {
		return nil, services.NewValidationError("sheet", fmt.Sprintf("sheet %q not found", opts.Sheet))
	}
	if len(items) == 0 {
		return nil, services.NewValidationError("file", "no line items found: expected a header row with description and quantity or unit columns")
	}
	return items, nil
}

func sheetItems(s sheet, offset, depth int) []boq.LineItem {
	headerIdx, cols, ok := findHeader(s.rows, fieldQuantity, fieldUnit)
	if !ok {
		return nil
	}
	stack := newHeaderStack(depth)
	var items []boq.LineItem
	for i := headerIdx + 1; i < len(s.rows); i++ {
		row := s.rows[i]
		desc := cols.get(row, fieldDescription)
		if desc == "" || isSummaryRow(desc) {
			continue
		}
		qty, hasQty := parseNumber(cols.get(row, fieldQuantity))
		unit := cols.get(row, fieldUnit)
		if !hasQty && unit == "" {
			stack.push(desc, headingLevel(cols.get(row, fieldRef)))
			continue
		}
		item := boq.LineItem{
			RowNumber:      offset + i + 1,
			Description:    desc,
			Unit:           unit,
			ContextHeaders: stack.snapshot(),
			SheetName:      s.name,
		}
		if hasQty {
			item.Quantity = &qty
		}
		items = append(items, item)
	}
	return items
}

var summaryPrefixes = []string{
	"total", "sub total", "subtotal", "sub-total", "grand total",
	"carried forward", "carried to summary", "carried to collection",
	"brought forward", "to collection", "collection",
}

func isSummaryRow(desc string) bool {
	lower := strings.ToLower(desc)
	for _, prefix := range summaryPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// headingLevel reads the nesting depth of a heading from its reference:
// "2" is level 1, "2.1" level 2 and "B.3.1" level 3. Zero means unknown.
func headingLevel(ref string) int {
	ref = strings.TrimSuffix(strings.TrimSpace(ref), ".")
	if ref == "" {
		return 0
	}
	parts := strings.Split(ref, ".")
	for _, part := range parts {
		if part == "" || len(part) > 3 {
			return 0
		}
		for _, r := range part {
			if !(r >= '0' && r <= '9') && !(r >= 'A' && r <= 'Z') && !(r >= 'a' && r <= 'z') {
				return 0
			}
		}
	}
	return len(parts)
}

type heading struct {
	title string
	level int
}

// headerStack holds section headings outermost first.
type headerStack struct {
	depth   int
	entries []heading
}

func newHeaderStack(depth int) *headerStack {
	return &headerStack{depth: depth}
}

// push adds a heading. A numbered heading closes every open heading at its
// level or deeper, plus unnumbered ones opened since.
func (s *headerStack) push(title string, level int) {
	if n := len(s.entries); n > 0 && s.entries[n-1].title == title {
		return
	}
	if level > 0 {
		for n := len(s.entries); n > 0; n = len(s.entries) {
			top := s.entries[n-1]
			if top.level != 0 && top.level < level {
				break
			}
			s.entries = s.entries[:n-1]
		}
	}
	s.entries = append(s.entries, heading{title: title, level: level})
	if len(s.entries) > s.depth {
		s.entries = append([]heading(nil), s.entries[len(s.entries)-s.depth:]...)
	}
}

func (s *headerStack) snapshot() []string {
	if len(s.entries) == 0 {
		return nil
	}
	out := make([]string, len(s.entries))
	for i, h := range s.entries {
		out[i] = h.title
	}
	return out
}
