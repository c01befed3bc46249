package ingest

import (
	"io"

	excelize "github.com/xuri/excelize/v2"
)

// readXLSX returns every visible worksheet in workbook order.
func readXLSX(r io.Reader) ([]sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sheets []sheet
	for _, name := range f.GetSheetList() {
		if visible, err := f.GetSheetVisible(name); err == nil && !visible {
			continue
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, err
		}
		out := make([][]string, len(rows))
		for i, row := range rows {
			out[i] = cleanRow(row)
		}
		sheets = append(sheets, sheet{name: name, rows: out})
	}
	return sheets, nil
}
