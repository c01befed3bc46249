package ingest

import (
	"bytes"
	"errors"
	"io"

	xls "github.com/extrame/xls"
)

// probeColumns bounds the width scan; Row.LastCol is unreliable on files
// written by some accounting exports.
const probeColumns = 128

func readXLS(r io.Reader) ([]sheet, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var wb *xls.WorkBook
	var lastErr error
	for _, charset := range []string{"utf-8", "windows-1252", "windows-1251"} {
		wb, err = xls.OpenReader(bytes.NewReader(b), charset)
		if err == nil && wb != nil {
			break
		}
		lastErr = err
	}
	if wb == nil {
		if lastErr == nil {
			lastErr = errors.New("xls: failed to open workbook")
		}
		return nil, lastErr
	}

	var sheets []sheet
	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}
		width := xlsWidth(ws)
		rows := make([][]string, 0, int(ws.MaxRow)+1)
		for j := 0; j <= int(ws.MaxRow); j++ {
			row := ws.Row(j)
			cols := make([]string, width)
			if row != nil {
				for k := 0; k < width; k++ {
					cols[k] = cleanCell(row.Col(k))
				}
			}
			rows = append(rows, cols)
		}
		sheets = append(sheets, sheet{name: ws.Name, rows: rows})
	}
	return sheets, nil
}

func xlsWidth(ws *xls.WorkSheet) int {
	width := 0
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := ws.Row(i)
		if row == nil {
			continue
		}
		for j := width; j < probeColumns; j++ {
			if cleanCell(row.Col(j)) != "" {
				width = j + 1
			}
		}
	}
	return max(width, 1)
}
