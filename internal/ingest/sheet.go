package ingest

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"boqmatch/internal/services"
)

// sheet is one worksheet as a grid of trimmed cell strings.
type sheet struct {
	name string
	rows [][]string
}

// Format is a supported spreadsheet format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// DetectFormat maps a file name onto its format by extension.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	default:
		return "", services.NewValidationError("file", fmt.Sprintf("unsupported file type %q (expected .csv, .xlsx or .xls)", filepath.Ext(filename)))
	}
}

func readSheets(r io.Reader, filename string) ([]sheet, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	var sheets []sheet
	switch format {
	case FormatCSV:
		sheets, err = readCSV(r, strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
	case FormatXLSX:
		sheets, err = readXLSX(r)
	case FormatXLS:
		sheets, err = readXLS(r)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(filename), err)
	}
	return sheets, nil
}

// cleanCell collapses internal whitespace, including line breaks inside
// wrapped spreadsheet cells.
func cleanCell(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func cleanRow(row []string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = cleanCell(v)
	}
	return out
}

func emptyRow(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
