package ingest

import (
	"strconv"
	"strings"
)

// parseNumber accepts spreadsheet renderings such as "1,250.50" and
// "1 250,5". Empty and dash cells report false.
func parseNumber(value string) (float64, bool) {
	s := strings.TrimSpace(value)
	switch s {
	case "", "-", "--", "n/a", "N/A":
		return 0, false
	}
	s = strings.NewReplacer(" ", "", "\u00a0", "", "'", "").Replace(s)
	for _, prefix := range []string{"$", "€", "£"} {
		s = strings.TrimPrefix(s, prefix)
	}
	comma := strings.LastIndexByte(s, ',')
	dot := strings.LastIndexByte(s, '.')
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0 && strings.Count(s, ",") == 1 && len(s)-comma-1 != 3:
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
