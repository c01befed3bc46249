package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const sniffBytes = 4096

// readCSV decodes r to UTF-8 and parses it as a single sheet. The delimiter
// is sniffed from the first non-empty line.
func readCSV(r io.Reader, name string) ([]sheet, error) {
	br := bufio.NewReaderSize(r, sniffBytes)
	peek, err := br.Peek(sniffBytes)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}

	decoded := transform.NewReader(br, unicode.BOMOverride(detectEncoding(peek).NewDecoder()))
	cr := csv.NewReader(decoded)
	cr.Comma = sniffDelimiter(peek)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, cleanRow(rec))
	}
	return []sheet{{name: name, rows: rows}}, nil
}

// detectEncoding trusts valid UTF-8 and otherwise asks chardet. Unknown
// single-byte charsets fall back to Windows-1252, which covers ASCII and
// Latin-1 exports from spreadsheet tools.
func detectEncoding(peek []byte) encoding.Encoding {
	if len(peek) == 0 || validUTF8Prefix(peek) {
		return encoding.Nop
	}
	result, err := chardet.NewTextDetector().DetectBest(peek)
	if err != nil || result == nil {
		return charmap.Windows1252
	}
	switch strings.ToLower(result.Charset) {
	case "utf-8":
		return encoding.Nop
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case "windows-1251":
		return charmap.Windows1251
	case "iso-8859-5":
		return charmap.ISO8859_5
	case "koi8-r":
		return charmap.KOI8R
	case "iso-8859-2", "windows-1250":
		return charmap.Windows1250
	default:
		return charmap.Windows1252
	}
}

// validUTF8Prefix reports whether b is valid UTF-8, allowing a rune cut off
// by the sniff window.
func validUTF8Prefix(b []byte) bool {
	for cut := 0; cut < utf8.UTFMax && cut < len(b); cut++ {
		if utf8.Valid(b[:len(b)-cut]) {
			return true
		}
	}
	return false
}

func sniffDelimiter(peek []byte) rune {
	line := peek
	for len(line) > 0 {
		idx := bytes.IndexByte(line, '\n')
		var current []byte
		if idx < 0 {
			current, line = line, nil
		} else {
			current, line = line[:idx], line[idx+1:]
		}
		if len(bytes.TrimSpace(current)) == 0 {
			continue
		}
		best, bestCount := ',', 0
		for _, candidate := range []rune{',', ';', '\t', '|'} {
			if n := countOutsideQuotes(current, byte(candidate)); n > bestCount {
				best, bestCount = candidate, n
			}
		}
		return best
	}
	return ','
}

func countOutsideQuotes(line []byte, sep byte) int {
	quoted := false
	n := 0
	for _, c := range line {
		switch {
		case c == '"':
			quoted = !quoted
		case c == sep && !quoted:
			n++
		}
	}
	return n
}
