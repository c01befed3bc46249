package ingest

import "testing"

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{in: "12", want: 12, ok: true},
		{in: "1,250", want: 1250, ok: true},
		{in: "1,250.50", want: 1250.5, ok: true},
		{in: "1.250,50", want: 1250.5, ok: true},
		{in: "12,5", want: 12.5, ok: true},
		{in: "1 250", want: 1250, ok: true},
		{in: "£ 40", want: 40, ok: true},
		{in: "", ok: false},
		{in: "-", ok: false},
		{in: "item", ok: false},
	}
	for _, tc := range cases {
		got, ok := parseNumber(tc.in)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("parseNumber(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestHeadingLevel(t *testing.T) {
	cases := map[string]int{
		"":       0,
		"2":      1,
		"2.1":    2,
		"B.3.1":  3,
		"1.":     1,
		"Bill 1": 0,
	}
	for ref, want := range cases {
		if got := headingLevel(ref); got != want {
			t.Fatalf("headingLevel(%q) = %d, want %d", ref, got, want)
		}
	}
}

func TestSniffDelimiter(t *testing.T) {
	cases := map[string]rune{
		"a,b,c\n":         ',',
		"a;b;c\n":         ';',
		"\n\"x;y\",b,c\n": ',',
		"a\tb\tc\n":       '\t',
		"":                ',',
	}
	for in, want := range cases {
		if got := sniffDelimiter([]byte(in)); got != want {
			t.Fatalf("sniffDelimiter(%q) = %q, want %q", in, got, want)
		}
	}
}
