package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	thousandsPattern  = regexp.MustCompile(`(\d),(\d{3})\b`)
	decimalComma      = regexp.MustCompile(`(\d),(\d{1,2})\b`)
	splitWordPattern  = regexp.MustCompile(`([a-z])-\s+([a-z])`)
	dimensionPattern  = regexp.MustCompile(`(\d)\s*[x×*]\s*(\d)`)
	attachUnitPattern = regexp.MustCompile(`(\d)\s+(mm|cm|m|km|kn|mpa|n)\b`)
	nonWordPattern    = regexp.MustCompile(`[^a-z0-9.\s]+`)
)

// abbreviations expands trade shorthand. Multi-token expansions are fine; the
// result is re-split on whitespace.
var abbreviations = map[string]string{
	"rcc":    "reinforced cement concrete",
	"pcc":    "plain cement concrete",
	"rc":     "reinforced concrete",
	"rebar":  "reinforcement bar",
	"rebars": "reinforcement bars",
	"reinf":  "reinforcement",
	"reinfd": "reinforced",
	"conc":   "concrete",
	"exc":    "excavation",
	"excav":  "excavation",
	"dpc":    "damp proof course",
	"dpm":    "damp proof membrane",
	"ms":     "mild steel",
	"gi":     "galvanised iron",
	"ss":     "stainless steel",
	"dia":    "diameter",
	"thk":    "thick",
	"incl":   "including",
	"excl":   "excluding",
	"approx": "approximately",
	"fdn":    "foundation",
	"fdns":   "foundations",
	"brkwk":  "brickwork",
	"blkwk":  "blockwork",
	"ftg":    "footing",
	"ftgs":   "footings",
	"hdpe":   "high density polyethylene",
	"upvc":   "unplasticised polyvinyl chloride",
	"pvc":    "polyvinyl chloride",
	"ext":    "external",
	"mtl":    "material",
	"cw":     "complete with",
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)

// Fold applies Unicode compatibility folding and accent removal, so "m³"
// becomes "m3" and "béton" becomes "beton".
func Fold(text string) string {
	folded, _, err := transform.String(foldTransformer, text)
	if err != nil {
		return text
	}
	return folded
}

// Preprocess returns the canonical form of a description used for lexical
// comparison.
func Preprocess(text string) string {
	s := strings.ToLower(Fold(text))
	s = strings.ReplaceAll(s, "c/w", " cw ")
	s = thousandsPattern.ReplaceAllString(s, "$1$2")
	s = decimalComma.ReplaceAllString(s, "$1.$2")
	s = splitWordPattern.ReplaceAllString(s, "$1$2")
	s = dimensionPattern.ReplaceAllString(s, "${1}x${2}")
	s = attachUnitPattern.ReplaceAllString(s, "$1$2")
	s = nonWordPattern.ReplaceAllString(s, " ")

	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, token := range fields {
		token = strings.Trim(token, ".")
		if token == "" {
			continue
		}
		if expanded, ok := abbreviations[token]; ok {
			out = append(out, strings.Fields(expanded)...)
			continue
		}
		out = append(out, token)
	}
	return strings.Join(out, " ")
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "in": {}, "to": {},
	"for": {}, "with": {}, "on": {}, "at": {}, "by": {}, "or": {}, "not": {},
	"all": {}, "any": {}, "as": {}, "per": {}, "be": {}, "is": {},
}

// Terms returns the stemmed content words of text, without stop words or
// unit tokens. The order follows the text and duplicates are dropped.
func Terms(text string) []string {
	normalized := StripUnits(Preprocess(text))
	seen := make(map[string]struct{})
	var out []string
	for _, token := range strings.Fields(normalized) {
		if _, stop := stopWords[token]; stop {
			continue
		}
		if isNumeric(token) {
			continue
		}
		stem := Stem(token)
		if _, dup := seen[stem]; dup {
			continue
		}
		seen[stem] = struct{}{}
		out = append(out, stem)
	}
	return out
}

// Stem strips common English inflections so "Groundworks" and "groundwork",
// or "Excavating" and "excavation", share a stem.
func Stem(word string) string {
	w := strings.ToLower(word)
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		w = w[:len(w)-3] + "y"
	case len(w) > 4 && (strings.HasSuffix(w, "ches") || strings.HasSuffix(w, "shes") || strings.HasSuffix(w, "sses") || strings.HasSuffix(w, "xes")):
		w = w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		w = w[:len(w)-1]
	}
	for _, suffix := range []string{"ing", "ion", "ed"} {
		if len(w)-len(suffix) >= 4 && strings.HasSuffix(w, suffix) {
			w = w[:len(w)-len(suffix)]
			break
		}
	}
	if len(w) > 4 && strings.HasSuffix(w, "e") {
		w = w[:len(w)-1]
	}
	return w
}

func isNumeric(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) && r != '.' && r != 'x' {
			return false
		}
	}
	return true
}
