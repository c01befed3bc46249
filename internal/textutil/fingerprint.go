package textutil

import (
	"math"
	"slices"
	"strings"
	"unicode"
)

const minTermLength = 3

// Fingerprint is a bag-of-words vector over a description. Terms are kept
// sorted so two fingerprints can be compared with a single merge pass.
type Fingerprint struct {
	terms  []string
	counts []float64
	norm   float64
}

// NewFingerprint returns nil when text has no term of at least three
// characters.
func NewFingerprint(text string) *Fingerprint {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return nil
	}
	slices.Sort(terms)

	fp := &Fingerprint{}
	for _, term := range terms {
		last := len(fp.terms) - 1
		if last >= 0 && fp.terms[last] == term {
			fp.counts[last]++
			continue
		}
		fp.terms = append(fp.terms, term)
		fp.counts = append(fp.counts, 1)
	}
	var sum float64
	for _, c := range fp.counts {
		sum += c * c
	}
	fp.norm = math.Sqrt(sum)
	return fp
}

// Tokenize lowercases text and splits it on anything that is not a letter or
// digit. Terms shorter than three characters are dropped.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= minTermLength {
			out = append(out, f)
		}
	}
	return out
}
