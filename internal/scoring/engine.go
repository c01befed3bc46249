package scoring

import (
	"regexp"
	"strings"

	"boqmatch/internal/boq"
	"boqmatch/internal/normalize"
	"boqmatch/internal/textutil"
)

// Query is the item side of a comparison.
type Query struct {
	Description    string
	Unit           string
	ContextHeaders []string
	SheetName      string
}

// QueryFromItem builds a Query from a parsed line item.
func QueryFromItem(item boq.LineItem) Query {
	return Query{
		Description:    item.Description,
		Unit:           item.Unit,
		ContextHeaders: item.ContextHeaders,
		SheetName:      item.SheetName,
	}
}

// PreparedQuery caches the normalized forms of a Query.
type PreparedQuery struct {
	text    string
	fp      *textutil.Fingerprint
	terms   map[string]struct{}
	unit    normalize.Unit
	headers []map[string]struct{}
	sheet   map[string]struct{}
	code    []string
	hasUnit bool
}

// Text returns the unit-stripped canonical description.
func (q PreparedQuery) Text() string { return q.text }

// Candidate caches the normalized forms of a catalog entry.
type Candidate struct {
	Entry    boq.CatalogEntry
	text     string
	codeText string
	segments []string
	fp       *textutil.Fingerprint
	category map[string]struct{}
	groups   map[string]struct{}
	metadata map[string]struct{}
	unit     normalize.Unit
	hasUnit  bool
}

// Engine scores queries against candidates with a fixed set of weights.
type Engine struct {
	w Weights
}

// NewEngine returns an Engine. A MaxScore below the weights' ceiling is
// raised to it.
func NewEngine(w Weights) *Engine {
	if ceiling := w.Ceiling(); w.MaxScore < ceiling {
		w.MaxScore = ceiling
	}
	if w.MaxScore <= 0 {
		w.MaxScore = DefaultWeights().MaxScore
	}
	return &Engine{w: w}
}

// Weights returns the engine's weights.
func (e *Engine) Weights() Weights { return e.w }

var codePattern = regexp.MustCompile(`^[a-z]{0,3}\d+(?:[.\-/][a-z0-9]+)+$`)

// PrepareQuery normalizes the query once so it can be scored against many
// candidates.
func (e *Engine) PrepareQuery(q Query) PreparedQuery {
	normalized := normalize.Preprocess(q.Description)
	text := normalize.StripUnits(normalized)
	p := PreparedQuery{
		text:  text,
		fp:    textutil.NewFingerprint(text),
		terms: termSet(q.Description),
		sheet: termSet(q.SheetName),
		code:  extractCode(q.Description),
	}
	if q.Unit != "" {
		p.unit, p.hasUnit = normalize.ParseUnit(q.Unit)
	}
	if !p.hasUnit {
		p.unit, p.hasUnit = normalize.ExtractUnit(q.Description)
	}
	for _, header := range q.ContextHeaders {
		p.headers = append(p.headers, termSet(header))
	}
	return p
}

// PrepareCandidate normalizes a catalog entry.
func (e *Engine) PrepareCandidate(entry boq.CatalogEntry) Candidate {
	text := normalize.StripUnits(normalize.Preprocess(entry.Description))
	c := Candidate{
		Entry:    entry,
		text:     text,
		codeText: normalize.Preprocess(entry.Code),
		segments: codeSegments(entry.Code),
		fp:       textutil.NewFingerprint(text),
		category: termSet(entry.Category),
		groups:   termSet(entry.Category + " " + entry.Subcategory),
		metadata: termSet(entry.Subcategory + " " + strings.Join(entry.Keywords, " ")),
	}
	if entry.Unit != "" {
		c.unit, c.hasUnit = normalize.ParseUnit(entry.Unit)
	}
	if !c.hasUnit {
		c.unit, c.hasUnit = normalize.ExtractUnit(entry.Description)
	}
	return c
}

// Score compares one item with one catalog entry.
func (e *Engine) Score(q Query, entry boq.CatalogEntry) boq.ScoreBreakdown {
	return e.ScorePrepared(e.PrepareQuery(q), e.PrepareCandidate(entry))
}

// ScorePrepared is Score over already prepared inputs.
func (e *Engine) ScorePrepared(q PreparedQuery, c Candidate) boq.ScoreBreakdown {
	b := boq.ScoreBreakdown{Tier: boq.TierNone}
	b.Tier, b.BaseScore, b.Similarity = e.baseTier(q, c)

	if q.hasUnit && c.hasUnit && normalize.Compatible(q.unit, c.unit) {
		b.UnitBonus = e.w.UnitBonus
	}
	b.ContextBonus = e.contextBonus(q, c)
	if intersects(q.sheet, c.groups) {
		b.CategoryBonus = e.w.CategoryBonus
	}
	b.CodeBonus = e.codeBonus(q, c)

	b.FinalScore = b.BaseScore + b.UnitBonus + b.ContextBonus + b.CategoryBonus + b.CodeBonus
	b.Confidence = clip(b.FinalScore/e.w.MaxScore, 0, 1)
	return b
}

func (e *Engine) baseTier(q PreparedQuery, c Candidate) (boq.Tier, float64, float64) {
	qt, ct := q.text, c.text
	if qt != "" && ct != "" {
		switch {
		case qt == ct || (c.codeText != "" && qt == c.codeText):
			return boq.TierExact, e.w.ExactPoints, 1
		case len(qt) >= 3 && (strings.HasPrefix(ct, qt+" ") || strings.HasPrefix(qt, ct+" ")):
			return boq.TierPrefix, e.w.PrefixPoints, 0
		case len(qt) >= 3 && (containsWords(ct, qt) || containsWords(qt, ct)):
			return boq.TierWordBoundary, e.w.WordBoundaryPoints, 0
		case len(qt) >= 3 && (strings.Contains(ct, qt) || strings.Contains(qt, ct)):
			return boq.TierSubstring, e.w.SubstringPoints, 0
		}
		sim := max(textutil.CosineSimilarity(q.fp, c.fp), textutil.BestSimilarity(qt, ct))
		if sim >= e.w.OverlapFloor && sim > 0 {
			return boq.TierOverlap, min(e.w.OverlapPoints*sim, e.w.SubstringPoints), sim
		}
	}
	if len(c.category) > 0 && subset(c.category, q.terms) {
		return boq.TierCategory, e.w.CategoryPoints, 0
	}
	if intersects(c.metadata, q.terms) || sameSegments(q.code, c.segments) {
		return boq.TierMetadata, e.w.MetadataPoints, 0
	}
	return boq.TierNone, 0, 0
}

// contextBonus weights each header by proximity: with n headers ordered
// outermost first, header i carries (i+1)/n, so the innermost header weighs 1.
func (e *Engine) contextBonus(q PreparedQuery, c Candidate) float64 {
	n := len(q.headers)
	if n == 0 || len(c.groups) == 0 {
		return 0
	}
	best := 0.0
	for i, header := range q.headers {
		if !intersects(header, c.groups) {
			continue
		}
		if weight := float64(i+1) / float64(n); weight > best {
			best = weight
		}
	}
	return e.w.ContextBonus * best
}

// codeBonus awards the full bonus when the item's structured code shares two
// or more leading segments with the candidate code (or all of a one-segment
// code), and half when only the first segment agrees.
func (e *Engine) codeBonus(q PreparedQuery, c Candidate) float64 {
	if len(q.code) == 0 || len(c.segments) == 0 {
		return 0
	}
	shared := 0
	for shared < len(q.code) && shared < len(c.segments) && q.code[shared] == c.segments[shared] {
		shared++
	}
	switch {
	case shared >= 2 || (shared == 1 && len(c.segments) == 1):
		return e.w.CodeBonus
	case shared == 1:
		return e.w.CodeBonus / 2
	default:
		return 0
	}
}

func extractCode(description string) []string {
	for _, token := range strings.Fields(strings.ToLower(normalize.Fold(description))) {
		token = strings.Trim(token, ".,;:()[]")
		if !codePattern.MatchString(token) {
			continue
		}
		segments := codeSegments(token)
		hasLetter := token[0] < '0' || token[0] > '9'
		if len(segments) >= 3 || hasLetter {
			return segments
		}
	}
	return nil
}

func codeSegments(code string) []string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	return strings.FieldsFunc(code, func(r rune) bool {
		return r == '.' || r == '-' || r == '/' || r == ' '
	})
}

func termSet(text string) map[string]struct{} {
	terms := normalize.Terms(text)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

func containsWords(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

func sameSegments(a, b []string) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func intersects(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

func subset(small, large map[string]struct{}) bool {
	for k := range small {
		if _, ok := large[k]; !ok {
			return false
		}
	}
	return true
}

func clip(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
