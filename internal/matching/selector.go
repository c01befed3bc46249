// Package matching ranks catalog candidates for a line item and applies the
// selection rules: highest final score wins, ties go to the entry that appears
// first in the catalog, and a configurable confidence floor separates
// automatic matches from ones that need review.
package matching

import (
	"sort"
	"strings"
	"sync"

	"boqmatch/internal/boq"
	"boqmatch/internal/scoring"
	"boqmatch/internal/services"
)

const (
	DefaultConfidenceThreshold = 0.7
	DefaultMinDescriptionLen   = 3
	DefaultTopK                = 5
)

// Options tunes selection. Zero values fall back to the package defaults.
type Options struct {
	ConfidenceThreshold  float64
	MinDescriptionLength int
	TopK                 int
}

// Selector scores every active candidate and picks the best one.
type Selector struct {
	engine    *scoring.Engine
	threshold float64
	minLen    int
	topK      int

	mu       sync.Mutex
	version  string
	prepared []scoring.Candidate
}

// NewSelector returns a Selector backed by engine.
func NewSelector(engine *scoring.Engine, opts Options) *Selector {
	if engine == nil {
		engine = scoring.NewEngine(scoring.DefaultWeights())
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if opts.MinDescriptionLength <= 0 {
		opts.MinDescriptionLength = DefaultMinDescriptionLen
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Selector{
		engine:    engine,
		threshold: opts.ConfidenceThreshold,
		minLen:    opts.MinDescriptionLength,
		topK:      opts.TopK,
	}
}

// Engine exposes the scoring engine so other strategies can re-rank with the
// same weights.
func (s *Selector) Engine() *scoring.Engine { return s.engine }

// Threshold returns the confidence floor.
func (s *Selector) Threshold() float64 { return s.threshold }

// Scored pairs a candidate with its breakdown.
type Scored struct {
	Entry     boq.CatalogEntry
	Breakdown boq.ScoreBreakdown
	Index     int
}

// Validate rejects descriptions that are blank or shorter than the minimum.
func (s *Selector) Validate(description string) error {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return services.NewValidationError("description", "must not be empty")
	}
	if len([]rune(trimmed)) < s.minLen {
		return services.NewValidationError("description", "is shorter than the minimum length")
	}
	return nil
}

// ScoreAll scores item against every entry of catalog in catalog order.
func (s *Selector) ScoreAll(item boq.LineItem, catalog *boq.Catalog) ([]Scored, error) {
	if err := s.Validate(item.Description); err != nil {
		return nil, err
	}
	if catalog.Len() == 0 {
		return nil, services.Wrap(services.ErrEmptyCatalog, "matching", "select", "no active catalog entries", nil)
	}
	candidates := s.candidates(catalog)
	query := s.engine.PrepareQuery(scoring.QueryFromItem(item))
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{Entry: c.Entry, Breakdown: s.engine.ScorePrepared(query, c), Index: i}
	}
	return out, nil
}

// SelectBest returns the highest scoring candidate. Only candidates that
// reach a lexical tier are eligible; bonuses alone never make a match. An
// item with no eligible candidate gets a result without an entry and zero
// confidence.
func (s *Selector) SelectBest(item boq.LineItem, catalog *boq.Catalog) (boq.MatchResult, error) {
	scored, err := s.ScoreAll(item, catalog)
	if err != nil {
		return boq.MatchResult{}, err
	}
	best := -1
	for i, candidate := range scored {
		if candidate.Breakdown.BaseScore <= 0 {
			continue
		}
		if best < 0 || candidate.Breakdown.FinalScore > scored[best].Breakdown.FinalScore {
			best = i
		}
	}
	if best < 0 {
		return s.result(item, Scored{}), nil
	}
	return s.result(item, scored[best]), nil
}

// TopMatches returns up to k distinct candidates ordered by final score. Ties
// keep catalog order. Candidates that reach no lexical tier are left out.
func (s *Selector) TopMatches(item boq.LineItem, catalog *boq.Catalog, k int) ([]boq.MatchResult, error) {
	scored, err := s.ScoreAll(item, catalog)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = s.topK
	}
	ranked := Rank(scored)
	seen := make(map[string]struct{}, k)
	out := make([]boq.MatchResult, 0, k)
	for _, candidate := range ranked {
		if len(out) == k {
			break
		}
		if candidate.Breakdown.BaseScore <= 0 {
			continue
		}
		if _, dup := seen[candidate.Entry.ID]; dup {
			continue
		}
		seen[candidate.Entry.ID] = struct{}{}
		out = append(out, s.result(item, candidate))
	}
	return out, nil
}

// IsConfident reports whether r clears the automatic-match floor.
func (s *Selector) IsConfident(r boq.MatchResult) bool {
	return r.Matched() && r.Confidence >= s.threshold
}

// Rank sorts scored candidates by final score, descending, keeping catalog
// order between equal scores.
func Rank(scored []Scored) []Scored {
	ranked := make([]Scored, len(scored))
	copy(ranked, scored)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Breakdown.FinalScore > ranked[j].Breakdown.FinalScore
	})
	return ranked
}

func (s *Selector) result(item boq.LineItem, best Scored) boq.MatchResult {
	r := boq.MatchResult{
		RowNumber:   item.RowNumber,
		Description: item.Description,
		Method:      boq.MethodLocal,
		Breakdown:   best.Breakdown,
	}
	if best.Breakdown.BaseScore <= 0 {
		r.Breakdown = boq.ScoreBreakdown{Tier: boq.TierNone}
		return r
	}
	entry := best.Entry
	r.Entry = &entry
	r.Confidence = best.Breakdown.Confidence
	return r
}

// candidates returns prepared candidates, reusing them while the catalog
// version is unchanged.
func (s *Selector) candidates(catalog *boq.Catalog) []scoring.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if catalog.Version != "" && catalog.Version == s.version && len(s.prepared) == len(catalog.Entries) {
		return s.prepared
	}
	prepared := make([]scoring.Candidate, len(catalog.Entries))
	for i, entry := range catalog.Entries {
		prepared[i] = s.engine.PrepareCandidate(entry)
	}
	if catalog.Version != "" {
		s.version = catalog.Version
		s.prepared = prepared
	}
	return prepared
}
