package boq

import (
	"fmt"
	"strings"
	"time"
)

// Method identifies the strategy used to match an item.
type Method string

const (
	MethodLocal  Method = "local"
	MethodOpenAI Method = "openai"
	MethodCohere Method = "cohere"
)

var allMethods = []Method{MethodLocal, MethodOpenAI, MethodCohere}

// Methods returns every supported matching method.
func Methods() []Method {
	out := make([]Method, len(allMethods))
	copy(out, allMethods)
	return out
}

// ParseMethod maps a user-supplied string onto a Method. Blank input is
// rejected so callers apply their own default first.
func ParseMethod(value string) (Method, error) {
	normalized := Method(strings.ToLower(strings.TrimSpace(value)))
	for _, m := range allMethods {
		if m == normalized {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown matching method %q", value)
}

// IsEmbedding reports whether the method calls a remote embedding provider.
func (m Method) IsEmbedding() bool {
	return m == MethodOpenAI || m == MethodCohere
}

// LineItem is one parsed BOQ row. It is not modified after parsing.
type LineItem struct {
	RowNumber      int      `json:"row_number"`
	Description    string   `json:"description"`
	Quantity       *float64 `json:"quantity,omitempty"`
	Unit           string   `json:"unit,omitempty"`
	ContextHeaders []string `json:"context_headers,omitempty"`
	SheetName      string   `json:"sheet_name,omitempty"`
}

// CatalogEntry is a priced reference item.
type CatalogEntry struct {
	ID          string   `json:"id"`
	Code        string   `json:"code,omitempty"`
	Description string   `json:"description"`
	Category    string   `json:"category,omitempty"`
	Subcategory string   `json:"subcategory,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Rate        float64  `json:"rate"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Catalog is the active set of entries in insertion order. Version changes
// whenever the set or any entry changes.
type Catalog struct {
	Version string         `json:"version"`
	Entries []CatalogEntry `json:"entries"`
}

// Len returns the number of entries; a nil catalog is empty.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Entries)
}

// Find returns the entry with the given id.
func (c *Catalog) Find(id string) (CatalogEntry, bool) {
	if c == nil {
		return CatalogEntry{}, false
	}
	for _, entry := range c.Entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return CatalogEntry{}, false
}

// Tier names the lexical tier that produced the base score.
type Tier string

const (
	TierNone         Tier = "none"
	TierExact        Tier = "exact"
	TierPrefix       Tier = "prefix"
	TierWordBoundary Tier = "word_boundary"
	TierSubstring    Tier = "substring"
	TierOverlap      Tier = "token_overlap"
	TierCategory     Tier = "category"
	TierMetadata     Tier = "metadata"
	TierEmbedding    Tier = "embedding"
	TierManual       Tier = "manual"
)

// ScoreBreakdown records every factor that contributed to a match.
type ScoreBreakdown struct {
	Tier          Tier    `json:"tier"`
	BaseScore     float64 `json:"base_score"`
	UnitBonus     float64 `json:"unit_bonus"`
	CategoryBonus float64 `json:"category_bonus"`
	ContextBonus  float64 `json:"context_bonus"`
	CodeBonus     float64 `json:"code_bonus"`
	FinalScore    float64 `json:"final_score"`
	Confidence    float64 `json:"confidence"`
	// Similarity is the token or vector similarity that informed the score,
	// when one was computed.
	Similarity float64 `json:"similarity,omitempty"`
}

// Usage reports external work done while producing a result. It is not
// persisted.
type Usage struct {
	CacheHit bool `json:"cache_hit"`
	APICalls int  `json:"api_calls"`
}

// MatchResult is the terminal outcome for one item of a job. Entry is nil when
// nothing matched or the item failed.
type MatchResult struct {
	JobID          string         `json:"job_id,omitempty"`
	RowNumber      int            `json:"row_number"`
	Description    string         `json:"description"`
	Entry          *CatalogEntry  `json:"entry,omitempty"`
	Confidence     float64        `json:"confidence"`
	Breakdown      ScoreBreakdown `json:"breakdown"`
	Method         Method         `json:"method"`
	ManuallyEdited bool           `json:"manually_edited"`
	ErrorNote      string         `json:"error_note,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty"`
	Usage          Usage          `json:"-"`
}

// Matched reports whether the result references a catalog entry.
func (r MatchResult) Matched() bool {
	return r.Entry != nil
}

// Failed builds the confidence-zero result recorded for an item that could
// not be matched.
func Failed(jobID string, item LineItem, method Method, note string) MatchResult {
	return MatchResult{
		JobID:       jobID,
		RowNumber:   item.RowNumber,
		Description: item.Description,
		Method:      method,
		ErrorNote:   note,
		Breakdown:   ScoreBreakdown{Tier: TierNone},
	}
}
