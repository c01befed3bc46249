package provider

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"boqmatch/internal/boq"
	"boqmatch/internal/logging"
	"boqmatch/internal/matching"
	"boqmatch/internal/normalize"
	"boqmatch/internal/retry"
	"boqmatch/internal/scoring"
	"boqmatch/internal/services"
	"boqmatch/internal/services/embedding"
	"boqmatch/internal/textutil"
)

const (
	defaultBlendWeight = 0.6
	defaultShortlist   = 10
)

// Embedder is the remote call contract. *embedding.Client satisfies it.
type Embedder interface {
	Provider() string
	Embed(ctx context.Context, inputs []string, kind embedding.InputKind) ([][]float64, int, error)
}

// EmbeddingOptions tunes the embedding strategy.
type EmbeddingOptions struct {
	// BlendWeight is the share of confidence taken from vector similarity.
	BlendWeight float64
	Shortlist   int
	Policy      retry.Policy
	Logger      *slog.Logger
	Sleeper     func(time.Duration)
}

// Embedding ranks candidates by vector similarity, then re-ranks a shortlist
// lexically and blends the two signals.
type Embedding struct {
	method    boq.Method
	embedder  Embedder
	selector  *matching.Selector
	cache     *VectorCache
	blend     float64
	shortlist int
	policy    retry.Policy
	logger    *slog.Logger
	retryOpts []retry.Option
	warm      singleflight.Group
}

// NewEmbedding returns the embedding strategy for method. The cache may be
// shared between strategies; it purges itself when the provider switches.
func NewEmbedding(method boq.Method, embedder Embedder, selector *matching.Selector, cache *VectorCache, opts EmbeddingOptions) *Embedding {
	if opts.BlendWeight < 0 || opts.BlendWeight > 1 {
		opts.BlendWeight = defaultBlendWeight
	}
	if opts.Shortlist <= 0 {
		opts.Shortlist = defaultShortlist
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = retry.ReadPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Embedding{
		method:    method,
		embedder:  embedder,
		selector:  selector,
		cache:     cache,
		blend:     opts.BlendWeight,
		shortlist: opts.Shortlist,
		policy:    opts.Policy,
		logger:    logger,
	}
	e.retryOpts = []retry.Option{retry.WithLogger(logger)}
	if opts.Sleeper != nil {
		e.retryOpts = append(e.retryOpts, retry.WithSleeper(opts.Sleeper))
	}
	return e
}

type embedded struct {
	vectors [][]float64
	calls   int
}

type ranked struct {
	index      int
	entry      boq.CatalogEntry
	similarity float64
}

// Warm embeds every catalog entry that is not cached yet. Concurrent callers
// for the same catalog version share one set of requests; the calls are
// reported to the caller whose request ran.
func (e *Embedding) Warm(ctx context.Context, catalog *boq.Catalog) (int, error) {
	_, calls, _, err := e.catalogVectors(ctx, catalog)
	if err == nil && catalog.Len() > e.cache.Capacity() {
		logging.WarnWithContext(e.logger, "embedding cache smaller than catalog", "embedding_cache_undersized",
			logging.String("provider", e.embedder.Provider()),
			logging.Int("entries", catalog.Len()),
			logging.Int("cache_size", e.cache.Capacity()),
			logging.String(logging.FieldImpact, "evicted entries are re-embedded for every item"),
			logging.String(logging.FieldErrorHint, "raise embedding.cache_size above the catalog size"),
		)
	}
	return calls, err
}

// catalogVectors returns one vector per catalog entry, in entry order.
// Entries missing from the cache are embedded and used directly, so a cache
// smaller than the catalog costs extra calls but never drops candidates.
func (e *Embedding) catalogVectors(ctx context.Context, catalog *boq.Catalog) ([][]float64, int, bool, error) {
	if catalog.Len() == 0 {
		return nil, 0, false, services.Wrap(services.ErrEmptyCatalog, "provider", "warm", "no active catalog entries", nil)
	}
	provider := e.embedder.Provider()
	vectors := make([][]float64, len(catalog.Entries))
	var missing []int
	for i, entry := range catalog.Entries {
		if vector, ok := e.cache.Get(provider, catalog.Version, entry.ID); ok {
			vectors[i] = vector
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return vectors, 0, true, nil
	}

	calls := 0
	value, err, _ := e.warm.Do(provider+"\x00"+catalog.Version, func() (any, error) {
		fresh, n, err := e.embedEntries(ctx, catalog, missing)
		calls = n
		return fresh, err
	})
	if err != nil {
		return nil, calls, false, err
	}
	// A shared flight may have embedded a different set of entries.
	fresh, _ := value.(map[string][]float64)
	var rest []int
	for _, i := range missing {
		if vector, ok := fresh[catalog.Entries[i].ID]; ok {
			vectors[i] = vector
			continue
		}
		rest = append(rest, i)
	}
	if len(rest) > 0 {
		more, n, err := e.embedEntries(ctx, catalog, rest)
		calls += n
		if err != nil {
			return nil, calls, false, err
		}
		for _, i := range rest {
			vectors[i] = more[catalog.Entries[i].ID]
		}
	}
	return vectors, calls, false, nil
}

func (e *Embedding) embedEntries(ctx context.Context, catalog *boq.Catalog, indexes []int) (map[string][]float64, int, error) {
	provider := e.embedder.Provider()
	inputs := make([]string, len(indexes))
	for j, i := range indexes {
		inputs[j] = entryText(catalog.Entries[i])
	}
	result, err := e.embed(ctx, inputs, embedding.InputDocument, "embed catalog")
	if err != nil {
		return nil, result.calls, err
	}
	fresh := make(map[string][]float64, len(indexes))
	for j, i := range indexes {
		id := catalog.Entries[i].ID
		fresh[id] = result.vectors[j]
		e.cache.Add(provider, catalog.Version, id, result.vectors[j])
	}
	e.logger.Debug("catalog embeddings cached",
		logging.String("provider", provider),
		logging.String("catalog_version", catalog.Version),
		logging.Int("entries", len(indexes)),
		logging.Int("api_calls", result.calls),
	)
	return fresh, result.calls, nil
}

// MatchItem embeds the description and returns the best blended candidate.
func (e *Embedding) MatchItem(ctx context.Context, req Request) (boq.MatchResult, error) {
	top, usage, err := e.rank(ctx, req)
	if err != nil {
		return boq.MatchResult{}, err
	}
	result := e.blendBest(req, top)
	result.Usage = usage
	return result, nil
}

// TopMatches returns up to k shortlist candidates ordered by blended
// confidence.
func (e *Embedding) TopMatches(ctx context.Context, req Request, k int) ([]boq.MatchResult, error) {
	top, _, err := e.rank(ctx, req)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = matching.DefaultTopK
	}
	results := e.blendAll(req, top)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Confidence > results[j].Confidence })
	out := make([]boq.MatchResult, 0, k)
	for _, r := range results {
		if len(out) == k {
			break
		}
		if r.Confidence <= 0 {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Embedding) rank(ctx context.Context, req Request) ([]ranked, boq.Usage, error) {
	var usage boq.Usage
	if err := e.selector.Validate(req.Description); err != nil {
		return nil, usage, err
	}
	vectors, warmCalls, hit, err := e.catalogVectors(ctx, req.Catalog)
	usage.APICalls += warmCalls
	if err != nil {
		return nil, usage, err
	}
	usage.CacheHit = hit

	query, err := e.embed(ctx, []string{normalize.Preprocess(req.Description)}, embedding.InputQuery, "embed item")
	if err != nil {
		return nil, usage, err
	}
	usage.APICalls += query.calls

	candidates := make([]ranked, len(req.Catalog.Entries))
	for i, entry := range req.Catalog.Entries {
		sim := textutil.VectorCosine(query.vectors[0], vectors[i])
		candidates[i] = ranked{index: i, entry: entry, similarity: max(sim, 0)}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].similarity > candidates[j].similarity })
	if len(candidates) > e.shortlist {
		candidates = candidates[:e.shortlist]
	}
	return candidates, usage, nil
}

func (e *Embedding) blendAll(req Request, top []ranked) []boq.MatchResult {
	engine := e.selector.Engine()
	query := engine.PrepareQuery(scoring.Query{
		Description:    req.Description,
		Unit:           req.Unit,
		ContextHeaders: req.ContextHeaders,
		SheetName:      req.SheetName,
	})
	out := make([]boq.MatchResult, 0, len(top))
	for _, candidate := range top {
		breakdown := engine.ScorePrepared(query, engine.PrepareCandidate(candidate.entry))
		confidence := e.blend*candidate.similarity + (1-e.blend)*breakdown.Confidence
		breakdown.Tier = boq.TierEmbedding
		breakdown.Similarity = candidate.similarity
		breakdown.Confidence = confidence
		entry := candidate.entry
		out = append(out, boq.MatchResult{
			RowNumber:   req.RowNumber,
			Description: req.Description,
			Entry:       &entry,
			Confidence:  confidence,
			Breakdown:   breakdown,
			Method:      e.method,
		})
	}
	return out
}

// blendBest picks the highest blended confidence; equal confidences keep
// catalog order.
func (e *Embedding) blendBest(req Request, top []ranked) boq.MatchResult {
	results := e.blendAll(req, top)
	best := -1
	for i, r := range results {
		if r.Confidence <= 0 {
			continue
		}
		if best < 0 || r.Confidence > results[best].Confidence ||
			(r.Confidence == results[best].Confidence && top[i].index < top[best].index) {
			best = i
		}
	}
	if best < 0 {
		return boq.MatchResult{
			RowNumber:   req.RowNumber,
			Description: req.Description,
			Method:      e.method,
			Breakdown:   boq.ScoreBreakdown{Tier: boq.TierNone},
		}
	}
	return results[best]
}

func (e *Embedding) embed(ctx context.Context, inputs []string, kind embedding.InputKind, op string) (embedded, error) {
	calls := 0
	opts := append([]retry.Option{retry.WithOperation(op)}, e.retryOpts...)
	vectors, err := retry.Value(ctx, e.policy, func(ctx context.Context) ([][]float64, error) {
		vectors, n, err := e.embedder.Embed(ctx, inputs, kind)
		calls += n
		return vectors, err
	}, opts...)
	if err != nil {
		return embedded{calls: calls}, err
	}
	return embedded{vectors: vectors, calls: calls}, nil
}

func entryText(entry boq.CatalogEntry) string {
	parts := []string{entry.Description}
	if entry.Category != "" {
		parts = append(parts, entry.Category)
	}
	if entry.Subcategory != "" {
		parts = append(parts, entry.Subcategory)
	}
	return normalize.Preprocess(strings.Join(parts, " "))
}
