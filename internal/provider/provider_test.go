package provider_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"boqmatch/internal/boq"
	"boqmatch/internal/matching"
	"boqmatch/internal/provider"
	"boqmatch/internal/retry"
	"boqmatch/internal/scoring"
	"boqmatch/internal/services"
	"boqmatch/internal/services/embedding"
)

var vocabulary = []string{"excavation", "soil", "rock", "concrete", "cement", "paint", "emulsion", "wall", "brick"}

// fakeEmbedder maps text onto a bag-of-words vector over a fixed vocabulary.
type fakeEmbedder struct {
	mu       sync.Mutex
	name     string
	requests int
	inputs   int
	failures []error
}

func (f *fakeEmbedder) Provider() string { return f.name }

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string, _ embedding.InputKind) ([][]float64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, 1, err
	}
	f.inputs += len(inputs)
	out := make([][]float64, len(inputs))
	for i, text := range inputs {
		vector := make([]float64, len(vocabulary))
		for j, word := range vocabulary {
			if strings.Contains(text, word) {
				vector[j] = 1
			}
		}
		out[i] = vector
	}
	return out, 1, nil
}

func (f *fakeEmbedder) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests, f.inputs
}

func sampleCatalog(version string) *boq.Catalog {
	return &boq.Catalog{
		Version: version,
		Entries: []boq.CatalogEntry{
			{ID: "e1", Description: "Excavation in ordinary soil", Category: "Groundworks", Unit: "m3"},
			{ID: "e2", Description: "Excavation in hard rock", Category: "Groundworks", Unit: "m3"},
			{ID: "e3", Description: "Plain cement concrete 1:4:8", Category: "Concrete", Unit: "m3"},
			{ID: "e4", Description: "Emulsion paint to brick wall", Category: "Finishes", Unit: "m2"},
		},
	}
}

func newSelector() *matching.Selector {
	return matching.NewSelector(scoring.NewEngine(scoring.DefaultWeights()), matching.Options{})
}

func newEmbedding(t *testing.T, embedder provider.Embedder, cache *provider.VectorCache, method boq.Method) *provider.Embedding {
	t.Helper()
	if cache == nil {
		var err error
		cache, err = provider.NewVectorCache(100)
		if err != nil {
			t.Fatalf("NewVectorCache failed: %v", err)
		}
	}
	return provider.NewEmbedding(method, embedder, newSelector(), cache, provider.EmbeddingOptions{
		Policy:  retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
		Sleeper: func(time.Duration) {},
	})
}

func TestDispatcherLocalUsesCatalogSource(t *testing.T) {
	var loads int
	d := provider.NewDispatcher(provider.NewLocal(newSelector()), func(context.Context) (*boq.Catalog, error) {
		loads++
		return sampleCatalog("v1"), nil
	})
	result, err := d.MatchItem(context.Background(), provider.Request{Description: "Excavation in hard rock", Unit: "cum"})
	if err != nil {
		t.Fatalf("MatchItem failed: %v", err)
	}
	if loads != 1 {
		t.Fatalf("expected one catalog load, got %d", loads)
	}
	if result.Entry == nil || result.Entry.ID != "e2" {
		t.Fatalf("expected e2, got %+v", result.Entry)
	}
	if result.Method != boq.MethodLocal {
		t.Fatalf("method = %s", result.Method)
	}
	if result.Usage.APICalls != 0 {
		t.Fatalf("local strategy must not make API calls, got %d", result.Usage.APICalls)
	}
}

func TestDispatcherRejectsUnknownMethod(t *testing.T) {
	d := provider.NewDispatcher(provider.NewLocal(newSelector()), nil)
	_, err := d.MatchItem(context.Background(), provider.Request{Description: "Brick wall", Method: boq.MethodCohere, Catalog: sampleCatalog("v1")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if d.Supports(boq.MethodCohere) {
		t.Fatal("cohere should not be supported")
	}
}

func TestEmbeddingMatchCachesCatalogVectors(t *testing.T) {
	fake := &fakeEmbedder{name: "openai"}
	strategy := newEmbedding(t, fake, nil, boq.MethodOpenAI)
	req := provider.Request{Description: "Excavation in rock", Unit: "m3", Method: boq.MethodOpenAI, Catalog: sampleCatalog("v1")}

	first, err := strategy.MatchItem(context.Background(), req)
	if err != nil {
		t.Fatalf("MatchItem failed: %v", err)
	}
	if first.Entry == nil || first.Entry.ID != "e2" {
		t.Fatalf("expected e2, got %+v", first.Entry)
	}
	if first.Method != boq.MethodOpenAI || first.Breakdown.Tier != boq.TierEmbedding {
		t.Fatalf("unexpected method/tier: %s/%s", first.Method, first.Breakdown.Tier)
	}
	if first.Usage.CacheHit || first.Usage.APICalls != 2 {
		t.Fatalf("first call usage = %+v, want miss with 2 calls", first.Usage)
	}
	if first.Confidence < 0 || first.Confidence > 1 {
		t.Fatalf("confidence %v out of range", first.Confidence)
	}

	second, err := strategy.MatchItem(context.Background(), req)
	if err != nil {
		t.Fatalf("MatchItem failed: %v", err)
	}
	if !second.Usage.CacheHit || second.Usage.APICalls != 1 {
		t.Fatalf("second call usage = %+v, want hit with 1 call", second.Usage)
	}
	if _, inputs := fake.counts(); inputs != 4+2 {
		t.Fatalf("expected 4 catalog inputs plus 2 queries, got %d", inputs)
	}
}

func TestEmbeddingCacheKeysByVersionAndProvider(t *testing.T) {
	cache, err := provider.NewVectorCache(100)
	if err != nil {
		t.Fatalf("NewVectorCache failed: %v", err)
	}
	openai := &fakeEmbedder{name: "openai"}
	cohere := &fakeEmbedder{name: "cohere"}
	a := newEmbedding(t, openai, cache, boq.MethodOpenAI)
	b := newEmbedding(t, cohere, cache, boq.MethodCohere)
	ctx := context.Background()

	if calls, err := a.Warm(ctx, sampleCatalog("v1")); err != nil || calls != 1 {
		t.Fatalf("initial warm = %d, %v", calls, err)
	}
	if calls, _ := a.Warm(ctx, sampleCatalog("v1")); calls != 0 {
		t.Fatalf("warm on unchanged catalog made %d calls", calls)
	}
	if calls, _ := a.Warm(ctx, sampleCatalog("v2")); calls != 1 {
		t.Fatalf("catalog version change should re-embed, got %d calls", calls)
	}
	if calls, _ := a.Warm(ctx, sampleCatalog("v1")); calls != 0 {
		t.Fatalf("warming v2 must not purge v1 vectors, got %d calls", calls)
	}
	if calls, _ := b.Warm(ctx, sampleCatalog("v2")); calls != 1 {
		t.Fatalf("provider switch should re-embed, got %d calls", calls)
	}
	if cache.Len() != 12 {
		t.Fatalf("cache should hold vectors per provider and version, got %d", cache.Len())
	}
	if _, ok := cache.Get("cohere", "v1", "e1"); ok {
		t.Fatal("cohere was never asked for v1 vectors")
	}
}

func TestEmbeddingCacheSmallerThanCatalogStillRanksEveryEntry(t *testing.T) {
	cache, err := provider.NewVectorCache(2)
	if err != nil {
		t.Fatalf("NewVectorCache failed: %v", err)
	}
	fake := &fakeEmbedder{name: "openai"}
	strategy := newEmbedding(t, fake, cache, boq.MethodOpenAI)
	req := provider.Request{Description: "Excavation in rock", Unit: "m3", Method: boq.MethodOpenAI, Catalog: sampleCatalog("v1")}

	for i := 0; i < 2; i++ {
		result, err := strategy.MatchItem(context.Background(), req)
		if err != nil {
			t.Fatalf("MatchItem %d failed: %v", i, err)
		}
		if result.Entry == nil || result.Entry.ID != "e2" {
			t.Fatalf("call %d: expected e2 despite evictions, got %+v", i, result.Entry)
		}
		if result.Usage.CacheHit {
			t.Fatalf("call %d: evicted entries cannot be a cache hit", i)
		}
	}
	if cache.Len() != 2 {
		t.Fatalf("cache should stay bounded, holds %d", cache.Len())
	}
}

func TestEmbeddingRetriesRateLimit(t *testing.T) {
	fake := &fakeEmbedder{name: "openai", failures: []error{&services.RateLimitError{Source: "openai"}}}
	strategy := newEmbedding(t, fake, nil, boq.MethodOpenAI)
	result, err := strategy.MatchItem(context.Background(), provider.Request{Description: "Emulsion paint", Catalog: sampleCatalog("v1")})
	if err != nil {
		t.Fatalf("MatchItem failed: %v", err)
	}
	if result.Entry == nil || result.Entry.ID != "e4" {
		t.Fatalf("expected e4, got %+v", result.Entry)
	}
	if result.Usage.APICalls != 3 {
		t.Fatalf("expected the failed attempt to be counted, got %d calls", result.Usage.APICalls)
	}
}

func TestEmbeddingSurfacesExhaustedProviderError(t *testing.T) {
	failure := &services.ProviderError{Provider: "openai", Temporary: true}
	fake := &fakeEmbedder{name: "openai", failures: []error{failure, failure, failure}}
	strategy := newEmbedding(t, fake, nil, boq.MethodOpenAI)
	_, err := strategy.MatchItem(context.Background(), provider.Request{Description: "Emulsion paint", Catalog: sampleCatalog("v1")})
	if !errors.Is(err, services.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if requests, _ := fake.counts(); requests != 3 {
		t.Fatalf("expected 3 attempts, got %d", requests)
	}
}

func TestEmbeddingEmptyCatalog(t *testing.T) {
	strategy := newEmbedding(t, &fakeEmbedder{name: "openai"}, nil, boq.MethodOpenAI)
	_, err := strategy.MatchItem(context.Background(), provider.Request{Description: "Emulsion paint", Catalog: &boq.Catalog{}})
	if !errors.Is(err, services.ErrEmptyCatalog) {
		t.Fatalf("expected empty catalog error, got %v", err)
	}
}

func TestDispatcherTopMatchesEmbedding(t *testing.T) {
	d := provider.NewDispatcher(provider.NewLocal(newSelector()), nil)
	d.Register(boq.MethodOpenAI, newEmbedding(t, &fakeEmbedder{name: "openai"}, nil, boq.MethodOpenAI))
	top, err := d.TopMatches(context.Background(), provider.Request{
		Description: "Excavation",
		Method:      boq.MethodOpenAI,
		Catalog:     sampleCatalog("v1"),
	}, 2)
	if err != nil {
		t.Fatalf("TopMatches failed: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 results, got %d", len(top))
	}
	for _, r := range top {
		if r.Entry == nil || !strings.HasPrefix(r.Entry.Description, "Excavation") {
			t.Fatalf("unexpected candidate %+v", r.Entry)
		}
	}
	if top[0].Confidence < top[1].Confidence {
		t.Fatal("results not ordered by confidence")
	}
}

func TestEmbeddingConcurrentWarmSharesRequests(t *testing.T) {
	fake := &fakeEmbedder{name: "openai"}
	strategy := newEmbedding(t, fake, nil, boq.MethodOpenAI)
	catalog := sampleCatalog("v1")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := strategy.MatchItem(context.Background(), provider.Request{Description: "Brick wall", Catalog: catalog}); err != nil {
				t.Errorf("MatchItem failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if _, inputs := fake.counts(); inputs < 4+8 || inputs > 8*4+8 {
		t.Fatalf("unexpected input count %d", inputs)
	}
}
