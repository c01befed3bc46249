package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"boqmatch/internal/batching"
	"boqmatch/internal/boq"
	"boqmatch/internal/jobs"
	"boqmatch/internal/matching"
	"boqmatch/internal/metrics"
	"boqmatch/internal/notifications"
	"boqmatch/internal/provider"
	"boqmatch/internal/store"
	"boqmatch/internal/testsupport"
)

type matcherFunc func(ctx context.Context, req provider.Request) (boq.MatchResult, error)

func (f matcherFunc) MatchItem(ctx context.Context, req provider.Request) (boq.MatchResult, error) {
	return f(ctx, req)
}

type harness struct {
	st      *store.Store
	coord   *jobs.Coordinator
	catalog *boq.Catalog
}

type harnessOptions struct {
	emptyCatalog bool
	wrapStore    func(*store.Store) jobs.Store
	wrapMatcher  func(h *harness, next provider.Matcher) provider.Matcher
	notifier     notifications.Service
}

// newHarness wires a coordinator over a fresh SQLite store with a fixed wave
// size of two and no real sleeps.
func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	h := &harness{st: testsupport.MustOpenStore(t, cfg)}
	if !opts.emptyCatalog {
		h.catalog = testsupport.MustSeedCatalog(t, h.st)
	}

	selector := matching.NewSelector(nil, matching.Options{})
	dispatcher := provider.NewDispatcher(provider.NewLocal(selector), h.st.ActiveCatalog)
	var matcher provider.Matcher = dispatcher
	if opts.wrapMatcher != nil {
		matcher = opts.wrapMatcher(h, dispatcher)
	}
	var st jobs.Store = h.st
	if opts.wrapStore != nil {
		st = opts.wrapStore(h.st)
	}

	batcher := batching.New(batching.Config{
		InitialSize:   2,
		MinSize:       2,
		MaxSize:       2,
		Step:          1,
		WindowSize:    4,
		MinSamples:    2,
		TargetPerItem: time.Second,
		Threshold:     0.2,
	})
	recorder, err := metrics.NewRecorder(metrics.DefaultConfig())
	if err != nil {
		t.Fatalf("metrics.NewRecorder failed: %v", err)
	}
	h.coord = jobs.New(st, matcher, batcher, recorder, jobs.Options{
		Concurrency: 4,
		Sleeper:     func(time.Duration) {},
		Notifier:    opts.notifier,
	})
	t.Cleanup(h.coord.Stop)
	return h
}

func (h *harness) job(t *testing.T, id string) *store.Job {
	t.Helper()
	job, err := h.st.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	return job
}

func (h *harness) results(t *testing.T, id string) map[int]boq.MatchResult {
	t.Helper()
	results, err := h.st.MatchResults(context.Background(), id)
	if err != nil {
		t.Fatalf("MatchResults failed: %v", err)
	}
	out := make(map[int]boq.MatchResult, len(results))
	for _, r := range results {
		out[r.RowNumber] = r
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []notifications.JobSummary
}

func (n *recordingNotifier) NotifyJobFinished(_ context.Context, job notifications.JobSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job)
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func (n *recordingNotifier) sent() []notifications.JobSummary {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.JobSummary(nil), n.jobs...)
}
