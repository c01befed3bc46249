package metrics_test

import (
	"math"
	"testing"
	"time"

	"boqmatch/internal/boq"
	"boqmatch/internal/metrics"
)

func newRecorder(t *testing.T, cfg metrics.Config) *metrics.Recorder {
	t.Helper()
	r, err := metrics.NewRecorder(cfg)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	return r
}

func entry(row int, confidence float64) metrics.Entry {
	e := boq.CatalogEntry{ID: "c"}
	result := boq.MatchResult{RowNumber: row, Confidence: confidence}
	if confidence > 0 {
		result.Entry = &e
	}
	return metrics.Entry{RowNumber: row, Result: result, ProcessingTime: 10 * time.Millisecond}
}

func TestJobStatsAggregates(t *testing.T) {
	r := newRecorder(t, metrics.DefaultConfig())
	confidences := []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1.0}
	for i, c := range confidences {
		e := entry(i+1, c)
		e.CacheHit = i%2 == 0
		e.APICalls = 2
		r.LogMatch("job", e)
	}
	failed := metrics.Entry{RowNumber: 7, Result: boq.MatchResult{RowNumber: 7, ErrorNote: "provider unavailable"}}
	r.LogMatch("job", failed)
	r.RecordBatch("job", 5, 100*time.Millisecond)
	r.RecordBatch("job", 2, 300*time.Millisecond)

	stats, ok := r.JobStats("job")
	if !ok {
		t.Fatal("expected stats")
	}
	if stats.Matches != 7 || stats.Matched != 6 || stats.Errors != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if math.Abs(stats.AvgConfidence-3.5/7) > 1e-9 {
		t.Fatalf("avg confidence = %v", stats.AvgConfidence)
	}
	if math.Abs(stats.CacheHitRate-3.0/7) > 1e-9 {
		t.Fatalf("cache hit rate = %v", stats.CacheHitRate)
	}
	if stats.APICalls != 12 {
		t.Fatalf("api calls = %d", stats.APICalls)
	}
	if stats.Batches != 2 || stats.AvgBatchDuration != 200*time.Millisecond {
		t.Fatalf("batch stats = %d / %s", stats.Batches, stats.AvgBatchDuration)
	}
	want := []int{2, 1, 1, 1, 2}
	for i, bucket := range stats.Histogram {
		if bucket.Count != want[i] {
			t.Fatalf("bucket %d [%v,%v) = %d, want %d", i, bucket.Lower, bucket.Upper, bucket.Count, want[i])
		}
	}
	if stats.LowConfidence != 3 {
		t.Fatalf("low confidence = %d, want 3", stats.LowConfidence)
	}
}

func TestHistogramLowerBoundsAreInclusive(t *testing.T) {
	r := newRecorder(t, metrics.DefaultConfig())
	for i, c := range []float64{0.2, 0.4, 0.6, 0.8, 1.0} {
		r.LogMatch("job", entry(i+1, c))
	}
	stats, ok := r.JobStats("job")
	if !ok {
		t.Fatal("expected stats")
	}
	want := []int{0, 1, 1, 1, 2}
	for i, bucket := range stats.Histogram {
		if bucket.Count != want[i] {
			t.Fatalf("bucket %d [%v,%v) = %d, want %d", i, bucket.Lower, bucket.Upper, bucket.Count, want[i])
		}
	}
}

func TestLogEvictsOldestButKeepsAggregates(t *testing.T) {
	r := newRecorder(t, metrics.Config{LogCapacity: 3})
	for i := 1; i <= 5; i++ {
		r.LogMatch("job", entry(i, 0.9))
	}
	recent := r.Recent("job", 0)
	if len(recent) != 3 {
		t.Fatalf("log holds %d entries, want 3", len(recent))
	}
	if recent[0].RowNumber != 3 || recent[2].RowNumber != 5 {
		t.Fatalf("unexpected log order: %d..%d", recent[0].RowNumber, recent[2].RowNumber)
	}
	if stats, _ := r.JobStats("job"); stats.Matches != 5 {
		t.Fatalf("aggregates lost evicted entries: %d", stats.Matches)
	}
	if last := r.Recent("job", 1); len(last) != 1 || last[0].RowNumber != 5 {
		t.Fatalf("Recent(1) = %+v", last)
	}
}

func TestReviewListKeepsLowestConfidence(t *testing.T) {
	r := newRecorder(t, metrics.Config{ReviewCapacity: 2, LowConfidenceThreshold: 0.6})
	r.LogMatch("job", entry(1, 0.4))
	r.LogMatch("job", entry(2, 0.9))
	r.LogMatch("job", entry(3, 0.1))
	r.LogMatch("job", entry(4, 0.3))
	review := r.Review("job")
	if len(review) != 2 {
		t.Fatalf("review holds %d entries, want 2", len(review))
	}
	if review[0].RowNumber != 3 || review[1].RowNumber != 4 {
		t.Fatalf("unexpected review rows: %d, %d", review[0].RowNumber, review[1].RowNumber)
	}
	for _, e := range review {
		if !e.Flagged {
			t.Fatalf("row %d not flagged", e.RowNumber)
		}
	}
}

func TestFinalizeKeepsSnapshot(t *testing.T) {
	r := newRecorder(t, metrics.Config{FinishedJobs: 1})
	r.LogMatch("a", entry(1, 0.2))
	r.LogMatch("b", entry(1, 0.8))
	r.Finalize("a")
	if r.Active() != 1 {
		t.Fatalf("active jobs = %d, want 1", r.Active())
	}
	stats, ok := r.JobStats("a")
	if !ok || !stats.Finished || stats.Matches != 1 {
		t.Fatalf("unexpected snapshot: %+v ok=%v", stats, ok)
	}
	if len(r.Review("a")) != 1 {
		t.Fatal("review list should survive finalize")
	}
	if r.Recent("a", 0) != nil {
		t.Fatal("per-item log should be released")
	}
	r.Finalize("b")
	if _, ok := r.JobStats("a"); ok {
		t.Fatal("oldest finished job should be evicted from the bounded cache")
	}
}
