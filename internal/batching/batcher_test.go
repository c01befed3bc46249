package batching_test

import (
	"testing"
	"time"

	"boqmatch/internal/batching"
	"boqmatch/internal/boq"
)

func newBatcher() *batching.Batcher {
	return batching.New(batching.DefaultConfig())
}

func record(b *batching.Batcher, job string, perItem time.Duration, n int) {
	for i := 0; i < n; i++ {
		b.RecordBatchPerformance(job, boq.MethodLocal, 10, perItem*10, 10)
	}
}

func TestInitialSizeUntilEnoughSamples(t *testing.T) {
	b := newBatcher()
	if got := b.OptimalBatchSize("job", boq.MethodLocal); got != 10 {
		t.Fatalf("initial size = %d, want 10", got)
	}
	record(b, "job", time.Millisecond, 2)
	if got := b.OptimalBatchSize("job", boq.MethodLocal); got != 10 {
		t.Fatalf("size with 2 samples = %d, want unchanged 10", got)
	}
}

func TestFastBatchesGrowByStep(t *testing.T) {
	b := newBatcher()
	record(b, "job", 10*time.Millisecond, 3)
	if got := b.OptimalBatchSize("job", boq.MethodLocal); got != 15 {
		t.Fatalf("size = %d, want 15", got)
	}
	// No new sample: no further adjustment.
	if got := b.OptimalBatchSize("job", boq.MethodLocal); got != 15 {
		t.Fatalf("size without new sample = %d, want 15", got)
	}
}

func TestSlowBatchesShrinkByStep(t *testing.T) {
	b := newBatcher()
	record(b, "job", time.Second, 3)
	if got := b.OptimalBatchSize("job", boq.MethodLocal); got != 5 {
		t.Fatalf("size = %d, want 5", got)
	}
}

func TestWithinThresholdLeavesSizeAlone(t *testing.T) {
	b := newBatcher()
	record(b, "job", 210*time.Millisecond, 3)
	if got := b.OptimalBatchSize("job", boq.MethodLocal); got != 10 {
		t.Fatalf("size = %d, want 10", got)
	}
}

func TestSizeStaysWithinBounds(t *testing.T) {
	cfg := batching.DefaultConfig()
	b := batching.New(cfg)
	for i := 0; i < 100; i++ {
		record(b, "fast", time.Microsecond, 1)
		record(b, "slow", 5*time.Second, 1)
		fast := b.OptimalBatchSize("fast", boq.MethodLocal)
		slow := b.OptimalBatchSize("slow", boq.MethodLocal)
		for _, size := range []int{fast, slow} {
			if size < cfg.MinSize || size > cfg.MaxSize {
				t.Fatalf("size %d escaped [%d,%d]", size, cfg.MinSize, cfg.MaxSize)
			}
		}
	}
	if got := b.OptimalBatchSize("fast", boq.MethodLocal); got != cfg.MaxSize {
		t.Fatalf("fast job should settle at max, got %d", got)
	}
	if got := b.OptimalBatchSize("slow", boq.MethodLocal); got != cfg.MinSize {
		t.Fatalf("slow job should settle at min, got %d", got)
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	b := newBatcher()
	for i := 1; i <= 12; i++ {
		b.RecordBatchPerformance("job", boq.MethodOpenAI, i, time.Duration(i)*time.Second, i)
	}
	samples := b.Samples("job", boq.MethodOpenAI)
	if len(samples) != 10 {
		t.Fatalf("window holds %d samples, want 10", len(samples))
	}
	if samples[0].BatchSize != 3 || samples[9].BatchSize != 12 {
		t.Fatalf("unexpected window contents: first=%d last=%d", samples[0].BatchSize, samples[9].BatchSize)
	}
	if samples[0].AvgPerItem != time.Second {
		t.Fatalf("avg per item = %s", samples[0].AvgPerItem)
	}
}

func TestWindowsAreKeyedByMethodAndReset(t *testing.T) {
	b := newBatcher()
	record(b, "job", time.Millisecond, 3)
	if got := b.OptimalBatchSize("job", boq.MethodCohere); got != 10 {
		t.Fatalf("other method should be independent, got %d", got)
	}
	b.Reset("job")
	if b.Tracked() != 0 {
		t.Fatalf("expected no windows after reset, got %d", b.Tracked())
	}
	if len(b.Samples("job", boq.MethodLocal)) != 0 {
		t.Fatal("samples survived reset")
	}
}

func TestConfigIsCorrected(t *testing.T) {
	b := batching.New(batching.Config{InitialSize: 500, MinSize: 2, MaxSize: 20})
	if got := b.OptimalBatchSize("job", boq.MethodLocal); got != 20 {
		t.Fatalf("initial size should clamp to max, got %d", got)
	}
}
