package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"boqmatch/internal/retry"
	"boqmatch/internal/services"
)

func TestPolicyDelayGrowsAndCaps(t *testing.T) {
	p := retry.Policy{MaxAttempts: 6, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for attempt, expected := range want {
		if got := p.Delay(attempt); got != expected {
			t.Fatalf("Delay(%d) = %s, want %s", attempt, got, expected)
		}
	}
}

func TestWritePolicyIsStricterThanRead(t *testing.T) {
	if retry.WritePolicy().MaxAttempts >= retry.ReadPolicy().MaxAttempts {
		t.Fatalf("write attempts %d should be below read attempts %d",
			retry.WritePolicy().MaxAttempts, retry.ReadPolicy().MaxAttempts)
	}
}

func TestDoRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int
	var slept []time.Duration
	p := retry.Policy{MaxAttempts: 4, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 3}

	err := retry.Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return &services.RateLimitError{Source: "test"}
		}
		return nil
	}, retry.WithSleeper(func(d time.Duration) { slept = append(slept, d) }))
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(slept) != 2 || slept[0] != 10*time.Millisecond || slept[1] != 30*time.Millisecond {
		t.Fatalf("unexpected sleeps: %v", slept)
	}
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	var calls int
	err := retry.Do(context.Background(), retry.ReadPolicy(), func(context.Context) error {
		calls++
		return &services.ProviderError{Provider: "openai", StatusCode: 400}
	}, retry.WithSleeper(func(time.Duration) {}))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if !errors.Is(err, services.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestDoExhaustsAndKeepsClassification(t *testing.T) {
	var calls int
	p := retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	err := retry.Do(context.Background(), p, func(context.Context) error {
		calls++
		return &services.ProviderError{Provider: "openai", Temporary: true}
	}, retry.WithSleeper(func(time.Duration) {}), retry.WithOperation("embed"))
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if services.Classify(err) != services.ClassNetwork {
		t.Fatalf("expected network classification to survive, got %v", err)
	}
}

func TestDoHonoursRetryAfterHintUpToMax(t *testing.T) {
	var slept []time.Duration
	p := retry.Policy{MaxAttempts: 2, InitialDelay: 10 * time.Millisecond, MaxDelay: 2 * time.Second, BackoffFactor: 2}
	var calls int
	_ = retry.Do(context.Background(), p, func(context.Context) error {
		calls++
		return &services.RateLimitError{Source: "openai", RetryAfter: 30 * time.Second}
	}, retry.WithSleeper(func(d time.Duration) { slept = append(slept, d) }))
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("expected capped retry-after sleep, got %v", slept)
	}
}

func TestValueStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	_, err := retry.Value(ctx, retry.ReadPolicy(), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, &services.RateLimitError{Source: "test"}
	}, retry.WithSleeper(func(time.Duration) {}))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected retries to stop after cancellation, got %d calls", calls)
	}
}

func TestValueReturnsResult(t *testing.T) {
	got, err := retry.Value(context.Background(), retry.ReadPolicy(), func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Value = %q, %v", got, err)
	}
}
