package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"boqmatch/internal/logging"
	"boqmatch/internal/services"
)

const (
	defaultReadAttempts  = 5
	defaultWriteAttempts = 2
	defaultInitialDelay  = 500 * time.Millisecond
	defaultMaxDelay      = 10 * time.Second
	defaultBackoffFactor = 2.0
)

// Policy controls how many times an operation runs and how long to wait
// between attempts.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// ReadPolicy returns the default policy for idempotent reads and provider calls.
func ReadPolicy() Policy {
	return Policy{
		MaxAttempts:   defaultReadAttempts,
		InitialDelay:  defaultInitialDelay,
		MaxDelay:      defaultMaxDelay,
		BackoffFactor: defaultBackoffFactor,
	}
}

// WritePolicy returns the default policy for mutating operations. It allows
// fewer attempts than ReadPolicy.
func WritePolicy() Policy {
	return Policy{
		MaxAttempts:   defaultWriteAttempts,
		InitialDelay:  defaultInitialDelay,
		MaxDelay:      defaultMaxDelay / 2,
		BackoffFactor: defaultBackoffFactor,
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before the retry that follows the given zero-based
// attempt: min(InitialDelay * BackoffFactor^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	raw := float64(p.InitialDelay) * math.Pow(factor, float64(attempt))
	if p.MaxDelay > 0 && raw > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if raw > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(raw)
}

func (p Policy) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Option customizes a single Do/Value call.
type Option func(*runner)

type runner struct {
	sleeper func(time.Duration)
	logger  *slog.Logger
	op      string
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(r *runner) {
		r.sleeper = sleeper
	}
}

// WithLogger logs each retry decision at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(r *runner) {
		r.logger = logger
	}
}

// WithOperation names the operation in logs and in the exhaustion error.
func WithOperation(op string) Option {
	return func(r *runner) {
		r.op = op
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or exhausts the
// policy. Only rate-limit and network class errors are retried.
func Do(ctx context.Context, policy Policy, op func(context.Context) error, opts ...Option) error {
	_, err := Value(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	r := &runner{op: "operation"}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.NewNop()
	}

	var zero T
	attempts := policy.attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		class := services.Classify(err)
		if class == services.ClassOther || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := policy.Delay(attempt)
		if hint := services.RetryAfter(err); hint > delay {
			delay = policy.capDelay(hint)
		}
		r.logger.Debug("retrying after transient failure",
			logging.String("operation", r.op),
			logging.Int("attempt", attempt+1),
			logging.Int("max_attempts", attempts),
			logging.String("error_class", class.String()),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	if attempts == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%s: failed after %d attempts: %w", r.op, attempts, lastErr)
}

func (r *runner) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if r.sleeper != nil {
		r.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
