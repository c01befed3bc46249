package store

import (
	"context"
	"errors"
	"fmt"

	"boqmatch/internal/services"
)

// ErrInvalidTransition reports a status change the job lifecycle forbids.
var ErrInvalidTransition = fmt.Errorf("%w: invalid job status transition", services.ErrValidation)

// fail maps a backend error onto the services taxonomy. Errors already
// classified pass through unchanged.
func (s *Store) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, marker := range []error{services.ErrNotFound, services.ErrValidation, services.ErrRateLimited, services.ErrPersistence} {
		if errors.Is(err, marker) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if isNoRows(err) {
		return fmt.Errorf("%s: %w", op, services.ErrNotFound)
	}
	if s.b.throttled(err) {
		return &services.RateLimitError{Source: s.b.name(), Err: fmt.Errorf("%s: %w", op, err)}
	}
	return &services.PersistenceError{Op: op, Transient: s.b.transient(err), Err: err}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, services.ErrNotFound)
}
