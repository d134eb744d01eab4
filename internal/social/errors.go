package social

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"promptdeck/api/internal/store"
)

var (
	// ErrUnauthenticated marks operations that require a principal.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrNotFound marks a missing prompt or profile reference.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports malformed caller input. Surfaced immediately,
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PartialRemixError reports a fork that was created before the source counter
// update failed. It carries the created prompt so the caller can still
// navigate to it; collapsing this into a generic failure would lose that.
type PartialRemixError struct {
	Created store.Prompt
	Err     error
}

func (e *PartialRemixError) Error() string {
	return fmt.Sprintf("remix %s created but source counter update failed: %v", e.Created.ID, e.Err)
}

func (e *PartialRemixError) Unwrap() error {
	return e.Err
}

const (
	transientAttempts = 2
	transientBackoff  = 100 * time.Millisecond
)

// retryTransient runs op up to transientAttempts times, backing off between
// attempts. Context cancellation and missing-row results are terminal and
// never retried.
func retryTransient(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < transientAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(transientBackoff):
			}
		}
		err = op()
		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return err
}
