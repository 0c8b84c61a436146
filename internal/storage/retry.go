package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Write paths retry a few times on transient conflicts. Span upserts and
// evaluation patches are idempotent, so re-running the statement is safe.
const (
	writeRetries   = 3
	writeBaseDelay = 25 * time.Millisecond
)

// isRetriable reports whether err is a transient Postgres conflict:
// serialization_failure (40001) or deadlock_detected (40P01).
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// WithRetry executes fn, retrying up to maxRetries times on serialization
// or deadlock errors with jittered exponential backoff.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}

// withWriteRetry applies the standard write retry budget.
func (db *DB) withWriteRetry(ctx context.Context, fn func() error) error {
	return WithRetry(ctx, writeRetries, writeBaseDelay, fn)
}
