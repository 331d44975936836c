package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "pingme/internal/errors"
	"pingme/internal/retry"

	"github.com/mattn/go-sqlite3"
)

// withRetry runs operation, retrying while SQLite reports a transient
// busy or locked condition. Any other error is returned unchanged.
func (d *Database) withRetry(ctx context.Context, operationName string, operation func() error) error {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: d.retryBackoff,
		MaxDelay:     d.maxBackoff,
		Multiplier:   2.0,
		MaxAttempts:  d.retryAttempts,
	})

	attempts := 0
	err := backoff.RetryWithPredicate(ctx, func() error {
		attempts++
		return operation()
	}, isRetryableDBError)
	if err != nil && isRetryableDBError(err) {
		return apperrors.WrapRetryable(err, apperrors.ErrCodeDatabaseQuery,
			fmt.Sprintf("%s failed after %d attempts", operationName, attempts)).
			WithUserMessage("The database is busy, please try again")
	}
	return err
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "disk I/O error")
}
