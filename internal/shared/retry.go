// Package shared holds helpers used by more than one storage layer.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "modernc.org/sqlite/lib"
)

// Conflict retry defaults: 3 attempts with 100ms, 200ms backoff between them.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 100 * time.Millisecond
)

// coded matches *sqlite.Error from modernc.org/sqlite.
type coded interface {
	Code() int
}

// IsConflict reports whether err carries SQLITE_BUSY or SQLITE_LOCKED,
// including their extended codes such as SQLITE_BUSY_SNAPSHOT.
func IsConflict(err error) bool {
	var ce coded
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// RetryOnConflict runs fn until it succeeds, returns a non-conflict error, or
// the attempts are used up. Backoff doubles after every conflict.
func RetryOnConflict(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < DefaultRetryAttempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsConflict(err) || i == DefaultRetryAttempts-1 {
			break
		}

		delay := DefaultRetryDelay * time.Duration(1<<i)
		slog.Debug("SQLite conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
