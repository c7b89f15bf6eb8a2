package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite3 "modernc.org/sqlite/lib"
)

// codeError mimics the driver's coded error.
type codeError struct{ code int }

func (e *codeError) Error() string { return fmt.Sprintf("sqlite error %d", e.code) }
func (e *codeError) Code() int     { return e.code }

func busy() error { return &codeError{code: sqlite3.SQLITE_BUSY} }

func TestIsConflict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", busy(), true},
		{"locked", &codeError{code: sqlite3.SQLITE_LOCKED}, true},
		{"busy snapshot", &codeError{code: sqlite3.SQLITE_BUSY_SNAPSHOT}, true},
		{"wrapped", fmt.Errorf("upsert trip: %w", busy()), true},
		{"constraint", &codeError{code: sqlite3.SQLITE_CONSTRAINT}, false},
		{"message only", errors.New("database is locked (5) (SQLITE_BUSY)"), false},
	}
	for _, tt := range tests {
		if got := IsConflict(tt.err); got != tt.want {
			t.Fatalf("%s: IsConflict(%v) = %v, want %v", tt.name, tt.err, got, tt.want)
		}
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), "record trip", func() error {
		calls++
		if calls < 2 {
			return busy()
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	err = RetryOnConflict(context.Background(), "record trip", func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected single attempt for non-conflict error, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), "record trip", func() error {
		calls++
		return &codeError{code: sqlite3.SQLITE_LOCKED}
	})
	if err == nil || calls != DefaultRetryAttempts {
		t.Fatalf("expected %d attempts, got err=%v calls=%d", DefaultRetryAttempts, err, calls)
	}
}

func TestRetryOnConflictStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryOnConflict(ctx, "record trip", busy)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
