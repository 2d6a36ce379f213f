package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestRetry_RetriesStorageFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), 3, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, Storage("get user", errors.New("connection reset"))
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != 7 || calls != 3 {
		t.Fatalf("expected 7 after 3 calls, got %d after %d", got, calls)
	}
}

func TestRetry_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := RetryErr(context.Background(), 2, func() error {
		calls++
		return Storage("append", errors.New("timeout"))
	})
	if !IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetry_DoesNotRetryDomainErrors(t *testing.T) {
	calls := 0
	err := RetryErr(context.Background(), 5, func() error {
		calls++
		return ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestStorageError(t *testing.T) {
	cause := errors.New("disk full")
	err := Storage("append transaction", cause)

	if !errors.Is(err, ErrStorage) || !errors.Is(err, cause) {
		t.Fatalf("expected error to match ErrStorage and its cause: %v", err)
	}
	if Storage("noop", nil) != nil {
		t.Fatalf("expected nil for nil cause")
	}
}
