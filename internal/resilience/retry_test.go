package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsWithoutExhausting(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), 3, time.Millisecond, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	wantErr := errors.New("always fails")
	calls := 0
	_, err := Retry(context.Background(), 3, time.Millisecond, func() (int, error) {
		calls++
		return 0, wantErr
	})
	if err != wantErr {
		t.Fatalf("expected last error returned, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryZeroAttemptsReturnsImmediately(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), 0, time.Millisecond, func() (int, error) {
		calls++
		return 0, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected fn never called, got %d calls", calls)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, 5, 50*time.Millisecond, func() (int, error) {
		return 0, errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected an error when context is already cancelled before a retry sleep")
	}
}
