package retryutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoZeroRetriesCallsOnce(t *testing.T) {
	calls := 0
	want := errors.New("boom")
	err := Do(context.Background(), 0, time.Millisecond, func(context.Context, int) error {
		calls++
		return want
	})
	if !errors.Is(err, want) || calls != 1 {
		t.Fatalf("Do() = %v after %d calls", err, calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func(context.Context, int) error {
		calls++
		return fmt.Errorf("bad request: %w", ErrPermanent)
	})
	if !errors.Is(err, ErrPermanent) || calls != 1 {
		t.Fatalf("Do() = %v after %d calls", err, calls)
	}
}

func TestDoStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 5, 50*time.Millisecond, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("timeout")
	})
	if err == nil || calls != 1 {
		t.Fatalf("Do() = %v after %d calls", err, calls)
	}
}

func TestAsyncRetryRunsInBackground(t *testing.T) {
	done := make(chan struct{})
	AsyncRetry(nil, "test", time.Millisecond, time.Second, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("ctx has no deadline")
		}
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("AsyncRetry() never ran fn")
	}
}
