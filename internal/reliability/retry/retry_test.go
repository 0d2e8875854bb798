package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func fastConfig() *Config {
	return &Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(), testLogger(), "op",
		func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got %d after %d calls, want 42 after 3", got, calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	_, err := Do(context.Background(), fastConfig(), testLogger(), "op",
		func(context.Context) (int, error) {
			calls++
			return 0, boom
		})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped boom", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	cfg := fastConfig()
	fatal := errors.New("conflict")
	cfg.IsRetryable = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	_, err := Do(context.Background(), cfg, testLogger(), "op",
		func(context.Context) (int, error) {
			calls++
			return 0, fatal
		})
	if !errors.Is(err, fatal) {
		t.Errorf("error = %v, want the original error unwrapped", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on non-retryable errors)", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, fastConfig(), testLogger(), "op",
		func(context.Context) (int, error) {
			t.Error("function should not run with a cancelled context")
			return 0, nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
