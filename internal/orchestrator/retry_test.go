package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 30 * time.Second}, // capped
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_Do(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	fast := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	transientErr := errors.New("transient")
	permanentErr := errors.New("permanent")
	alwaysRetriable := func(error) bool { return true }

	t.Run("succeeds first try", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), logger, "op", func() error {
			calls++
			return nil
		}, alwaysRetriable, nil)
		if err != nil || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("retries transient then succeeds", func(t *testing.T) {
		calls := 0
		var failures []int
		err := fast.Do(context.Background(), logger, "op", func() error {
			calls++
			if calls < 3 {
				return transientErr
			}
			return nil
		}, alwaysRetriable, func(n int) { failures = append(failures, n) })
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
		if len(failures) != 2 || failures[0] != 1 || failures[1] != 2 {
			t.Errorf("failures = %v, want [1 2]", failures)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		var failures []int
		err := fast.Do(context.Background(), logger, "op", func() error {
			calls++
			return transientErr
		}, alwaysRetriable, func(n int) { failures = append(failures, n) })
		if !errors.Is(err, transientErr) {
			t.Errorf("err = %v, want wrapped transient", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want MaxAttempts", calls)
		}
		// The final failure is reported too: the persisted retry count
		// reaches the budget.
		if len(failures) != 3 || failures[2] != 3 {
			t.Errorf("failures = %v, want [1 2 3]", failures)
		}
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), logger, "op", func() error {
			calls++
			return permanentErr
		}, func(err error) bool { return !errors.Is(err, permanentErr) }, nil)
		if !errors.Is(err, permanentErr) {
			t.Errorf("err = %v, want permanent", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("cancelled context stops between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := Policy{MaxAttempts: 3, BaseDelay: time.Minute, Multiplier: 2}
		done := make(chan error, 1)
		go func() {
			done <- slow.Do(ctx, logger, "op", func() error { return transientErr }, alwaysRetriable, nil)
		}()
		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("err = %v, want context.Canceled", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Do() did not return after cancellation")
		}
	})
}
