package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/idverify/internal/logging"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(3), zap.NewNop(), "cache.set", "req", func() error {
		attempts++
		if attempts < 3 {
			return timeoutError{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(2), zap.NewNop(), "cache.set", "req", func() error {
		attempts++
		return timeoutError{}
	})
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "cache.set" {
		t.Fatalf("expected OperationError, got %v", err)
	}
}

func TestDoStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{Attempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	attempts := 0
	err := Do(ctx, policy, zap.NewNop(), "db.save", "req", func() error {
		attempts++
		cancel()
		return timeoutError{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestDoSingleAttempt(t *testing.T) {
	if err := Do(context.Background(), Policy{Attempts: 1}, zap.NewNop(), "op", "", func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":      {nil, false},
		"plain":    {errors.New("boom"), false},
		"deadline": {fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		"timeout":  {timeoutError{}, true},
	}
	for name, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", name, got, tc.want)
		}
	}
}

var errMiss = errors.New("miss")

func TestDoExpectedErrorIsNotLoggedAsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	policy := fastPolicy(3)
	policy.Expected = func(err error) bool { return errors.Is(err, errMiss) }

	attempts := 0
	err := Do(context.Background(), policy, zap.New(core), "cache.get", "req", func() error {
		attempts++
		return errMiss
	})
	if !errors.Is(err, errMiss) {
		t.Fatalf("expected miss to be returned, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
	if n := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); n != 0 {
		t.Fatalf("expected no error logs, got %d", n)
	}
	if logs.FilterLevelExact(zapcore.DebugLevel).Len() != 1 {
		t.Fatalf("expected one debug entry, got %v", logs.All())
	}
}
