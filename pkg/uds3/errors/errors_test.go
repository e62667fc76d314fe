package errors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindTransient, "transient"},
		{KindPermanent, "permanent"},
		{KindConflict, "conflict"},
		{KindNotFound, "not_found"},
		{KindPolicyDenied, "policy_denied"},
		{KindNoBackend, "no_backend"},
		{KindUnavailable, "unavailable"},
		{KindQueueFull, "queue_full"},
		{KindLockLost, "lock_lost"},
		{KindCompensationFailed, "compensation_failed"},
		{KindCorruptEventLog, "corrupt_event_log"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind(%d).String() = %s, want %s", tt.kind, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil error", nil, KindPermanent},
		{"timeout error", &TimeoutError{Operation: "vector upsert", Duration: 5 * time.Second}, KindTransient},
		{"lock error", &LockError{SagaID: "s-1", OwnerToken: "t-1"}, KindLockLost},
		{"validation error", &ValidationError{Field: "payload.size", Message: "too large"}, KindPermanent},
		{"classified queue full", QueueFull(errors.New("queue at watermark"), ""), KindQueueFull},
		{"classified no backend", NoBackend(errors.New("no vector backend"), ""), KindNoBackend},
		{"unknown error", errors.New("unknown"), KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestError(t *testing.T) {
	t.Run("error message with context", func(t *testing.T) {
		err := New(KindTransient, errors.New("failed"), "backend call")
		expected := "backend call: failed (kind: transient, attempts: 0)"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("error message without context", func(t *testing.T) {
		err := &Error{Err: errors.New("failed"), Kind: KindTransient}
		if got := err.Error(); got != "failed (kind: transient, attempts: 0)" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		inner := errors.New("inner error")
		err := New(KindPermanent, inner, "test")
		if !errors.Is(err, inner) {
			t.Error("Unwrap should return inner error")
		}
	})
}

func TestConstructors(t *testing.T) {
	inner := errors.New("test error")

	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"Transient", Transient(inner, "ctx"), KindTransient},
		{"Permanent", Permanent(inner, "ctx"), KindPermanent},
		{"Conflict", Conflict(inner, "ctx"), KindConflict},
		{"NotFound", NotFound(inner, "ctx"), KindNotFound},
		{"PolicyDenied", PolicyDenied(inner, "ctx"), KindPolicyDenied},
		{"NoBackend", NoBackend(inner, "ctx"), KindNoBackend},
		{"Unavailable", Unavailable(inner, "ctx"), KindUnavailable},
		{"QueueFull", QueueFull(inner, "ctx"), KindQueueFull},
		{"LockLost", LockLost(inner, "ctx"), KindLockLost},
		{"CompensationFailed", CompensationFailed(inner, "ctx"), KindCompensationFailed},
		{"CorruptEventLog", CorruptEventLog(inner, "ctx"), KindCorruptEventLog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", tt.err.Kind, tt.kind)
			}
		})
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Operation: "vector upsert", Duration: 2 * time.Second}
	expected := "vector upsert timed out after 2s"
	if got := err.Error(); got != expected {
		t.Errorf("Error() = %q, want %q", got, expected)
	}
}

func TestLockError(t *testing.T) {
	t.Run("held by another owner", func(t *testing.T) {
		err := &LockError{SagaID: "s-1", OwnerToken: "a", HeldBy: "b"}
		expected := `saga s-1: lock held by "b", not "a"`
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})
}

func TestHelperFunctions(t *testing.T) {
	transient := &TimeoutError{Operation: "call", Duration: time.Second}
	queueFull := QueueFull(errors.New("full"), "")
	permanent := &ValidationError{Message: "bad field"}

	t.Run("IsRetryable", func(t *testing.T) {
		if !IsRetryable(transient) {
			t.Error("timeout should be retryable")
		}
		if !IsRetryable(queueFull) {
			t.Error("queue full should be retryable")
		}
		if IsRetryable(permanent) {
			t.Error("validation error should not be retryable")
		}
	})

	t.Run("IsTerminal", func(t *testing.T) {
		if IsTerminal(transient) {
			t.Error("timeout should not be terminal")
		}
		if !IsTerminal(permanent) {
			t.Error("validation error should be terminal")
		}
	})
}

func TestWithRetry(t *testing.T) {
	t.Run("success on first try", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(WithMaxAttempts(3))
		result := WithRetry(cfg, func() (string, error) {
			calls++
			return "success", nil
		})

		if result.Err != nil {
			t.Errorf("Unexpected error: %v", result.Err)
		}
		if result.Value != "success" {
			t.Errorf("Value = %q, want %q", result.Value, "success")
		}
		if result.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", result.Attempts)
		}
		if calls != 1 {
			t.Errorf("Calls = %d, want 1", calls)
		}
	})

	t.Run("success on retry", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(
			WithMaxAttempts(3),
			WithInitialBackoff(1*time.Millisecond),
		)
		result := WithRetry(cfg, func() (string, error) {
			calls++
			if calls < 2 {
				return "", &TimeoutError{Operation: "call", Duration: time.Second}
			}
			return "success", nil
		})

		if result.Err != nil {
			t.Errorf("Unexpected error: %v", result.Err)
		}
		if result.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", result.Attempts)
		}
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		cfg := NewRetryConfig(
			WithMaxAttempts(3),
			WithInitialBackoff(1*time.Millisecond),
		)
		result := WithRetry(cfg, func() (string, error) {
			return "", &TimeoutError{Operation: "call", Duration: time.Second}
		})

		if result.Err == nil {
			t.Error("Expected error after max attempts")
		}
		if result.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", result.Attempts)
		}
	})

	t.Run("non-retryable error stops immediately", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(WithMaxAttempts(3))
		result := WithRetry(cfg, func() (string, error) {
			calls++
			return "", &ValidationError{Message: "bad field"}
		})

		if result.Err == nil {
			t.Error("Expected error")
		}
		if calls != 1 {
			t.Errorf("Calls = %d, want 1 (should not retry permanent error)", calls)
		}
	})

	t.Run("custom retryable func", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(
			WithMaxAttempts(3),
			WithInitialBackoff(1*time.Millisecond),
			WithRetryableFunc(func(_ error) bool { return true }),
		)
		result := WithRetry(cfg, func() (string, error) {
			calls++
			return "", &ValidationError{Message: "bad field"}
		})

		if calls != 3 {
			t.Errorf("Calls = %d, want 3 (custom func should retry)", calls)
		}
		if result.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", result.Attempts)
		}
	})
}

func TestWithRetryContext(t *testing.T) {
	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		cfg := NewRetryConfig(WithMaxAttempts(3))
		result := WithRetryContext(ctx, cfg, func(_ context.Context) (string, error) {
			return "never reached", nil
		})

		if result.Err == nil {
			t.Error("Expected error from cancelled context")
		}
	})

	t.Run("cancellation during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0

		cfg := NewRetryConfig(
			WithMaxAttempts(5),
			WithInitialBackoff(100*time.Millisecond),
		)

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		result := WithRetryContext(ctx, cfg, func(_ context.Context) (string, error) {
			calls++
			return "", &TimeoutError{Operation: "call", Duration: time.Second}
		})

		if result.Err == nil {
			t.Error("Expected error from cancelled context")
		}
		if calls > 2 {
			t.Errorf("Calls = %d, expected <= 2 (should cancel during backoff)", calls)
		}
	})
}

func TestNewRetryConfig(t *testing.T) {
	cfg := NewRetryConfig(
		WithMaxAttempts(5),
		WithInitialBackoff(2*time.Second),
		WithMaxBackoff(60*time.Second),
		WithBackoffFactor(3.0),
		WithJitter(0.2),
	)

	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 2*time.Second {
		t.Errorf("InitialBackoff = %v, want 2s", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 60*time.Second {
		t.Errorf("MaxBackoff = %v, want 60s", cfg.MaxBackoff)
	}
	if cfg.BackoffFactor != 3.0 {
		t.Errorf("BackoffFactor = %f, want 3.0", cfg.BackoffFactor)
	}
	if cfg.Jitter != 0.2 {
		t.Errorf("Jitter = %f, want 0.2", cfg.Jitter)
	}
}
