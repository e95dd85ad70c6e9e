package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

func fastConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestDoRetriesTemporaryCollaboratorFailure(t *testing.T) {
	var hooked []int
	exec := NewExecutor(fastConfig()).WithRetryHook(func(_ string, attempt int, _ error) {
		hooked = append(hooked, attempt)
	})

	attempts := 0
	err := exec.Do(context.Background(), "recognize", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &domain.CollaboratorError{Phase: domain.PhaseRecognize, Op: "ocr", Err: domain.WrapError(domain.ErrTemporary, "ocr", errors.New("503"))}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(hooked) != 2 || hooked[0] != 1 || hooked[1] != 2 {
		t.Fatalf("unexpected retry hook calls %v", hooked)
	}
}

func TestDoRetriesCallTimeoutAndGivesUp(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	err := exec.Do(context.Background(), "generate", func(context.Context) error {
		attempts++
		return &domain.CollaboratorError{Phase: domain.PhaseGenerate, Op: "generate", Err: domain.ErrCallTimeout}
	})
	if !domain.IsKind(err, domain.ErrCallTimeout) {
		t.Fatalf("expected call timeout error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected retry budget exhausted after 3 attempts, got %d", attempts)
	}
}

func TestDoDoesNotRetryNotFound(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	err := exec.Do(context.Background(), "fetch", func(context.Context) error {
		attempts++
		return &domain.CollaboratorError{Phase: domain.PhaseFetch, Op: "fetch", Err: domain.WrapError(domain.ErrNotFound, "fetch", fmt.Errorf("no such folder"))}
	})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errUpload := errors.New("bucket unavailable")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "upload", func(context.Context) error {
			return errUpload
		}, classifier)
		if !errors.Is(err, errUpload) {
			t.Fatalf("expected upload error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "upload", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestCollaboratorClassifier(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"temporary", domain.WrapError(domain.ErrTemporary, "op", errors.New("x")), true},
		{"timeout", &domain.CollaboratorError{Err: domain.ErrCallTimeout}, true},
		{"access", &domain.CollaboratorError{Err: domain.ErrAccess}, false},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := CollaboratorClassifier(tc.err).Retryable; got != tc.retryable {
			t.Fatalf("%s: expected retryable=%v, got %v", tc.name, tc.retryable, got)
		}
	}
}
