package ctxn

import (
	"context"
	"errors"
	"syscall"
	"testing"
)

func TestShouldRetryNilIsFalse(t *testing.T) {
	if ShouldRetry(nil) {
		t.Fatalf("nil error should never be retryable")
	}
}

func TestShouldRetryContextCancellationIsFalse(t *testing.T) {
	if ShouldRetry(context.Canceled) {
		t.Fatalf("context.Canceled should not be retryable")
	}
	if ShouldRetry(context.DeadlineExceeded) {
		t.Fatalf("context.DeadlineExceeded should not be retryable")
	}
}

func TestShouldRetryPermanentSyscallErrorsAreFalse(t *testing.T) {
	if ShouldRetry(syscall.EROFS) {
		t.Fatalf("read-only filesystem error should not be retryable")
	}
	if ShouldRetry(syscall.ENOSPC) {
		t.Fatalf("out-of-space error should not be retryable")
	}
}

func TestShouldRetryOrdinaryErrorIsTrue(t *testing.T) {
	if !ShouldRetry(errors.New("connection reset by peer")) {
		t.Fatalf("an ordinary transient error should be retryable")
	}
}

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	txID := NewUUID()
	err := NewError(ErrCodeCommit, txID, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected Error to unwrap to its cause")
	}
}

func TestWithRollbackAnnotatesError(t *testing.T) {
	err := NewError(ErrCodeCompensationFatal, NewUUID(), errors.New("boom"))
	err = err.WithRollback(false)
	if !err.RollbackKnown || err.RollbackOK {
		t.Fatalf("expected RollbackKnown=true, RollbackOK=false, got %+v", err)
	}
}
