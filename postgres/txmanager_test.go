package postgres

import (
	"context"
	"testing"
	"time"
)

// fakeStatements is a minimal in-memory stand-in for Execute, letting
// TxManager's retry/commit/rollback state machine be tested without a real
// server. It tracks which statements ran, in order, across all attempts.
type fakeStatements struct {
	log        []string
	failBegin  bool
	failCommit bool
}

func (f *fakeStatements) run(ctx context.Context, c *conn, logger *Logger, sql string, params []any, shape Shape) (*ShapedResult, error) {
	f.log = append(f.log, sql)
	switch sql {
	case "BEGIN":
		if f.failBegin {
			return nil, New(CodeQueryError, "begin failed")
		}
	case "COMMIT":
		if f.failCommit {
			return nil, New(CodeQueryError, "commit failed")
		}
	}
	return &ShapedResult{Affected: 0}, nil
}

func newFakeTxManager(t *testing.T, fake *fakeStatements) *TxManager {
	t.Helper()
	pool, _ := newTestPool(t, 1)
	return &TxManager{
		pool:   pool,
		cfg:    TxManagerConfig{RetryBaseDelay: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond},
		execFn: fake.run,
	}
}

func TestTxManager_SuccessfulTransactionCommitsOnce(t *testing.T) {
	t.Parallel()

	fake := &fakeStatements{}
	m := newFakeTxManager(t, fake)

	var commitFired, rollbackFired int
	err := m.Transaction(context.Background(), func(h *TxHandle) error {
		_ = h.OnCommit(func() { commitFired++ })
		_ = h.OnRollback(func() { rollbackFired++ })
		_, execErr := h.Execute("INSERT INTO t VALUES (1)")
		return execErr
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if commitFired != 1 {
		t.Fatalf("expected commit callback to fire once, got %d", commitFired)
	}
	if rollbackFired != 0 {
		t.Fatalf("expected no rollback callbacks, got %d", rollbackFired)
	}

	want := []string{"BEGIN", "INSERT INTO t VALUES (1)", "COMMIT"}
	if !equalStrings(fake.log, want) {
		t.Fatalf("got statement log %v, want %v", fake.log, want)
	}
}

func TestTxManager_CallbackErrorRollsBack(t *testing.T) {
	t.Parallel()

	fake := &fakeStatements{}
	m := newFakeTxManager(t, fake)

	var commitFired, rollbackFired int
	err := m.Transaction(context.Background(), func(h *TxHandle) error {
		_ = h.OnCommit(func() { commitFired++ })
		_ = h.OnRollback(func() { rollbackFired++ })
		return New(CodeQueryError, "user callback failed")
	})

	if !IsTransactionFailed(err) {
		t.Fatalf("expected TransactionFailed, got %v", err)
	}
	if commitFired != 0 {
		t.Fatalf("expected no commit callbacks, got %d", commitFired)
	}
	if rollbackFired != 1 {
		t.Fatalf("expected rollback callback to fire once, got %d", rollbackFired)
	}
}

func TestTxManager_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	fake := &fakeStatements{}
	m := newFakeTxManager(t, fake)

	attempts := 0
	err := m.Transaction(context.Background(), func(h *TxHandle) error {
		attempts++
		if attempts < 3 {
			return New(CodeQueryError, "nope")
		}
		return nil
	}, WithAttempts(3))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestTxManager_ExhaustedRetryReturnsFullHistory(t *testing.T) {
	t.Parallel()

	fake := &fakeStatements{}
	m := newFakeTxManager(t, fake)

	attempts := 0
	err := m.Transaction(context.Background(), func(h *TxHandle) error {
		attempts++
		return New(CodeQueryError, "always fails")
	}, WithAttempts(3))

	if !IsTransactionFailed(err) {
		t.Fatalf("expected TransactionFailed, got %v", err)
	}
	dbErr := AsError(err)
	if dbErr == nil {
		t.Fatalf("expected *Error")
	}
	if len(dbErr.Attempts()) != 3 {
		t.Fatalf("expected 3 attempt records, got %d", len(dbErr.Attempts()))
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestTxManager_ZeroAttemptsIsBadArgument(t *testing.T) {
	t.Parallel()

	fake := &fakeStatements{}
	m := newFakeTxManager(t, fake)

	err := m.Transaction(context.Background(), func(h *TxHandle) error { return nil }, WithAttempts(0))
	if !IsBadArgument(err) {
		t.Fatalf("expected BadArgument, got %v", err)
	}
}

func TestTxManager_BeginFailureIsRetried(t *testing.T) {
	t.Parallel()

	fake := &fakeStatements{failBegin: true}
	m := newFakeTxManager(t, fake)

	err := m.Transaction(context.Background(), func(h *TxHandle) error { return nil }, WithAttempts(2))
	if !IsTransactionFailed(err) {
		t.Fatalf("expected TransactionFailed, got %v", err)
	}
}

func TestTxManager_HandleInvalidAfterCallbackReturns(t *testing.T) {
	t.Parallel()

	fake := &fakeStatements{}
	m := newFakeTxManager(t, fake)

	var captured *TxHandle
	_ = m.Transaction(context.Background(), func(h *TxHandle) error {
		captured = h
		return nil
	})

	if _, err := captured.Execute("SELECT 1"); !IsNotInTransaction(err) {
		t.Fatalf("expected NotInTransaction for use after callback returns, got %v", err)
	}
}

func TestTxManager_IsolationLevelIncludedInBegin(t *testing.T) {
	t.Parallel()

	fake := &fakeStatements{}
	m := newFakeTxManager(t, fake)

	err := m.Transaction(context.Background(), func(h *TxHandle) error {
		return nil
	}, WithIsolationLevel(IsolationSerializable))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.log[0] != "BEGIN ISOLATION LEVEL SERIALIZABLE" {
		t.Fatalf("got first statement %q", fake.log[0])
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
