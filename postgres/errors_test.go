package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestError_CodeAndPredicates(t *testing.T) {
	t.Parallel()

	err := New(CodePoolClosed, "pool is closed")
	if !IsPoolClosed(err) {
		t.Fatalf("expected IsPoolClosed to be true")
	}
	if IsQueryError(err) {
		t.Fatalf("expected IsQueryError to be false")
	}
	if GetCode(err) != CodePoolClosed {
		t.Fatalf("got code %v", GetCode(err))
	}
}

func TestError_WrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := Wrap(CodeQueryError, "executing query", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to unwrap to cause")
	}
	var dbErr *Error
	if !errors.As(err, &dbErr) {
		t.Fatalf("expected errors.As to find *Error")
	}
	if dbErr.Code() != CodeQueryError {
		t.Fatalf("got code %v", dbErr.Code())
	}
}

func TestError_WithQueryAndAttempts(t *testing.T) {
	t.Parallel()

	err := New(CodeQueryError, "failed").WithQuery("SELECT 1", []any{1, "x"})
	if err.SQL() != "SELECT 1" {
		t.Fatalf("got sql %q", err.SQL())
	}
	if len(err.Params()) != 2 {
		t.Fatalf("got params %v", err.Params())
	}

	history := []AttemptRecord{{Attempt: 1, ErrorMessage: "nope"}}
	txErr := New(CodeTransactionFailed, "exhausted").WithAttempts(history)
	if len(txErr.Attempts()) != 1 {
		t.Fatalf("got attempts %v", txErr.Attempts())
	}
}

func TestError_IsMatchesByCodeOnly(t *testing.T) {
	t.Parallel()

	a := New(CodeBadArgument, "one message")
	b := New(CodeBadArgument, "a different message")
	if !errors.Is(a, b) {
		t.Fatalf("expected two errors with the same code to match via errors.Is")
	}

	c := New(CodeConfigurationError, "other code")
	if errors.Is(a, c) {
		t.Fatalf("expected errors with different codes not to match")
	}
}

func TestSQLStateClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		code    string
		checkFn func(error) bool
	}{
		{"serialization", "40001", IsSerialization},
		{"deadlock", "40P01", IsDeadlock},
		{"unique_violation", "23505", IsUniqueViolation},
		{"foreign_key_violation", "23503", IsForeignKeyViolation},
		{"check_violation", "23514", IsCheckViolation},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := &pgconn.PgError{Code: tt.code}
			if !tt.checkFn(err) {
				t.Fatalf("expected %s to classify SQLSTATE %s", tt.name, tt.code)
			}
		})
	}

	if IsSerialization(errors.New("not a pg error")) {
		t.Fatalf("expected non-pg errors to not classify as serialization failures")
	}
}
