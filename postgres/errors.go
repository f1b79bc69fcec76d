// Package postgres provides an asynchronous PostgreSQL client: a bounded
// connection pool, a non-blocking query executor, and a transaction manager
// with retry and commit/rollback callbacks.
package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Code is a closed taxonomy of error kinds this package can return.
type Code string

const (
	// CodeConfigurationError means the connection string or pool
	// configuration was invalid at construction time.
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	// CodePoolClosed means Acquire was called after Close.
	CodePoolClosed Code = "POOL_CLOSED"
	// CodeConnectionOpenFailed means the wire driver could not establish
	// a new connection.
	CodeConnectionOpenFailed Code = "CONNECTION_OPEN_FAILED"
	// CodeBadPlaceholders means the SQL mixed placeholder dialects or had
	// a mispositioned unnamed placeholder.
	CodeBadPlaceholders Code = "BAD_PLACEHOLDERS"
	// CodeQueryError means the executor got a failing result from the server.
	CodeQueryError Code = "QUERY_ERROR"
	// CodeTransactionError means BEGIN/COMMIT failed, or a commit/rollback
	// callback raised.
	CodeTransactionError Code = "TRANSACTION_ERROR"
	// CodeTransactionFailed means a transaction exhausted all attempts.
	CodeTransactionFailed Code = "TRANSACTION_FAILED"
	// CodeNotInTransaction means onCommit/onRollback was called outside
	// any active transaction.
	CodeNotInTransaction Code = "NOT_IN_TRANSACTION"
	// CodeBadArgument means a precondition on a public call was violated,
	// e.g. attempts < 1.
	CodeBadArgument Code = "BAD_ARGUMENT"
)

// String implements fmt.Stringer.
func (c Code) String() string {
	return string(c)
}

// AttemptRecord describes one attempt of a retried transaction.
type AttemptRecord struct {
	Attempt       int
	ErrorMessage  string
	ElapsedSeconds float64
}

// Error is the error type returned by every public operation in this
// package. It carries a Code, an optional wrapped cause, and kind-specific
// fields (SQL/Params for QueryError, Attempts for TransactionFailed).
type Error struct {
	code    Code
	message string
	cause   error

	// QueryError fields.
	sql    string
	params []any

	// TransactionFailed fields.
	attempts []AttemptRecord
}

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{code: code, message: message, cause: cause}
}

// WithQuery attaches the SQL and parameters to a QueryError.
func (e *Error) WithQuery(sql string, params []any) *Error {
	e.sql = sql
	e.params = params
	return e
}

// WithAttempts attaches the per-attempt history to a TransactionFailed error.
func (e *Error) WithAttempts(attempts []AttemptRecord) *Error {
	e.attempts = attempts
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Code returns the error code.
func (e *Error) Code() Code {
	return e.code
}

// Message returns the human readable message, without the code or cause.
func (e *Error) Message() string {
	return e.message
}

// SQL returns the offending SQL statement for a QueryError, if set.
func (e *Error) SQL() string {
	return e.sql
}

// Params returns the query parameters for a QueryError, if set.
func (e *Error) Params() []any {
	return e.params
}

// Attempts returns the per-attempt history for a TransactionFailed error.
func (e *Error) Attempts() []AttemptRecord {
	return e.attempts
}

// Unwrap enables errors.Unwrap/errors.Is/errors.As against the cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.code == other.code
	}
	return false
}

// IsError reports whether err is an *Error.
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// AsError extracts an *Error from err, or returns nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// GetCode returns the Code of err, or "" if err is not an *Error.
func GetCode(err error) Code {
	if e := AsError(err); e != nil {
		return e.Code()
	}
	return ""
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code Code) bool {
	if e := AsError(err); e != nil {
		return e.Code() == code
	}
	return false
}

// Convenience predicates for the closed taxonomy.

func IsPoolClosed(err error) bool           { return IsCode(err, CodePoolClosed) }
func IsConnectionOpenFailed(err error) bool { return IsCode(err, CodeConnectionOpenFailed) }
func IsBadPlaceholders(err error) bool      { return IsCode(err, CodeBadPlaceholders) }
func IsQueryError(err error) bool           { return IsCode(err, CodeQueryError) }
func IsTransactionError(err error) bool     { return IsCode(err, CodeTransactionError) }
func IsTransactionFailed(err error) bool    { return IsCode(err, CodeTransactionFailed) }
func IsNotInTransaction(err error) bool     { return IsCode(err, CodeNotInTransaction) }
func IsBadArgument(err error) bool          { return IsCode(err, CodeBadArgument) }

// PostgreSQL SQLSTATE codes used to classify server errors (retryable
// serialization/deadlock failures and constraint violations).
// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateForeignKeyViolation  = "23503"
	sqlStateCheckViolation       = "23514"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// IsSerialization reports whether err (or its cause) is a PostgreSQL
// serialization failure (SQLSTATE 40001). Layered on top of the generic
// retry loop in the transaction manager for callers that want to retry
// only on genuinely retryable server errors.
func IsSerialization(err error) bool {
	return sqlState(err) == sqlStateSerializationFailure
}

// IsDeadlock reports whether err (or its cause) is a PostgreSQL deadlock
// (SQLSTATE 40P01).
func IsDeadlock(err error) bool {
	return sqlState(err) == sqlStateDeadlockDetected
}

// IsUniqueViolation reports whether err (or its cause) is a unique
// constraint violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	return sqlState(err) == sqlStateUniqueViolation
}

// IsForeignKeyViolation reports whether err (or its cause) is a foreign key
// constraint violation (SQLSTATE 23503).
func IsForeignKeyViolation(err error) bool {
	return sqlState(err) == sqlStateForeignKeyViolation
}

// IsCheckViolation reports whether err (or its cause) is a check constraint
// violation (SQLSTATE 23514).
func IsCheckViolation(err error) bool {
	return sqlState(err) == sqlStateCheckViolation
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
