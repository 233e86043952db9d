// Package apperrors defines the closed error taxonomy shared by every
// connector, the secure wrapper, the vault and key recovery.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a closed classification of platform failures. Callers branch on
// Kind via errors.As, never on error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotConnected
	KindAlreadyConnected
	KindConnectionFailed
	KindConnectionClosed
	KindHealthCheckFailed
	KindCircuitBreakerOpen
	KindInvalidConfig
	KindTimeout
	KindTransactionFailed
	KindPreparedStatementFailed
	KindPermissionDenied
	KindNotFound
	KindIntegrityViolation
	KindUnsupportedBackend
	KindAuthenticationFailed
	KindRecoveryFailed
)

func (k Kind) String() string {
	switch k {
	case KindNotConnected:
		return "not_connected"
	case KindAlreadyConnected:
		return "already_connected"
	case KindConnectionFailed:
		return "connection_failed"
	case KindConnectionClosed:
		return "connection_closed"
	case KindHealthCheckFailed:
		return "health_check_failed"
	case KindCircuitBreakerOpen:
		return "circuit_breaker_open"
	case KindInvalidConfig:
		return "invalid_config"
	case KindTimeout:
		return "timeout"
	case KindTransactionFailed:
		return "transaction_failed"
	case KindPreparedStatementFailed:
		return "prepared_statement_failed"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindIntegrityViolation:
		return "integrity_violation"
	case KindUnsupportedBackend:
		return "unsupported_backend"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindRecoveryFailed:
		return "recovery_failed"
	default:
		return "unknown"
	}
}

// Error wraps an underlying failure with a Kind, the operation that
// produced it, and enough context to log without leaking secrets.
type Error struct {
	Kind      Kind
	Op        string
	Backend   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s: %s[%s]: %v", e.Op, e.Kind, e.Backend, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error rooted at op with the given kind, wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithBackend attaches the backend name (postgres/mysql/mongo/sqlite) and
// returns a new *Error, mirroring the teacher's immutable WithX builders.
func (e *Error) WithBackend(backend string) *Error {
	n := *e
	n.Backend = backend
	return &n
}

// WithRetryable marks the error as retryable and returns a new *Error.
func (e *Error) WithRetryable(retryable bool) *Error {
	n := *e
	n.Retryable = retryable
	return &n
}

// Of reports the Kind of err, or KindUnknown if err is not an *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is an *Error explicitly marked retryable,
// or a context deadline/cancellation (always safe to retry at a higher
// level with a fresh deadline).
func IsRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsKind reports whether err is an *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	return Of(err) == kind
}
