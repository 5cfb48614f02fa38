// Package apperr defines the error taxonomy shared by the transfer engine.
//
// Every failure that can reach a client is an *Error carrying a Kind. The HTTP
// layer maps kinds to status codes; the retry policy uses IsRetryable to decide
// whether an attempt may be repeated.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	KindUnexpected Kind = iota
	KindAccountNotFound
	KindAccountLocked
	KindAuthFailed
	KindLockTimeout
	KindOptimisticConflict
	KindIdempotencyConflict
	KindValidation
	KindTransferFailed
)

var kindNames = map[Kind]string{
	KindUnexpected:          "UnexpectedError",
	KindAccountNotFound:     "AccountNotFound",
	KindAccountLocked:       "AccountLocked",
	KindAuthFailed:          "AuthFailed",
	KindLockTimeout:         "LockTimeout",
	KindOptimisticConflict:  "OptimisticConflict",
	KindIdempotencyConflict: "IdempotencyConflict",
	KindValidation:          "ValidationError",
	KindTransferFailed:      "TransferFailed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the typed failure returned by the engine.
type Error struct {
	Kind    Kind
	Message string
	// FailCount is set for KindAuthFailed.
	FailCount int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrAccountNotFound     = &Error{Kind: KindAccountNotFound, Message: "account not found"}
	ErrAccountLocked       = &Error{Kind: KindAccountLocked, Message: "account not available"}
	ErrAuthFailed          = &Error{Kind: KindAuthFailed, Message: "password mismatch"}
	ErrLockTimeout         = &Error{Kind: KindLockTimeout, Message: "lock timeout"}
	ErrOptimisticConflict  = &Error{Kind: KindOptimisticConflict, Message: "optimistic conflict"}
	ErrIdempotencyConflict = &Error{Kind: KindIdempotencyConflict, Message: "request already processing"}
	ErrValidation          = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrTransferFailed      = &Error{Kind: KindTransferFailed, Message: "transfer failed"}
)

func AccountNotFound(accountID int64) *Error {
	return &Error{Kind: KindAccountNotFound, Message: fmt.Sprintf("account not found. id = %d", accountID)}
}

func AccountLocked() *Error {
	return &Error{Kind: KindAccountLocked, Message: "account not available"}
}

func AuthFailed(failCount int) *Error {
	return &Error{
		Kind:      KindAuthFailed,
		Message:   fmt.Sprintf("account failed to validate, count = %d", failCount),
		FailCount: failCount,
	}
}

func LockTimeout(cause error) *Error {
	return &Error{Kind: KindLockTimeout, Message: "transaction failed due to lock timeout", Err: cause}
}

func OptimisticConflict(cause error) *Error {
	return &Error{Kind: KindOptimisticConflict, Message: "account was modified concurrently", Err: cause}
}

func IdempotencyConflict(key string) *Error {
	return &Error{Kind: KindIdempotencyConflict, Message: fmt.Sprintf("idempotent request already processing: %s", key)}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// TransferFailed wraps the last contention error after the retry budget is spent.
func TransferFailed(attempts int, last error) *Error {
	return &Error{
		Kind:    KindTransferFailed,
		Message: fmt.Sprintf("transfer gave up after %d attempts", attempts),
		Err:     last,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// IsRetryable reports whether err is a transient contention failure.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindLockTimeout, KindOptimisticConflict:
		return true
	default:
		return false
	}
}
