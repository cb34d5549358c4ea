package ledger

import (
	"errors"
	"fmt"
)

// ruleError is an expected business outcome. Callers compare against the
// sentinels below with errors.Is.
type ruleError string

func (e ruleError) Error() string { return string(e) }

// BusinessRule marks the error as a caller-recoverable outcome rather than
// an infrastructure failure.
func (ruleError) BusinessRule() bool { return true }

var (
	ErrInvalidArgument     error = ruleError("invalid argument")
	ErrNotFound            error = ruleError("not found")
	ErrInsufficientFunds   error = ruleError("insufficient funds")
	ErrPromotionInProgress error = ruleError("private branch promotion already running")

	ErrAccountNotFound     = fmt.Errorf("account does not exist: %w", ErrNotFound)
	ErrBranchNotFound      = fmt.Errorf("branch does not exist: %w", ErrNotFound)
	ErrOriginNotFound      = fmt.Errorf("origin account does not exist: %w", ErrNotFound)
	ErrDestinationNotFound = fmt.Errorf("destination account does not exist: %w", ErrNotFound)
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

// InternalError wraps a store or infrastructure failure. Its message names
// only the operation; the cause stays reachable through Unwrap.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string { return e.Op + ": internal failure" }

func (e *InternalError) Unwrap() error { return e.Err }

func internal(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}

// IsInternal reports whether err is an infrastructure failure.
func IsInternal(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}
