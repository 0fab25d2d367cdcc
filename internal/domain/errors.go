package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrPositionClosed = errors.New("position is closed")
	ErrLockHeld       = errors.New("lock already held")
	ErrStopped        = errors.New("engine stopped")
)

// ErrorKind classifies a lifecycle failure for callers that only need the
// coarse category (validation vs. execution vs. provider vs. internal).
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindExecution  ErrorKind = "execution"
	ErrorKindProvider   ErrorKind = "provider"
	ErrorKindInternal   ErrorKind = "internal"
	ErrorKindState      ErrorKind = "state"
)

// ValidationError reports a pre-execution check failure. It is always local:
// no adapter call has been made and no state has changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ExecutionError wraps a failed or reverted Execution Adapter call. The
// ledger guarantees no position state was committed when this is returned.
type ExecutionError struct {
	Op  string // "stake", "withdraw", "claim"
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ProviderError wraps a Market Snapshot Provider failure. Consumers skip the
// affected pair or position for the current cycle only.
type ProviderError struct {
	Protocol string
	Asset    string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Protocol == "" {
		return fmt.Sprintf("provider: asset %s: %v", e.Asset, e.Err)
	}
	return fmt.Sprintf("provider: %s/%s: %v", e.Protocol, e.Asset, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// InternalError wraps an unexpected failure inside a decision or scoring
// function. It is caught at the cycle boundary and treated as "no decision".
type InternalError struct {
	Component string
	Err       error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal: %s: %v", e.Component, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// KindOf maps an error to its ErrorKind. Unrecognized errors are classified
// as internal.
func KindOf(err error) ErrorKind {
	var ve *ValidationError
	var ee *ExecutionError
	var pe *ProviderError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ErrorKindValidation
	case errors.As(err, &ee):
		return ErrorKindExecution
	case errors.As(err, &pe):
		return ErrorKindProvider
	case errors.Is(err, ErrPositionClosed), errors.Is(err, ErrNotFound):
		return ErrorKindState
	default:
		return ErrorKindInternal
	}
}

// OpResult is the structured outcome returned by every public lifecycle
// operation on the ledger.
type OpResult struct {
	Success    bool
	Skipped    bool // operation was a deliberate no-op (e.g. compound below threshold)
	PositionID string
	TxHash     string
	GasUsed    float64
	Error      string
	ErrorKind  ErrorKind
}

// Fail builds a failed OpResult from an error, preserving its kind.
func Fail(positionID string, err error) OpResult {
	return OpResult{
		Success:    false,
		PositionID: positionID,
		Error:      err.Error(),
		ErrorKind:  KindOf(err),
	}
}
