package ir

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by ledger stores.
var (
	ErrChainNotFound = errors.New("chain not found")
	ErrEntryNotFound = errors.New("entry not found")

	// ErrSequenceConflict means another writer committed the sequence this
	// append tried to claim. The append engine reloads the tip and retries.
	ErrSequenceConflict = errors.New("sequence already committed")
)

// ErrorCode categorizes ledger errors for callers and operators.
type ErrorCode string

const (
	// ErrCodeValidation: malformed event, rejected before any append attempt.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// ErrCodeContention: the optimistic append exhausted its retry budget.
	ErrCodeContention ErrorCode = "CONTENTION"

	// ErrCodeStorageUnavailable: transient infrastructure fault.
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"

	// ErrCodeIntegrityViolation: hash or linkage mismatch. Never auto-corrected.
	ErrCodeIntegrityViolation ErrorCode = "INTEGRITY_VIOLATION"

	// ErrCodeSequenceGap: a sequence number is missing, which implies deletion.
	ErrCodeSequenceGap ErrorCode = "SEQUENCE_GAP_DETECTED"
)

// LedgerError is the structured error surfaced by every ledger component.
type LedgerError struct {
	Code    ErrorCode
	Message string
	ChainID string

	// Sequence is the affected entry, or -1 when not applicable.
	Sequence int64

	Details map[string]string
	Err     error
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)

	var ctx []string
	if e.ChainID != "" {
		ctx = append(ctx, "chain="+e.ChainID)
	}
	if e.Sequence >= 0 {
		ctx = append(ctx, fmt.Sprintf("seq=%d", e.Sequence))
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the operation as-is.
func (e *LedgerError) Retryable() bool {
	return e.Code == ErrCodeContention || e.Code == ErrCodeStorageUnavailable
}

// NewValidationError creates a VALIDATION_ERROR for field.
func NewValidationError(field, message string) *LedgerError {
	return &LedgerError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("%s: %s", field, message),
		Sequence: -1,
		Details:  map[string]string{"field": field},
	}
}

// NewContentionError creates a CONTENTION error after attempts failed tries.
func NewContentionError(chainID string, attempts int, cause error) *LedgerError {
	return &LedgerError{
		Code:     ErrCodeContention,
		Message:  fmt.Sprintf("append lost the race %d times", attempts),
		ChainID:  chainID,
		Sequence: -1,
		Details:  map[string]string{"attempts": fmt.Sprintf("%d", attempts)},
		Err:      cause,
	}
}

// NewStorageUnavailableError wraps a storage failure.
func NewStorageUnavailableError(chainID, op string, cause error) *LedgerError {
	return &LedgerError{
		Code:     ErrCodeStorageUnavailable,
		Message:  op + " failed",
		ChainID:  chainID,
		Sequence: -1,
		Err:      cause,
	}
}

// NewIntegrityError creates an INTEGRITY_VIOLATION at seq.
func NewIntegrityError(chainID string, seq int64, message string) *LedgerError {
	return &LedgerError{
		Code:     ErrCodeIntegrityViolation,
		Message:  message,
		ChainID:  chainID,
		Sequence: seq,
	}
}

// NewSequenceGapError creates a SEQUENCE_GAP_DETECTED at the first missing seq.
func NewSequenceGapError(chainID string, seq int64, message string) *LedgerError {
	return &LedgerError{
		Code:     ErrCodeSequenceGap,
		Message:  message,
		ChainID:  chainID,
		Sequence: seq,
	}
}

// CodeOf returns the ErrorCode of err, or "" if err is not a LedgerError.
func CodeOf(err error) ErrorCode {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsValidationError reports whether err is a VALIDATION_ERROR.
func IsValidationError(err error) bool { return CodeOf(err) == ErrCodeValidation }

// IsContentionError reports whether err is a CONTENTION error.
func IsContentionError(err error) bool { return CodeOf(err) == ErrCodeContention }

// IsStorageUnavailable reports whether err is a STORAGE_UNAVAILABLE error.
func IsStorageUnavailable(err error) bool { return CodeOf(err) == ErrCodeStorageUnavailable }

// IsIntegrityViolation reports whether err is an INTEGRITY_VIOLATION.
func IsIntegrityViolation(err error) bool { return CodeOf(err) == ErrCodeIntegrityViolation }

// IsSequenceGap reports whether err is a SEQUENCE_GAP_DETECTED error.
func IsSequenceGap(err error) bool { return CodeOf(err) == ErrCodeSequenceGap }

// IsRetryable reports whether err is a retryable LedgerError.
func IsRetryable(err error) bool {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Retryable()
	}
	return false
}
