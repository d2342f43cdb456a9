package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyID           = errors.New("empty id")
	ErrEmptyDescription  = errors.New("empty description")
	ErrEmptyCategory     = errors.New("empty category")
	ErrCategoryTooLong   = errors.New("category too long (max 100 characters)")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidType       = errors.New("invalid type: must be income or expense")
	ErrInvalidSource     = errors.New("invalid source")
	ErrInvalidPeriod     = errors.New("invalid period: expected YYYY-MM")
	ErrInvalidDate       = errors.New("invalid date: expected YYYY-MM-DD")
	ErrSignMismatch      = errors.New("amount sign does not agree with type")
	ErrNegativeEstimate  = errors.New("estimated amount cannot be negative")
	ErrNegativeTolerance = errors.New("tolerance cannot be negative")
	ErrDuplicateEnvelope = errors.New("envelope already exists for category, type and period")
	ErrEnvelopeNotFound  = errors.New("envelope not found")
)

// ValidationError rejects a single malformed input. It is never fatal to a batch.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Err.Error()
	}
	return fmt.Sprintf("validation: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AmbiguousMatchError is returned when more than one envelope shares a key.
// Nothing is reconciled in that case.
type AmbiguousMatchError struct {
	Key         EnvelopeKey
	EnvelopeIDs []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match for %s: envelopes %s", e.Key, strings.Join(e.EnvelopeIDs, ", "))
}

// UnmatchedTransactionWarning flags a stored transaction that no envelope absorbed.
// It is carried in results, not returned as a failure.
type UnmatchedTransactionWarning struct {
	TransactionID string
	Key           EnvelopeKey
}

func (w *UnmatchedTransactionWarning) Error() string {
	return fmt.Sprintf("transaction %s has no envelope for %s", w.TransactionID, w.Key)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAmbiguous reports whether err is (or wraps) an AmbiguousMatchError.
func IsAmbiguous(err error) bool {
	var ae *AmbiguousMatchError
	return errors.As(err, &ae)
}
