package service

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

var (
	ErrStudentNotFound     = errors.New("student not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrReceiptNotFound     = errors.New("receipt not found")

	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidStatus     = errors.New("invalid payment status")
	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrResetNotConfirmed = errors.New("reset requires confirmation")

	// ErrConflict means a concurrent writer won; the caller may retry.
	ErrConflict = store.ErrConflict
)

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError carries the field level problems of a rejected input.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ReceiptGenerationError wraps a failure to issue a receipt for a payment.
type ReceiptGenerationError struct {
	PaymentID string
	Err       error
}

func (e *ReceiptGenerationError) Error() string {
	return fmt.Sprintf("generate receipt for payment %s: %v", e.PaymentID, e.Err)
}

func (e *ReceiptGenerationError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means a requested record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrReceiptNotFound) ||
		errors.Is(err, store.ErrNotFound)
}

// IsValidation reports whether err was caused by caller input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrResetNotConfirmed) ||
		errors.Is(err, domain.ErrAmountOutOfBounds)
}

// IsRetryable reports whether the operation may succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, store.ErrConflict)
}

// IsTerminal reports whether err must be returned to the caller as is.
func IsTerminal(err error) bool {
	return err != nil && !IsRetryable(err)
}

// Error codes returned to API clients.
const (
	CodeValidation        = "validation_failed"
	CodeInvalidAmount     = "invalid_amount"
	CodeInvalidTransition = "invalid_transition"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeReceiptFailed     = "receipt_generation_failed"
	CodeInternal          = "internal"
)

// Code maps err to its client facing error code.
func Code(err error) string {
	var rge *ReceiptGenerationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, domain.ErrAmountOutOfBounds):
		return CodeInvalidAmount
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case IsValidation(err):
		return CodeValidation
	case IsNotFound(err):
		return CodeNotFound
	case IsRetryable(err):
		return CodeConflict
	case errors.As(err, &rge):
		return CodeReceiptFailed
	}
	return CodeInternal
}

// notFound translates a store miss into the given sentinel.
func notFound(err error, sentinel error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return errors.Wrap(sentinel, id)
	}
	return err
}
