package account

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the caller lacks the role an
	// operation requires, e.g. authorizing a balance as accounts receivable.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrValidation is returned when a request is missing required data.
	ErrValidation = errors.New("validation error")

	// ErrInsufficientPayment is returned when the tendered amount does not
	// cover the account deficit.
	ErrInsufficientPayment = errors.New("insufficient payment")

	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountClosed is returned for any write against a closed account.
	ErrAccountClosed = errors.New("account is closed")

	// ErrAccountChanged is returned when line items were appended between
	// reading an account and closing it.
	ErrAccountChanged = errors.New("account changed since it was loaded")

	// ErrCloseInProgress is returned when another close of the same account
	// holds the close lock.
	ErrCloseInProgress = errors.New("account close already in progress")
)

// ValidationError names the offending field of a rejected request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientPaymentError carries the deficit the payment failed to cover.
// CanDefer is set only for callers allowed to authorize accounts receivable,
// and adds the deferred-payment hint to the message.
type InsufficientPaymentError struct {
	Deficit  float64
	Tendered float64
	CanDefer bool
}

func (e *InsufficientPaymentError) Error() string {
	msg := fmt.Sprintf("payment of %s does not cover the outstanding balance of %s",
		FormatMoney(e.Tendered), FormatMoney(e.Deficit))
	if e.CanDefer {
		msg += "; the remaining balance can be authorized as accounts receivable"
	}
	return msg
}

func (e *InsufficientPaymentError) Unwrap() error { return ErrInsufficientPayment }

// PermissionError describes which role an operation required.
type PermissionError struct {
	Action string
	Role   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s requires role %q", e.Action, e.Role)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }
