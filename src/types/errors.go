package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy used by the recovery middleware. Errors
// are tagged at the point of failure so classification is a switch on the
// kind, not substring matching on messages.
type ErrorKind string

const (
	KindDatabase   ErrorKind = "database"
	KindValidation ErrorKind = "validation"
	KindSession    ErrorKind = "session"
	KindLock       ErrorKind = "lock"
	KindPayment    ErrorKind = "payment"
	KindGeneric    ErrorKind = "generic"
)

type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewDatabaseError(err error) *AppError {
	return &AppError{Kind: KindDatabase, Message: "database operation failed", Err: err}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Kind: KindValidation, Message: msg}
}

func NewSessionError(msg string) *AppError {
	return &AppError{Kind: KindSession, Message: msg}
}

func NewLockConflictError(email string, eventID uint) *AppError {
	return &AppError{
		Kind:    KindLock,
		Message: fmt.Sprintf("registration for %s on event %d already in progress", email, eventID),
	}
}

func NewPaymentError(msg string, err error) *AppError {
	return &AppError{Kind: KindPayment, Message: msg, Err: err}
}

// Classify maps any error onto the taxonomy. Untagged errors fall through
// to the generic kind.
func Classify(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindGeneric
}

// UserMessage returns the fixed user-safe message for a kind. Raw error text
// is never surfaced to clients.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case KindDatabase:
		return "A temporary problem occurred. Please try again in a moment."
	case KindValidation:
		return "Some of the submitted details were invalid. Please review and resubmit."
	case KindSession:
		return "Your checkout session has expired. Please start again."
	case KindLock:
		return "A registration for this attendee is already being processed. Please wait a moment and retry."
	case KindPayment:
		return "The payment could not be processed. You have not been charged."
	default:
		return "Something went wrong while processing your registration. Please try again."
	}
}
