package booking

import (
	"errors"
	"fmt"
)

// Code classifies a booking failure for callers.
type Code string

const (
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeServiceNotFound      Code = "SERVICE_NOT_FOUND"
	CodeServiceAmbiguous     Code = "SERVICE_AMBIGUOUS"
	CodeCategoryMismatch     Code = "CATEGORY_MISMATCH"
	CodeResourceNotFound     Code = "RESOURCE_NOT_FOUND"
	CodeDateTooSoon          Code = "DATE_TOO_SOON"
	CodeOutsideBusinessHours Code = "OUTSIDE_BUSINESS_HOURS"
	CodeSlotTaken            Code = "SLOT_TAKEN"
	CodeCalendarError        Code = "CALENDAR_ERROR"
	CodePaymentError         Code = "PAYMENT_ERROR"
	CodeTransactionFailed    Code = "TRANSACTION_FAILED"

	CodeAppointmentNotFound Code = "APPOINTMENT_NOT_FOUND"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
)

// Error is returned by every Coordinator operation that fails for a reason
// the caller can act on.
type Error struct {
	Code      Code
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "booking: " + string(e.Code)
	}
	return fmt.Sprintf("booking: %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

func rejected(code Code, format string, args ...any) *Error {
	return newError(code, false, fmt.Errorf(format, args...))
}

// CodeOf returns the outermost booking code in err's chain, or "" when err
// is not a booking error.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Retryable
}

// Cause returns the step error wrapped by a TRANSACTION_FAILED, or err itself.
func Cause(err error) *Error {
	var be *Error
	if !errors.As(err, &be) {
		return nil
	}
	if be.Code == CodeTransactionFailed {
		var inner *Error
		if errors.As(be.Err, &inner) {
			return inner
		}
	}
	return be
}
