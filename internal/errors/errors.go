package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Error kinds surfaced by the plan-change flow. Each sentinel is used with
// ErrorBuilder.Mark so callers can classify with errors.Is.
var (
	ErrValidation             = new(ErrCodeValidation, "validation error")
	ErrConflict               = new(ErrCodeConflict, "conflict")
	ErrPaymentFailed          = new(ErrCodePaymentFailed, "payment failed")
	ErrTransient              = new(ErrCodeTransient, "transient infrastructure error")
	ErrReconciliationRequired = new(ErrCodeReconciliationRequired, "reconciliation required")
	ErrBusinessRule           = new(ErrCodeBusinessRule, "business rule violation")
	ErrNotFound               = new(ErrCodeNotFound, "resource not found")
	ErrInvalidOperation       = new(ErrCodeInvalidOperation, "invalid operation")
	ErrSystem                 = new(ErrCodeSystemError, "system error")

	// Order matters: the first match wins in KindOf and HTTPStatusFromErr.
	kinds = []*InternalError{
		ErrReconciliationRequired,
		ErrValidation,
		ErrBusinessRule,
		ErrConflict,
		ErrPaymentFailed,
		ErrTransient,
		ErrNotFound,
		ErrInvalidOperation,
		ErrSystem,
	}

	statusCodeMap = map[string]int{
		ErrCodeValidation:             http.StatusBadRequest,
		ErrCodeConflict:               http.StatusConflict,
		ErrCodePaymentFailed:          http.StatusPaymentRequired,
		ErrCodeTransient:              http.StatusServiceUnavailable,
		ErrCodeReconciliationRequired: http.StatusInternalServerError,
		ErrCodeBusinessRule:           http.StatusUnprocessableEntity,
		ErrCodeNotFound:               http.StatusNotFound,
		ErrCodeInvalidOperation:       http.StatusBadRequest,
		ErrCodeSystemError:            http.StatusInternalServerError,
	}
)

const (
	ErrCodeValidation             = "validation_error"
	ErrCodeConflict               = "conflict"
	ErrCodePaymentFailed          = "payment_failed"
	ErrCodeTransient              = "transient"
	ErrCodeReconciliationRequired = "reconciliation_required"
	ErrCodeBusinessRule           = "business_rule"
	ErrCodeNotFound               = "not_found"
	ErrCodeInvalidOperation       = "invalid_operation"
	ErrCodeSystemError            = "system_error"
)

// InternalError represents a classified error kind
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

// KindOf returns the taxonomy code for err, or ErrCodeSystemError when the
// error carries no mark.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Code
		}
	}
	return ErrCodeSystemError
}

// Marked reports whether err already carries a taxonomy mark.
func Marked(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsPaymentFailed(err error) bool {
	return errors.Is(err, ErrPaymentFailed)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsReconciliationRequired(err error) bool {
	return errors.Is(err, ErrReconciliationRequired)
}

func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrBusinessRule)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func HTTPStatusFromErr(err error) int {
	if status, ok := statusCodeMap[KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
