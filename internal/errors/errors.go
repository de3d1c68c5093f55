package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError carrying the same code. This lets
// callers match on the package sentinels with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message
func Newf(code, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsAppError checks if an error is, or wraps, an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the code of the outermost AppError in the chain, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Predefined error codes
const (
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeInvalidInput    = "INVALID_INPUT"

	// Estimation taxonomy
	CodeSchema              = "SCHEMA_ERROR"
	CodeInsufficientPeriods = "INSUFFICIENT_PERIODS"
	CodeSingularDesign      = "SINGULAR_DESIGN"
	CodeEmptyGroup          = "EMPTY_GROUP"
	CodeFitBudget           = "FIT_BUDGET"
)

// Sentinels for errors.Is matching by code.
var (
	ErrSchema              = New(CodeSchema, "schema error")
	ErrInsufficientPeriods = New(CodeInsufficientPeriods, "insufficient periods")
	ErrSingularDesign      = New(CodeSingularDesign, "singular design")
	ErrEmptyGroup          = New(CodeEmptyGroup, "empty group")
	ErrFitBudget           = New(CodeFitBudget, "fit budget exceeded")
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// SchemaError reports a missing or invalid input column.
func SchemaError(format string, args ...interface{}) *AppError {
	return Newf(CodeSchema, format, args...)
}

// InsufficientPeriods reports too few unique time points for a mode.
func InsufficientPeriods(format string, args ...interface{}) *AppError {
	return Newf(CodeInsufficientPeriods, format, args...)
}

// SingularDesign reports a rank-deficient design or degenerate variance.
func SingularDesign(format string, args ...interface{}) *AppError {
	return Newf(CodeSingularDesign, format, args...)
}

// EmptyGroup reports an empty treated x post cell.
func EmptyGroup(format string, args ...interface{}) *AppError {
	return Newf(CodeEmptyGroup, format, args...)
}

// FitBudget reports a fit that exceeded its time or size budget.
func FitBudget(format string, args ...interface{}) *AppError {
	return Newf(CodeFitBudget, format, args...)
}
