package policy

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so the transport layer can map them to
// status codes without string matching.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindForbidden         Kind = "FORBIDDEN"
	KindHardStopViolation Kind = "HARD_STOP_VIOLATION"
	KindNotFound          Kind = "NOT_FOUND"
	KindAuditUnavailable  Kind = "AUDIT_SINK_UNAVAILABLE"
)

// Code represents machine-readable reason codes for clear error reporting
type Code string

const (
	CodeInvalidRequest    Code = "INVALID_REQUEST"
	CodeAccessDenied      Code = "ACCESS_DENIED"
	CodeHardStopViolation Code = "HARD_STOP_VIOLATION"
	CodeNotFound          Code = "NOT_FOUND"
	CodeAuditUnavailable  Code = "AUDIT_SINK_UNAVAILABLE"
)

// Error carries the violation kind, reason code and the offending field
type Error struct {
	Kind    Kind
	Code    Code
	Field   string
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewValidationError reports malformed or out-of-range input naming the field
func NewValidationError(field, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeInvalidRequest,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewForbiddenError reports an actor role insufficient for the operation
func NewForbiddenError(role Role, required string) *Error {
	return &Error{
		Kind:    KindForbidden,
		Code:    CodeAccessDenied,
		Message: fmt.Sprintf("role %q is not permitted, requires one of: %s", role, required),
		Details: map[string]interface{}{
			"actor_role":     string(role),
			"required_roles": required,
		},
	}
}

// NewHardStopViolationError reports a restore that would weaken hard-stop
// protection. Always rejected, always audited as a security event.
func NewHardStopViolationError(message string, details map[string]interface{}) *Error {
	return &Error{
		Kind:    KindHardStopViolation,
		Code:    CodeHardStopViolation,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError reports a missing version, decision or trace
func NewNotFoundError(targetType, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %q not found", targetType, id),
		Details: map[string]interface{}{"target_type": targetType, "target_id": id},
	}
}

// NewAuditUnavailableError reports a rejected mutation whose audit record
// could not be written (fail-closed policy).
func NewAuditUnavailableError(action string, cause error) *Error {
	return &Error{
		Kind:    KindAuditUnavailable,
		Code:    CodeAuditUnavailable,
		Message: fmt.Sprintf("audit sink unavailable, %s rejected: %v", action, cause),
		Details: map[string]interface{}{"action": action},
	}
}

// KindOf extracts the error kind, or empty string for untyped errors
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
