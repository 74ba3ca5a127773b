package domain

import (
	"errors"
	"fmt"
)

// FailureReason classifies a ServiceError for callers
type FailureReason int

const (
	ReasonUnexpected FailureReason = iota
	ReasonBadRequest
	ReasonUnauthorized
	ReasonNotFound
	ReasonConflict
)

func (r FailureReason) String() string {
	switch r {
	case ReasonBadRequest:
		return "bad_request"
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonNotFound:
		return "not_found"
	case ReasonConflict:
		return "conflict"
	default:
		return "unexpected"
	}
}

// ServiceError is the typed failure returned by synchronous service operations
type ServiceError struct {
	Reason  FailureReason
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func newServiceError(reason FailureReason, format string, args ...any) error {
	return &ServiceError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// BadRequest reports input that is malformed or violates a precondition of the operation
func BadRequest(format string, args ...any) error {
	return newServiceError(ReasonBadRequest, format, args...)
}

// Unauthorized reports a caller that may not act on the addressed entity
func Unauthorized(format string, args ...any) error {
	return newServiceError(ReasonUnauthorized, format, args...)
}

// NotFound reports an entity that does not exist for the caller
func NotFound(format string, args ...any) error {
	return newServiceError(ReasonNotFound, format, args...)
}

// Conflict reports an entity whose current state or lease does not allow the operation
func Conflict(format string, args ...any) error {
	return newServiceError(ReasonConflict, format, args...)
}

// Unexpected reports a failure of the service itself or of a collaborator
func Unexpected(format string, args ...any) error {
	return newServiceError(ReasonUnexpected, format, args...)
}

// ReasonOf extracts the failure reason; errors that are not ServiceErrors are unexpected.
func ReasonOf(err error) FailureReason {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ReasonUnexpected
}
