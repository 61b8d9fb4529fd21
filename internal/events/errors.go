package events

import (
	"errors"
	"fmt"
)

// Error codes returned by the event-routing service and target services.
const (
	ErrCodeNotFound               = "ResourceNotFoundException"
	ErrCodeInternal               = "InternalException"
	ErrCodeConcurrentModification = "ConcurrentModificationException"
	ErrCodeLimitExceeded          = "LimitExceededException"
	ErrCodeManagedRule            = "ManagedRuleException"
	ErrCodeInvalidEventPattern    = "InvalidEventPatternException"
	ErrCodePolicyLengthExceeded   = "PolicyLengthExceededException"
	ErrCodeResourceConflict       = "ResourceConflictException"
)

// APIError is a structured error returned by the remote service.
type APIError struct {
	Code    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an APIError carrying the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// ErrorCode returns the APIError code carried by err, or "" if err is
// not an APIError.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
