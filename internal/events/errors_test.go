package events

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsCode(t *testing.T) {
	err := &APIError{Code: ErrCodeNotFound, Message: "rule does not exist"}

	if !IsCode(err, ErrCodeNotFound) {
		t.Error("IsCode should match the carried code")
	}
	if IsCode(err, ErrCodeInternal) {
		t.Error("IsCode must not match a different code")
	}
	if IsCode(errors.New("plain"), ErrCodeNotFound) {
		t.Error("IsCode must not match non-API errors")
	}
	if IsCode(nil, ErrCodeNotFound) {
		t.Error("IsCode(nil) must be false")
	}
}

func TestIsCode_Wrapped(t *testing.T) {
	inner := &APIError{Code: ErrCodeConcurrentModification, Message: "busy"}
	wrapped := fmt.Errorf("put rule: %w", inner)

	if !IsCode(wrapped, ErrCodeConcurrentModification) {
		t.Error("IsCode should unwrap")
	}
	if ErrorCode(wrapped) != ErrCodeConcurrentModification {
		t.Errorf("ErrorCode = %q", ErrorCode(wrapped))
	}
}

func TestErrorCode_NonAPIError(t *testing.T) {
	if got := ErrorCode(errors.New("connection refused")); got != "" {
		t.Errorf("ErrorCode = %q, want empty for transport errors", got)
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrCodeLimitExceeded, Message: "too many rules", Status: 400}
	want := "LimitExceededException: too many rules"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
