package app

import (
	"fmt"
	"net/http"
)

// DomainError is reported to the client as-is: status, code and message.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// conflict wraps err so errors.Is still sees it after mapping.
func conflict(err error, code, message string) *DomainError {
	return &DomainError{
		Status:  http.StatusConflict,
		Code:    code,
		Message: message,
		cause:   err,
	}
}
