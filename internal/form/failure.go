package form

import (
	"errors"
	"fmt"
	"strings"

	"petition/api/internal/filter"
	"petition/api/internal/handle"
)

// Code identifies why a submission attempt failed.
type Code string

const (
	CodeHandleTooShort    Code = "ERR_HANDLE_TOO_SHORT"
	CodeHandleOverflow    Code = "ERR_HANDLE_OVERFLOW"
	CodeInvalidSyntax     Code = "ERR_INVALID_SYNTAX"
	CodeCommentOverflow   Code = "ERR_COMMENT_OVERFLOW"
	CodeLogicGateFailure  Code = "ERR_LOGIC_GATE_FAILURE"
	CodeCaptchaRequired   Code = "ERR_CAPTCHA_REQUIRED"
	CodeRemoteWriteFailed Code = "ERR_DATABASE_WRITE_FAILED"
)

// Failure is the coded message shown to the visitor after a failed attempt.
type Failure struct {
	Code Code   `json:"code"`
	Term string `json:"term,omitempty"`
}

// Message renders the failure the way the petition page prints it.
func (f Failure) Message() string {
	switch f.Code {
	case CodeHandleTooShort:
		return fmt.Sprintf("%s: MIN_LEN = %d", f.Code, handle.MinLength)
	case CodeHandleOverflow:
		return fmt.Sprintf("%s: MAX_LEN = %d", f.Code, handle.MaxLength)
	case CodeInvalidSyntax:
		return string(f.Code) + ": ALPHANUMERIC_ONLY"
	case CodeCommentOverflow:
		return fmt.Sprintf("%s: MAX_LEN = %d", f.Code, handle.MaxCommentLength)
	case CodeLogicGateFailure:
		return fmt.Sprintf("%s: EMOTIONAL_LEAK_DETECTED [%q]", f.Code, strings.ToUpper(f.Term))
	case CodeCaptchaRequired:
		return string(f.Code) + ": COMPLETE_VERIFICATION"
	case CodeRemoteWriteFailed:
		return string(f.Code) + ": RETRY_LATER"
	default:
		return string(f.Code)
	}
}

func (f Failure) Error() string {
	return f.Message()
}

// failureFor maps a validator error onto its coded failure.
func failureFor(err error) Failure {
	var denied *handle.DenylistError
	switch {
	case errors.As(err, &denied):
		return Failure{Code: CodeLogicGateFailure, Term: denied.Term}
	case errors.Is(err, handle.ErrTooShort):
		return Failure{Code: CodeHandleTooShort}
	case errors.Is(err, handle.ErrOverflow):
		return Failure{Code: CodeHandleOverflow}
	case errors.Is(err, handle.ErrInvalidSyntax):
		return Failure{Code: CodeInvalidSyntax}
	case errors.Is(err, handle.ErrCommentOverflow):
		return Failure{Code: CodeCommentOverflow}
	default:
		return Failure{Code: CodeInvalidSyntax}
	}
}

// Check runs the validator outside a coordinator and returns the canonical
// handle or the coded failure. A nil gate means the default denylist.
func Check(rawHandle, comment string, gate *filter.Filter) (string, *Failure) {
	if gate == nil {
		gate = filter.Default()
	}
	canonical, err := handle.Validate(rawHandle, comment, gate)
	if err != nil {
		failure := failureFor(err)
		return "", &failure
	}
	return canonical, nil
}
