package quiz

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorContentNotFound     ErrorCode = "CONTENT_NOT_FOUND"
	ErrorInvalidEvent        ErrorCode = "INVALID_EVENT"
	ErrorUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrorSessionCorruption   ErrorCode = "SESSION_CORRUPTION"
	ErrorInternal            ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("quiz: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("quiz: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or ErrorInternal.
func CodeOf(err error) ErrorCode {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ErrorInternal
}
