package cli

import (
	"errors"
	"fmt"
)

const (
	ExitSuccess           = 0
	ExitAnalysisFailure   = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// InvocationError is returned for unusable command lines and configuration.
type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// FailureError reports a completed run whose data did not pass: a hash
// mismatch or an image that could not be analysed. Outliers alone are not a
// failure.
type FailureError struct {
	Message string
}

func (e *FailureError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func failuref(format string, args ...any) error {
	return &FailureError{Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error returned by Run to the process exit code.
// Unknown errors are internal errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var failErr *FailureError
	if errors.As(err, &failErr) {
		return ExitAnalysisFailure
	}
	return ExitInternalError
}
