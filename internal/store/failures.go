package store

import (
	"errors"
	"fmt"
)

// ConfigFailureError represents an unusable configuration file, environment
// override or flag combination.
type ConfigFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ConfigFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("config failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("config failure: %s", e.Message)
}

func (e *ConfigFailureError) Unwrap() error { return e.Cause }

// ValidationFailureError represents a data directory that does not match
// its hash list.
type ValidationFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ValidationFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("validation failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("validation failure: %s", e.Message)
}

func (e *ValidationFailureError) Unwrap() error { return e.Cause }

// AnalysisFailureError represents an image that could not be analysed.
type AnalysisFailureError struct {
	NodeID  string
	Code    string
	Message string
	Cause   error
}

func (e *AnalysisFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.NodeID != "" && e.Code != "" {
		return fmt.Sprintf("analysis failure node=%s (%s): %s", e.NodeID, e.Code, e.Message)
	}
	if e.NodeID != "" {
		return fmt.Sprintf("analysis failure node=%s: %s", e.NodeID, e.Message)
	}
	return fmt.Sprintf("analysis failure: %s", e.Message)
}

func (e *AnalysisFailureError) Unwrap() error { return e.Cause }

// SystemFailureError represents I/O errors, cancellation and other
// infrastructure failures.
type SystemFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *SystemFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("system failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("system failure: %s", e.Message)
}

func (e *SystemFailureError) Unwrap() error { return e.Cause }

// ClassifyError maps err onto the failure taxonomy. Unknown errors are
// system failures.
func ClassifyError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	var cf *ConfigFailureError
	if errors.As(err, &cf) && cf != nil {
		return Failure{
			FailureClass: FailureClassConfig,
			ErrorCode:    nonEmptyOr(cf.Code, "ConfigFailure"),
			ErrorMessage: nonEmptyOr(cf.Message, cf.Error()),
		}, nil
	}

	var vf *ValidationFailureError
	if errors.As(err, &vf) && vf != nil {
		return Failure{
			FailureClass: FailureClassValidation,
			ErrorCode:    nonEmptyOr(vf.Code, "ValidationFailure"),
			ErrorMessage: nonEmptyOr(vf.Message, vf.Error()),
		}, nil
	}

	var af *AnalysisFailureError
	if errors.As(err, &af) && af != nil {
		var nodePtr *string
		if af.NodeID != "" {
			n := af.NodeID
			nodePtr = &n
		}
		return Failure{
			FailureClass: FailureClassAnalysis,
			NodeID:       nodePtr,
			ErrorCode:    nonEmptyOr(af.Code, "AnalysisFailure"),
			ErrorMessage: nonEmptyOr(af.Message, af.Error()),
		}, nil
	}

	var sf *SystemFailureError
	if errors.As(err, &sf) && sf != nil {
		return Failure{
			FailureClass: FailureClassSystem,
			ErrorCode:    nonEmptyOr(sf.Code, "SystemFailure"),
			ErrorMessage: nonEmptyOr(sf.Message, sf.Error()),
		}, nil
	}

	return Failure{
		FailureClass: FailureClassSystem,
		ErrorCode:    "UnknownError",
		ErrorMessage: err.Error(),
	}, nil
}

func nonEmptyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
