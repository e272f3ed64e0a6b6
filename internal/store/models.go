package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is how a detection run treated the result cache.
type Mode string

const (
	ModeClean       Mode = "clean"
	ModeIncremental Mode = "incremental"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeClean, ModeIncremental:
		return m, nil
	default:
		return "", fmt.Errorf("invalid mode %q (want clean or incremental)", s)
	}
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is the persistent metadata of one detection run.
type Run struct {
	RunID         string     `json:"run_id"`
	DataDir       string     `json:"data_dir"`
	GraphHash     string     `json:"graph_hash"`
	Metric        string     `json:"metric"`
	IQRProportion float64    `json:"iqr_proportion"`
	Mode          Mode       `json:"mode"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Status        RunStatus  `json:"status"`
	ExitCode      int        `json:"exit_code"`
	ReportHash    string     `json:"report_hash,omitempty"`
	PreviousRunID *string    `json:"previous_run_id"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.DataDir) == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		errs = append(errs, errors.New("end_time precedes start_time"))
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		errs = append(errs, err)
	}
	switch r.Status {
	case RunRunning, RunSucceeded, RunFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.ExitCode < 0 {
		errs = append(errs, errors.New("exit_code must be >= 0"))
	}
	if r.PreviousRunID != nil && strings.TrimSpace(*r.PreviousRunID) == "" {
		errs = append(errs, errors.New("previous_run_id must not be empty when provided"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	FailureClassConfig     FailureClass = "config"
	FailureClassValidation FailureClass = "validation"
	FailureClassAnalysis   FailureClass = "analysis"
	FailureClassSystem     FailureClass = "system"
)

// Failure is a recorded run termination reason.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	NodeID       *string      `json:"node_id,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassConfig, FailureClassValidation, FailureClassAnalysis, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.NodeID != nil && strings.TrimSpace(*f.NodeID) == "" {
		errs = append(errs, errors.New("node_id must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// FileOutliers is the stored per-image outcome of a run.
type FileOutliers struct {
	Path     string `json:"path"`
	Status   string `json:"status"`
	Volumes  int    `json:"volumes"`
	Outliers []int  `json:"outliers"`
	Error    string `json:"error,omitempty"`
}
