package core

import (
	"fmt"

	"findoutlie/internal/metrics"
)

// JobKind discriminates the two kinds of analysis node.
type JobKind string

const (
	// JobValidate checks the data directory against its hash list.
	JobValidate JobKind = "validate"
	// JobDetect scans a single image for outlier volumes.
	JobDetect JobKind = "detect"
)

// ValidateJobName is the node name used for the data validation job.
const ValidateJobName = "validate"

// Job is a declarative unit of analysis.
type Job struct {
	// Name is unique within a graph. Detect jobs use their relative image path.
	Name string `json:"name" yaml:"name"`

	Kind JobKind `json:"kind" yaml:"kind"`

	// Path is the image path relative to the data directory (detect jobs).
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	Metric        metrics.Kind `json:"metric,omitempty" yaml:"metric,omitempty"`
	IQRProportion float64      `json:"iqr_proportion,omitempty" yaml:"iqr_proportion,omitempty"`

	// HashList overrides the hash list location (validate jobs).
	HashList string `json:"hash_list,omitempty" yaml:"hash_list,omitempty"`
}

// Validate checks the fields required by the job's kind.
func (j *Job) Validate() error {
	if j == nil {
		return fmt.Errorf("job is nil")
	}
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	switch j.Kind {
	case JobValidate:
		return nil
	case JobDetect:
		if j.Path == "" {
			return fmt.Errorf("job %q: path is required", j.Name)
		}
		if _, err := metrics.ParseKind(string(j.Metric)); err != nil {
			return fmt.Errorf("job %q: %w", j.Name, err)
		}
		if j.IQRProportion < 0 {
			return fmt.Errorf("job %q: iqr proportion must be >= 0", j.Name)
		}
		return nil
	default:
		return fmt.Errorf("job %q: unknown kind %q", j.Name, j.Kind)
	}
}

// DetectJobs builds one detect job per image path.
func DetectJobs(paths []string, metric metrics.Kind, proportion float64) []Job {
	jobs := make([]Job, 0, len(paths))
	for _, p := range paths {
		jobs = append(jobs, Job{
			Name:          p,
			Kind:          JobDetect,
			Path:          p,
			Metric:        metric,
			IQRProportion: proportion,
		})
	}
	return jobs
}
