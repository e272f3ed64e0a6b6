package cli

import (
	"fmt"

	"findoutlie/internal/core"
	"findoutlie/internal/dag"
	"findoutlie/internal/metrics"
)

// GraphOptions describes the analysis graph for one data directory.
type GraphOptions struct {
	Images        []string
	Metric        metrics.Kind
	IQRProportion float64

	// Validate adds the hash list check as the root every detect job waits on.
	Validate bool
	HashList string
}

// BuildGraph creates the analysis graph: one detect job per image and, when
// validation is enabled, a validate job that every detect job depends on.
// A failed validation therefore skips the whole analysis.
func BuildGraph(opts GraphOptions) (*dag.TaskGraph, error) {
	jobs := core.DetectJobs(opts.Images, opts.Metric, opts.IQRProportion)
	var edges []dag.Edge
	if opts.Validate {
		v := core.Job{Name: core.ValidateJobName, Kind: core.JobValidate, HashList: opts.HashList}
		for _, j := range jobs {
			if j.Name == core.ValidateJobName {
				return nil, fmt.Errorf("image path %q collides with the validate job", j.Name)
			}
			edges = append(edges, dag.Edge{From: core.ValidateJobName, To: j.Name})
		}
		jobs = append(jobs, v)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return dag.NewTaskGraph(jobs, edges)
}
