package report

import (
	"sync"

	"findoutlie/internal/core"
	"findoutlie/internal/dag"
)

// Recorder collects terminal node states into a Report. It implements
// dag.Observer and is safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	files      []FileReport
	validation *ValidationReport
}

var _ dag.Observer = (*Recorder)(nil)

func NewRecorder() *Recorder { return &Recorder{} }

func statusOf(state dag.TaskState) Status {
	switch state {
	case dag.TaskCompleted:
		return StatusCompleted
	case dag.TaskCached:
		return StatusCached
	case dag.TaskFailed:
		return StatusFailed
	default:
		return StatusSkipped
	}
}

// NodeFinished records one terminal node. Skipped nodes carry no result, so
// the node name (the image path for detect jobs) is used.
func (r *Recorder) NodeFinished(name string, state dag.TaskState, res *core.Result) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == core.ValidateJobName && (res == nil || res.Job.Kind == core.JobValidate) {
		v := &ValidationReport{Status: statusOf(state)}
		if res != nil {
			v.HashList = res.Job.HashList
			if res.Validation != nil {
				v.HashList = res.Validation.HashList
				v.Checked = res.Validation.Checked
			}
			if res.Err != nil {
				v.Error = res.Err.Error()
			}
		}
		r.validation = v
		return
	}

	f := FileReport{Path: name, Status: statusOf(state)}
	if res != nil {
		if res.Job.Path != "" {
			f.Path = res.Job.Path
		}
		f.FromCache = res.FromCache
		if res.Err != nil {
			f.Error = res.Err.Error()
		} else {
			f.Volumes = res.Volumes
			f.Outliers = append([]int(nil), res.Outliers...)
		}
	}
	r.files = append(r.files, f)
}

// Report builds a canonical Report from the recorded nodes. The returned
// report is independent from the recorder.
func (r *Recorder) Report(graphHash, dataDir, metric string, proportion float64) Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := Report{
		GraphHash:     graphHash,
		DataDir:       dataDir,
		Metric:        metric,
		IQRProportion: proportion,
		Files:         make([]FileReport, len(r.files)),
	}
	copy(rep.Files, r.files)
	if r.validation != nil {
		v := *r.validation
		rep.Validation = &v
	}
	rep.Canonicalize()
	return rep
}
