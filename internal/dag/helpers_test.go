package dag

import (
	"context"
	"errors"
	"sync"

	"findoutlie/internal/core"
	"findoutlie/internal/metrics"
)

func job(name string) core.Job {
	return core.Job{
		Name:          name,
		Kind:          core.JobDetect,
		Path:          name + ".nii.gz",
		Metric:        metrics.KindMean,
		IQRProportion: 1.5,
	}
}

func validateJob() core.Job {
	return core.Job{Name: core.ValidateJobName, Kind: core.JobValidate}
}

// fakeRunner fails the named jobs, serves the cached ones from Probe and
// counts Run calls.
type fakeRunner struct {
	fail   map[string]bool
	cached map[string]bool
	abort  map[string]bool

	mu     sync.Mutex
	counts map[string]int
}

func (r *fakeRunner) result(j core.Job) *core.Result {
	res := &core.Result{Job: j, Hash: core.JobHash("hash:" + j.Name), Volumes: 4, Outliers: []int{}}
	if r.fail[j.Name] {
		res.Err = errors.New("analysis failed")
	}
	return res
}

func (r *fakeRunner) Probe(_ context.Context, j core.Job) (*core.Result, bool, error) {
	if !r.cached[j.Name] {
		return nil, false, nil
	}
	res := r.result(j)
	res.FromCache = true
	return res, true, nil
}

func (r *fakeRunner) Run(ctx context.Context, j core.Job) (*core.Result, error) {
	r.mu.Lock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[j.Name]++
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.abort[j.Name] {
		return nil, errors.New("disk on fire")
	}
	return r.result(j), nil
}

func (r *fakeRunner) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}
