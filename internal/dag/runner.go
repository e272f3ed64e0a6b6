package dag

import (
	"context"

	"go.uber.org/zap"

	"findoutlie/internal/core"
)

// JobRunner executes a single job.
//
// A job whose result reports Failed() is FAILED and its dependents are
// SKIPPED. A non-nil error aborts the whole graph: it signals cancellation or
// broken infrastructure, not a bad image.
//
// *core.Runner satisfies this interface.
type JobRunner interface {
	// Probe checks whether the job can be satisfied from cache. If cached is
	// true, result must be non-nil and FromCache must be true. RunParallel
	// calls Probe from its workers.
	Probe(ctx context.Context, job core.Job) (result *core.Result, cached bool, err error)

	Run(ctx context.Context, job core.Job) (*core.Result, error)
}

var _ JobRunner = (*core.Runner)(nil)

// Observer is notified every time a node reaches a terminal state.
//
// Calls are serialized by the executor. res is nil for SKIPPED nodes.
type Observer interface {
	NodeFinished(name string, state TaskState, res *core.Result)
}

// Observers fans one notification out to several observers in order.
type Observers []Observer

func (obs Observers) NodeFinished(name string, state TaskState, res *core.Result) {
	for _, o := range obs {
		if o != nil {
			o.NodeFinished(name, state, res)
		}
	}
}

// LogObserver logs terminal node states.
type LogObserver struct {
	Logger *zap.Logger
}

func (o LogObserver) NodeFinished(name string, state TaskState, res *core.Result) {
	fields := []zap.Field{zap.String("job", name), zap.String("state", string(state))}
	if res != nil {
		if res.Failed() {
			fields = append(fields, zap.Error(res.Err))
		} else if res.Job.Kind == core.JobDetect {
			fields = append(fields, zap.Int("volumes", res.Volumes), zap.Ints("outliers", res.Outliers))
		}
	}
	switch state {
	case TaskFailed:
		o.Logger.Warn("job finished", fields...)
	case TaskSkipped:
		o.Logger.Info("job skipped", fields...)
	default:
		o.Logger.Debug("job finished", fields...)
	}
}
