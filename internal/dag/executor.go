package dag

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"findoutlie/internal/core"
)

// Executor drives one TaskGraph to completion. Given the same graph and
// runner outcomes it always makes the same scheduling decisions.
type Executor struct {
	Graph  *TaskGraph
	Runner JobRunner

	// Observer, when set, sees every node reach its terminal state.
	Observer Observer

	mu    sync.Mutex
	state ExecutionState
}

// NewExecutor returns an executor with every node PENDING.
func NewExecutor(g *TaskGraph, runner JobRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}

	state := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		state[n.Name] = TaskPending
	}

	return &Executor{Graph: g, Runner: runner, state: state}, nil
}

// StateSnapshot copies the current node states.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Executor) snapshotLocked() ExecutionState {
	return maps.Clone(e.state)
}

func (e *Executor) notify(name string, state TaskState, res *core.Result) {
	if e.Observer != nil {
		e.Observer.NodeFinished(name, state, res)
	}
}

// finishLocked commits a RUNNING node's result. Failed results propagate
// SKIPPED to every dependent. Callers hold e.mu.
func (e *Executor) finishLocked(name string, res *core.Result, out *GraphResult) error {
	out.record(name, res)
	if !res.Failed() {
		if err := Transition(e.state, name, TaskRunning, TaskCompleted); err != nil {
			return err
		}
		e.notify(name, TaskCompleted, res)
		return nil
	}

	pending := make(map[string]bool)
	for n, st := range e.state {
		if st == TaskPending {
			pending[n] = true
		}
	}
	if err := FailAndPropagate(e.Graph, e.state, name); err != nil {
		return err
	}
	e.notify(name, TaskFailed, res)

	var skipped []string
	for n := range pending {
		if e.state[n] == TaskSkipped {
			skipped = append(skipped, n)
		}
	}
	slices.Sort(skipped)
	for _, n := range skipped {
		e.notify(n, TaskSkipped, nil)
	}
	return nil
}

// cacheLocked commits a probe hit. Callers hold e.mu.
func (e *Executor) cacheLocked(name string, res *core.Result, out *GraphResult) error {
	if res == nil {
		return fmt.Errorf("probing cache for %q: nil result", name)
	}
	if err := Transition(e.state, name, TaskPending, TaskCached); err != nil {
		return err
	}
	out.record(name, res)
	e.notify(name, TaskCached, res)
	return nil
}

// RunSerial runs one job at a time, always the first entry of
// GetReadyTasks. Probe and Run errors abort the run; analysis failures
// recorded in a Result do not.
func (e *Executor) RunSerial(ctx context.Context) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newGraphResult(e.Graph)

	for {
		e.mu.Lock()
		ready := GetReadyTasks(e.Graph, e.state)

		if len(ready) == 0 {
			if finished(e.state) {
				out.FinalState = e.snapshotLocked()
				e.mu.Unlock()
				return out, nil
			}
			e.mu.Unlock()
			return nil, fmt.Errorf("scheduler stalled: no ready jobs and unfinished nodes remain")
		}

		next := ready[0]
		job := e.Graph.nodesByName[next].Job

		probeRes, cached, err := e.Runner.Probe(ctx, job)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("probing cache for %q: %w", next, err)
		}
		if cached {
			err := e.cacheLocked(next, probeRes, out)
			e.mu.Unlock()
			if err != nil {
				return nil, err
			}
			continue
		}

		if err := Transition(e.state, next, TaskPending, TaskRunning); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		out.ExecutionOrder = append(out.ExecutionOrder, next)
		e.mu.Unlock()

		// Run outside the lock.
		runRes, err := e.Runner.Run(ctx, job)
		if err != nil {
			return nil, fmt.Errorf("executing %q: %w", next, err)
		}
		if runRes == nil {
			return nil, fmt.Errorf("executing %q: nil result", next)
		}

		e.mu.Lock()
		err = e.finishLocked(next, runRes, out)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
}

func finished(state ExecutionState) bool {
	for _, st := range state {
		if !IsTerminal(st) {
			return false
		}
	}
	return true
}

type workItem struct {
	name string
	job  core.Job
}

type workResult struct {
	name   string
	result *core.Result
	cached bool
	err    error
}

// work checks the cache for w and, on a miss, moves it to RUNNING and runs it.
func (e *Executor) work(ctx context.Context, w workItem) workResult {
	res, cached, err := e.Runner.Probe(ctx, w.job)
	if err != nil {
		return workResult{name: w.name, err: fmt.Errorf("probing cache for %q: %w", w.name, err)}
	}
	if cached {
		return workResult{name: w.name, result: res, cached: true}
	}

	e.mu.Lock()
	err = Transition(e.state, w.name, TaskPending, TaskRunning)
	e.mu.Unlock()
	if err != nil {
		return workResult{name: w.name, err: err}
	}
	res, err = e.Runner.Run(ctx, w.job)
	if err != nil {
		return workResult{name: w.name, err: fmt.Errorf("executing %q: %w", w.name, err)}
	}
	if res == nil {
		return workResult{name: w.name, err: fmt.Errorf("executing %q: nil result", w.name)}
	}
	return workResult{name: w.name, result: res}
}

// RunParallel runs jobs on up to concurrency workers, one depth stage at a
// time and by name within a stage. A stage is finished before the next
// starts. A dispatched job stays PENDING while its cache lookup runs.
// ExecutionOrder lists the jobs that ran in dispatch order, which is stable
// even though completion order is not. All workers have exited when
// RunParallel returns.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}

	stages := make([][]string, slices.Max(e.Graph.depth)+1)
	for _, n := range e.Graph.nodes {
		d := e.Graph.depth[n.canonicalIndex]
		stages[d] = append(stages[d], n.Name)
	}
	for _, s := range stages {
		slices.Sort(s)
	}

	workCh := make(chan workItem, concurrency)
	doneCh := make(chan workResult, concurrency)

	var wg sync.WaitGroup
	stopWorkers := sync.OnceFunc(func() {
		close(workCh)
		wg.Wait()
	})
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				doneCh <- e.work(ctx, w)
			}
		}()
	}

	out := newGraphResult(e.Graph)
	inFlight := 0
	var dispatched []string

	parentsDone := func(idx int) bool {
		return !slices.ContainsFunc(e.Graph.incoming[idx], func(p int) bool {
			return !IsSuccessful(e.state[e.Graph.nodes[p].Name])
		})
	}

	// fail stops the workers and returns err. Callers must not hold e.mu.
	fail := func(err error) (*GraphResult, error) {
		stopWorkers()
		return nil, err
	}

	for depth, names := range stages {
		next := 0

		for {
			e.mu.Lock()
			var dispatchErr error
			for inFlight < concurrency && next < len(names) {
				name := names[next]
				node := e.Graph.nodesByName[name]
				st := e.state[name]

				// SKIPPED by an earlier failure.
				if IsTerminal(st) {
					next++
					continue
				}
				if st != TaskPending {
					dispatchErr = fmt.Errorf("dispatching %q: state is %s, want PENDING", name, st)
					break
				}
				if !parentsDone(node.canonicalIndex) {
					dispatchErr = fmt.Errorf("dispatching %q at depth %d: parents have not succeeded", name, depth)
					break
				}
				dispatched = append(dispatched, name)
				inFlight++
				next++
				workCh <- workItem{name: name, job: node.Job}
			}
			stageDone := next >= len(names) && inFlight == 0
			e.mu.Unlock()
			if dispatchErr != nil {
				return fail(dispatchErr)
			}
			if stageDone {
				break
			}

			select {
			case <-ctx.Done():
				return fail(fmt.Errorf("execution cancelled: %w", ctx.Err()))
			case r := <-doneCh:
				if r.err != nil {
					return fail(r.err)
				}

				e.mu.Lock()
				var err error
				switch cur := e.state[r.name]; {
				case r.cached:
					err = e.cacheLocked(r.name, r.result, out)
				case cur != TaskRunning:
					err = fmt.Errorf("completion for %q but state is %s", r.name, cur)
				default:
					err = e.finishLocked(r.name, r.result, out)
				}
				inFlight--
				e.mu.Unlock()
				if err != nil {
					return fail(err)
				}
			}
		}
	}

	stopWorkers()

	e.mu.Lock()
	for _, name := range dispatched {
		if st := e.state[name]; st == TaskCompleted || st == TaskFailed {
			out.ExecutionOrder = append(out.ExecutionOrder, name)
		}
	}
	out.FinalState = e.snapshotLocked()
	e.mu.Unlock()
	return out, nil
}
