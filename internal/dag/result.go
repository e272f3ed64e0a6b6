package dag

import (
	"sort"

	"findoutlie/internal/core"
)

// GraphResult is the deterministic summary of a graph execution attempt.
type GraphResult struct {
	GraphHash GraphHash

	// FinalState is the terminal state of each node by name.
	FinalState ExecutionState

	// ExecutionOrder lists the jobs that were started (transitioned to RUNNING).
	ExecutionOrder []string

	// JobHashes records the per-node content hash of executed or replayed detect jobs.
	JobHashes map[string]core.JobHash

	// Results holds the per-node outcome. Skipped nodes have no entry.
	Results map[string]*core.Result
}

// NamesInState returns the sorted node names whose final state is s.
func (r *GraphResult) NamesInState(s TaskState) []string {
	if r == nil {
		return nil
	}
	var out []string
	for name, st := range r.FinalState {
		if st == s {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Succeeded reports whether every node completed or was replayed from cache.
func (r *GraphResult) Succeeded() bool {
	if r == nil {
		return false
	}
	for _, st := range r.FinalState {
		if !IsSuccessful(st) {
			return false
		}
	}
	return true
}

func newGraphResult(g *TaskGraph) *GraphResult {
	return &GraphResult{
		GraphHash:      g.Hash(),
		ExecutionOrder: make([]string, 0, len(g.nodes)),
		JobHashes:      make(map[string]core.JobHash, len(g.nodes)),
		Results:        make(map[string]*core.Result, len(g.nodes)),
	}
}

func (r *GraphResult) record(name string, res *core.Result) {
	r.Results[name] = res
	if res.Hash != "" {
		r.JobHashes[name] = res.Hash
	}
}
