package dag

import "findoutlie/internal/core"

// GraphHash is the deterministic identity of a TaskGraph.
//
// It is computed solely from job definitions and dependency structure and
// is stable across insertion orders of jobs and edges.
type GraphHash string

// JobDefHash is the identity of a job definition inside a graph.
//
// It differs from core.JobHash: the definition hash ignores image content,
// so the graph identity does not change when data changes.
type JobDefHash string

// Edge represents a dependency relation: To depends on From.
//
// To only runs after From completes successfully.
type Edge struct {
	From string
	To   string
}

// TaskNode is an immutable node in the TaskGraph.
type TaskNode struct {
	Name           string
	Job            core.Job
	DefinitionHash JobDefHash
	canonicalIndex int
}

// CanonicalIndex returns the node's deterministic position in the graph's canonical ordering.
func (n *TaskNode) CanonicalIndex() int { return n.canonicalIndex }

func (h GraphHash) String() string { return string(h) }

func (h JobDefHash) String() string { return string(h) }
