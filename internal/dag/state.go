package dag

import "fmt"

// TaskState is the runtime state of a node.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskSkipped   TaskState = "SKIPPED"
	TaskCached    TaskState = "CACHED"
)

// ExecutionState maps job name to its current state.
type ExecutionState map[string]TaskState

// allowed lists the legal transitions. Terminal states have no entry.
var allowed = map[TaskState][]TaskState{
	TaskPending: {TaskRunning, TaskCached, TaskSkipped},
	TaskRunning: {TaskCompleted, TaskFailed},
}

// IsTerminal reports whether a node in state s is finished.
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskCached:
		return true
	}
	return false
}

// IsSuccessful reports whether s satisfies dependents.
func IsSuccessful(s TaskState) bool {
	return s == TaskCompleted || s == TaskCached
}

// Transition moves name from the expected state from to to. The map is only
// changed when the current state is from and the move is legal.
func Transition(state ExecutionState, name string, from, to TaskState) error {
	cur, ok := state[name]
	if !ok {
		return fmt.Errorf("unknown job in state: %q", name)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, cur)
	}
	for _, s := range allowed[from] {
		if s == to {
			state[name] = to
			return nil
		}
	}
	return fmt.Errorf("disallowed transition for %q: %s -> %s", name, from, to)
}

// FailAndPropagate marks name FAILED (it must be RUNNING or already FAILED)
// and every PENDING node reachable from it SKIPPED. A reachable node that is
// RUNNING means a dependent was started too early and is reported as an
// error.
func FailAndPropagate(g *TaskGraph, state ExecutionState, name string) error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	node, ok := g.nodesByName[name]
	if !ok {
		return fmt.Errorf("unknown job: %q", name)
	}
	switch cur := state[name]; cur {
	case TaskRunning:
		state[name] = TaskFailed
	case TaskFailed:
	default:
		return fmt.Errorf("cannot fail %q from state %q", name, cur)
	}

	visited := make([]bool, len(g.nodes))
	stack := []int{node.canonicalIndex}
	visited[node.canonicalIndex] = true
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, v := range g.outgoing[u] {
			if visited[v] {
				continue
			}
			visited[v] = true
			dep := g.nodes[v].Name
			switch st, ok := state[dep]; {
			case !ok:
				return fmt.Errorf("missing state for %q", dep)
			case st == TaskPending:
				state[dep] = TaskSkipped
			case st == TaskRunning:
				return fmt.Errorf("invariant violation: downstream job %q is RUNNING during failure propagation", dep)
			}
			stack = append(stack, v)
		}
	}
	return nil
}
