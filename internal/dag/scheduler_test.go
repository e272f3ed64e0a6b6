package dag

import (
	"reflect"
	"testing"
)

func TestGetReadyTasks(t *testing.T) {
	diamond := []string{"A>B", "A>C", "B>D", "C>D"}
	cases := []struct {
		name  string
		nodes string
		edges []string
		state ExecutionState
		want  []string
	}{
		{
			name:  "roots in name order",
			nodes: "B A C",
			state: ExecutionState{"A": TaskPending, "B": TaskPending, "C": TaskPending},
			want:  []string{"A", "B", "C"},
		},
		{
			name:  "same depth sorted by name",
			nodes: "A B C D",
			edges: []string{"A>C", "B>D"},
			state: ExecutionState{"A": TaskCompleted, "B": TaskCompleted, "C": TaskPending, "D": TaskPending},
			want:  []string{"C", "D"},
		},
		{
			name:  "shallower first",
			nodes: "A B Z",
			edges: []string{"A>B"},
			state: ExecutionState{"A": TaskCompleted, "B": TaskPending, "Z": TaskPending},
			want:  []string{"Z", "B"},
		},
		{
			name:  "diamond after root",
			nodes: "A B C D",
			edges: diamond,
			state: ExecutionState{"A": TaskCompleted, "B": TaskPending, "C": TaskPending, "D": TaskPending},
			want:  []string{"B", "C"},
		},
		{
			name:  "join waits for every parent",
			nodes: "A B C D",
			edges: diamond,
			state: ExecutionState{"A": TaskCompleted, "B": TaskCompleted, "C": TaskPending, "D": TaskPending},
			want:  []string{"C"},
		},
		{
			name:  "cached parent counts as done",
			nodes: "A B C D",
			edges: diamond,
			state: ExecutionState{"A": TaskCompleted, "B": TaskCompleted, "C": TaskCached, "D": TaskPending},
			want:  []string{"D"},
		},
		{
			name:  "failed parent blocks",
			nodes: "A B",
			edges: []string{"A>B"},
			state: ExecutionState{"A": TaskFailed, "B": TaskPending},
			want:  []string{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := mustGraph(t, tc.nodes, tc.edges...)
			if got := GetReadyTasks(g, tc.state); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ready = %v, want %v", got, tc.want)
			}
		})
	}
	if GetReadyTasks(nil, ExecutionState{}) != nil {
		t.Error("nil graph has no ready tasks")
	}
}
