package dag

import (
	"cmp"
	"slices"
)

// GetReadyTasks returns the PENDING jobs whose parents have all succeeded,
// ordered by depth and then by name. It does not modify g or state.
func GetReadyTasks(g *TaskGraph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	ready := []string{}
	for _, n := range g.nodes {
		if state[n.Name] != TaskPending {
			continue
		}
		blocked := slices.ContainsFunc(g.incoming[n.canonicalIndex], func(p int) bool {
			return !IsSuccessful(state[g.nodes[p].Name])
		})
		if !blocked {
			ready = append(ready, n.Name)
		}
	}

	slices.SortFunc(ready, func(a, b string) int {
		da := g.depth[g.nodesByName[a].canonicalIndex]
		db := g.depth[g.nodesByName[b].canonicalIndex]
		return cmp.Or(cmp.Compare(da, db), cmp.Compare(a, b))
	})
	return ready
}
