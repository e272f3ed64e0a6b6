package dag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"findoutlie/internal/core"
)

var (
	ErrInvalidGraph = errors.New("invalid task graph")
	ErrCycleFound   = errors.New("cycle detected")
)

// GraphError is a graph construction failure. Kind is ErrInvalidGraph or
// ErrCycleFound.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Msg
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

type edgeIndex struct {
	from int
	to   int
}

// TaskGraph is an immutable, validated DAG of jobs. Nodes are addressed by
// canonical index: the position in the (DefinitionHash, Name) order.
// It is safe for concurrent reads.
type TaskGraph struct {
	nodesByName map[string]*TaskNode
	nodes       []*TaskNode

	edges    []edgeIndex // sorted by (from, to)
	outgoing [][]int     // children per node, ascending
	incoming [][]int     // parents per node, ascending
	order    []int       // topological order, ties by canonical index
	depth    []int       // longest path from a root

	hash GraphHash
}

// NewTaskGraph builds and validates a TaskGraph. It rejects an empty job
// list, empty or duplicate names, invalid jobs, edges to unknown jobs,
// duplicate edges, self loops and cycles.
func NewTaskGraph(jobs []core.Job, edges []Edge) (*TaskGraph, error) {
	if len(jobs) == 0 {
		return nil, invalidf("no jobs")
	}

	g := &TaskGraph{
		nodesByName: make(map[string]*TaskNode, len(jobs)),
		nodes:       make([]*TaskNode, 0, len(jobs)),
	}
	for _, j := range jobs {
		if j.Name == "" {
			return nil, invalidf("job name is required")
		}
		if _, dup := g.nodesByName[j.Name]; dup {
			return nil, invalidf("duplicate job name: %q", j.Name)
		}
		if err := j.Validate(); err != nil {
			return nil, invalidf("%v", err)
		}
		n := &TaskNode{Name: j.Name, Job: j, DefinitionHash: computeJobDefHash(j)}
		g.nodesByName[j.Name] = n
		g.nodes = append(g.nodes, n)
	}

	slices.SortFunc(g.nodes, func(a, b *TaskNode) int {
		if c := strings.Compare(string(a.DefinitionHash), string(b.DefinitionHash)); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	for i, n := range g.nodes {
		n.canonicalIndex = i
	}

	seen := make(map[edgeIndex]bool, len(edges))
	for _, e := range edges {
		from, ok := g.nodesByName[e.From]
		if !ok {
			return nil, invalidf("edge references unknown job (from): %q", e.From)
		}
		to, ok := g.nodesByName[e.To]
		if !ok {
			return nil, invalidf("edge references unknown job (to): %q", e.To)
		}
		if from == to {
			return nil, invalidf("self-loop: %q -> %q", e.From, e.To)
		}
		ei := edgeIndex{from: from.canonicalIndex, to: to.canonicalIndex}
		if seen[ei] {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[ei] = true
		g.edges = append(g.edges, ei)
	}
	slices.SortFunc(g.edges, func(a, b edgeIndex) int {
		if a.from != b.from {
			return a.from - b.from
		}
		return a.to - b.to
	})

	g.outgoing = make([][]int, len(g.nodes))
	g.incoming = make([][]int, len(g.nodes))
	for _, e := range g.edges {
		g.outgoing[e.from] = append(g.outgoing[e.from], e.to)
		g.incoming[e.to] = append(g.incoming[e.to], e.from)
	}
	for i := range g.nodes {
		slices.Sort(g.incoming[i])
	}

	if err := g.sortTopologically(); err != nil {
		return nil, err
	}
	g.hash = g.computeGraphHash()
	return g, nil
}

// sortTopologically fills order and depth using Kahn's algorithm, always
// taking the lowest ready canonical index. Nodes left over lie on or behind
// a cycle.
func (g *TaskGraph) sortTopologically() error {
	remaining := make([]int, len(g.nodes))
	var ready []int
	for i := range g.nodes {
		remaining[i] = len(g.incoming[i])
		if remaining[i] == 0 {
			ready = append(ready, i)
		}
	}

	g.order = make([]int, 0, len(g.nodes))
	g.depth = make([]int, len(g.nodes))
	for len(ready) > 0 {
		u := ready[0]
		ready = ready[1:]
		g.order = append(g.order, u)
		for _, v := range g.outgoing[u] {
			g.depth[v] = max(g.depth[v], g.depth[u]+1)
			remaining[v]--
			if remaining[v] == 0 {
				pos, _ := slices.BinarySearch(ready, v)
				ready = slices.Insert(ready, pos, v)
			}
		}
	}
	if len(g.order) == len(g.nodes) {
		return nil
	}
	return &GraphError{Kind: ErrCycleFound, Msg: "cycle: " + strings.Join(g.cycleWitness(remaining), " -> ")}
}

// cycleWitness returns one cycle, first node repeated at the end. Every node
// with remaining > 0 has a parent that also does, so walking lowest such
// parents from the lowest such node must revisit a node.
func (g *TaskGraph) cycleWitness(remaining []int) []string {
	start := slices.IndexFunc(remaining, func(r int) bool { return r > 0 })
	if start < 0 {
		return nil
	}
	pos := make(map[int]int)
	var walk []int
	u := start
	for {
		if at, ok := pos[u]; ok {
			walk = walk[at:]
			break
		}
		pos[u] = len(walk)
		walk = append(walk, u)
		for _, p := range g.incoming[u] {
			if remaining[p] > 0 {
				u = p
				break
			}
		}
	}
	// walk follows parents; reverse it into edge direction and close the loop.
	slices.Reverse(walk)
	names := make([]string, 0, len(walk)+1)
	for _, i := range walk {
		names = append(names, g.nodes[i].Name)
	}
	return append(names, names[0])
}

// Hash returns the stable identity for this graph.
func (g *TaskGraph) Hash() GraphHash { return g.hash }

// Node returns a node by name.
func (g *TaskGraph) Node(name string) (*TaskNode, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *TaskGraph) Nodes() []*TaskNode {
	return slices.Clone(g.nodes)
}

// Edges returns the edges as name pairs in canonical order.
func (g *TaskGraph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		out[i] = Edge{From: g.nodes[e.from].Name, To: g.nodes[e.to].Name}
	}
	return out
}

// Depth returns the length of the longest path from any root to name.
func (g *TaskGraph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

// TopologicalOrder returns the job names in topological order. Among jobs
// that are ready together, the lower canonical index comes first.
func (g *TaskGraph) TopologicalOrder() []string {
	names := make([]string, len(g.order))
	for i, idx := range g.order {
		names[i] = g.nodes[idx].Name
	}
	return names
}

// computeGraphHash hashes the node definition hashes and the edge indices,
// both in canonical order, as length-prefixed fields.
func (g *TaskGraph) computeGraphHash() GraphHash {
	h := sha256.New()
	field := func(b []byte) { core.WriteField(h, b) }
	count := func(n int) []byte {
		return binary.BigEndian.AppendUint32(nil, uint32(n))
	}

	field(count(len(g.nodes)))
	for _, n := range g.nodes {
		field([]byte(n.DefinitionHash))
	}
	field(count(len(g.edges)))
	for _, e := range g.edges {
		field(count(e.from))
		field(count(e.to))
	}
	return GraphHash(hex.EncodeToString(h.Sum(nil)))
}
