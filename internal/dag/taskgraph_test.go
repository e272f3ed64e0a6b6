package dag

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"testing"

	"findoutlie/internal/core"
	"findoutlie/internal/metrics"
)

func TestTopologicalOrder(t *testing.T) {
	cases := []struct {
		name   string
		nodes  string
		edges  []string
		before [][2]string
	}{
		{name: "single", nodes: "A"},
		{name: "independent", nodes: "C B A"},
		{name: "chain", nodes: "C B A", edges: []string{"A>B", "B>C"}, before: [][2]string{{"A", "B"}, {"B", "C"}}},
		{
			name:   "diamond",
			nodes:  "A B C D",
			edges:  []string{"A>B", "A>C", "B>D", "C>D"},
			before: [][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := mustGraph(t, tc.nodes, tc.edges...)
			if g.Hash() == "" {
				t.Fatal("empty graph hash")
			}
			order := g.TopologicalOrder()
			pos := make(map[string]int, len(order))
			for i, n := range order {
				pos[n] = i
			}
			if len(pos) != len(strings.Fields(tc.nodes)) {
				t.Fatalf("order = %v, want every node once", order)
			}
			for _, b := range tc.before {
				if pos[b[0]] >= pos[b[1]] {
					t.Errorf("order = %v, want %s before %s", order, b[0], b[1])
				}
			}
			if got := len(g.Edges()); got != len(tc.edges) {
				t.Errorf("edges = %d, want %d", got, len(tc.edges))
			}
			again := mustGraph(t, tc.nodes, tc.edges...)
			if !slices.Equal(again.TopologicalOrder(), order) {
				t.Errorf("order not stable: %v vs %v", again.TopologicalOrder(), order)
			}
		})
	}
}

func TestGraphHash_InvariantToInsertionOrder(t *testing.T) {
	jobs1 := []core.Job{validateJob(), job("A"), job("B")}
	edges1 := []Edge{{From: core.ValidateJobName, To: "A"}, {From: core.ValidateJobName, To: "B"}}

	g1, err := NewTaskGraph(jobs1, edges1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same structure, different insertion orders.
	jobs2 := []core.Job{job("B"), job("A"), validateJob()}
	edges2 := []Edge{{From: core.ValidateJobName, To: "B"}, {From: core.ValidateJobName, To: "A"}}

	g2, err := NewTaskGraph(jobs2, edges2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g1.Hash() != g2.Hash() {
		t.Fatalf("expected equal graph hashes, got %s vs %s", g1.Hash(), g2.Hash())
	}
}

func TestGraphHash_ChangesWithDetectionSettings(t *testing.T) {
	a := job("A")
	g1, err := NewTaskGraph([]core.Job{a}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a.Metric = metrics.KindDVARS
	g2, err := NewTaskGraph([]core.Job{a}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a.IQRProportion = 3
	g3, err := NewTaskGraph([]core.Job{a}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g1.Hash() == g2.Hash() || g2.Hash() == g3.Hash() {
		t.Fatalf("expected distinct hashes, got %s %s %s", g1.Hash(), g2.Hash(), g3.Hash())
	}
}

func TestGraphConstruction_RejectsInvalidJobs(t *testing.T) {
	bad := job("A")
	bad.Metric = "median"

	cases := map[string][]core.Job{
		"empty":     nil,
		"no name":   {{Kind: core.JobDetect, Path: "x.nii.gz", Metric: metrics.KindMean}},
		"duplicate": {job("A"), job("A")},
		"bad job":   {bad},
	}
	for name, jobs := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewTaskGraph(jobs, nil); !errors.Is(err, ErrInvalidGraph) {
				t.Fatalf("expected invalid graph error, got %v", err)
			}
		})
	}

	if _, err := NewTaskGraph([]core.Job{job("A")}, []Edge{{From: "A", To: "Z"}}); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected unknown edge target to be rejected, got %v", err)
	}
}

func TestGraphDepth_DetectJobsSitBelowValidation(t *testing.T) {
	g, err := NewTaskGraph(
		[]core.Job{validateJob(), job("A"), job("B")},
		[]Edge{{From: core.ValidateJobName, To: "A"}, {From: core.ValidateJobName, To: "B"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d, _ := g.Depth(core.ValidateJobName); d != 0 {
		t.Fatalf("validate depth = %d, want 0", d)
	}
	for _, name := range []string{"A", "B"} {
		if d, _ := g.Depth(name); d != 1 {
			t.Fatalf("%s depth = %d, want 1", name, d)
		}
	}
	if _, ok := g.Depth("missing"); ok {
		t.Fatal("expected unknown node to report !ok")
	}
}

func TestNewTaskGraph_RejectsLoops(t *testing.T) {
	if _, err := NewTaskGraph([]core.Job{job("A")}, []Edge{{From: "A", To: "A"}}); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("self loop: got %v, want invalid graph", err)
	}
	if _, err := NewTaskGraph([]core.Job{job("A"), job("B")}, []Edge{{From: "A", To: "B"}, {From: "A", To: "B"}}); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("duplicate edge: got %v, want invalid graph", err)
	}

	_, err := NewTaskGraph(
		[]core.Job{job("A"), job("B"), job("C"), job("D")},
		[]Edge{{From: "D", To: "A"}, {From: "A", To: "B"}, {From: "B", To: "C"}, {From: "C", To: "A"}},
	)
	if !errors.Is(err, ErrCycleFound) {
		t.Fatalf("got %v, want cycle error", err)
	}
	msg := err.Error()
	for _, n := range []string{"A", "B", "C"} {
		if !strings.Contains(msg, n) {
			t.Errorf("cycle message %q does not name %s", msg, n)
		}
	}
	if strings.Contains(msg, "D") || strings.Count(msg, " -> ") != 3 {
		t.Errorf("cycle message %q, want exactly the three-node loop", msg)
	}
}

func TestJobDefHash_LengthPrefixedFields(t *testing.T) {
	j := job("A")
	var buf bytes.Buffer
	for _, f := range []string{string(j.Kind), j.Path, string(j.Metric), "1.5", ""} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(f)))
		buf.Write(n[:])
		buf.WriteString(f)
	}
	sum := sha256.Sum256(buf.Bytes())
	if got, want := computeJobDefHash(j), JobDefHash(hex.EncodeToString(sum[:])); got != want {
		t.Errorf("computeJobDefHash = %s, want %s", got, want)
	}
}
