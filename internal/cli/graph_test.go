package cli

import (
	"testing"

	"findoutlie/internal/core"
	"findoutlie/internal/metrics"
)

func TestBuildGraph_ValidateIsRoot(t *testing.T) {
	g, err := BuildGraph(GraphOptions{
		Images:        []string{"b/sub-02.nii.gz", "a/sub-01.nii.gz"},
		Metric:        metrics.KindMean,
		IQRProportion: 1.5,
		Validate:      true,
	})
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	order := g.TopologicalOrder()
	if len(order) != 3 || order[0] != core.ValidateJobName {
		t.Fatalf("order = %v, want validate first", order)
	}
	for _, name := range []string{"a/sub-01.nii.gz", "b/sub-02.nii.gz"} {
		if d, ok := g.Depth(name); !ok || d != 1 {
			t.Errorf("depth(%s) = %d, %v; want 1", name, d, ok)
		}
	}
	if len(g.Edges()) != 2 {
		t.Errorf("edges = %v", g.Edges())
	}
}

func TestBuildGraph_WithoutValidation(t *testing.T) {
	g, err := BuildGraph(GraphOptions{Images: []string{"sub-01.nii.gz"}, Metric: metrics.KindDVARS, IQRProportion: 1.5})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Node(core.ValidateJobName); ok {
		t.Error("validate node present without validation")
	}
	n, ok := g.Node("sub-01.nii.gz")
	if !ok || n.Job.Metric != metrics.KindDVARS {
		t.Errorf("node = %+v", n)
	}
}

func TestBuildGraph_EmptyAndCollision(t *testing.T) {
	g, err := BuildGraph(GraphOptions{Metric: metrics.KindMean})
	if err != nil || g != nil {
		t.Errorf("empty graph = %v, %v; want nil, nil", g, err)
	}

	g, err = BuildGraph(GraphOptions{Images: nil, Metric: metrics.KindMean, Validate: true})
	if err != nil || g == nil || len(g.Nodes()) != 1 {
		t.Errorf("validation-only graph = %v, %v", g, err)
	}

	if _, err := BuildGraph(GraphOptions{Images: []string{core.ValidateJobName}, Metric: metrics.KindMean, Validate: true}); err == nil {
		t.Error("expected collision error")
	}
}
