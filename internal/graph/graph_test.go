package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAddsFileAndDirectoryNodes(t *testing.T) {
	g := Build(BuildInput{
		IntentID:     "i1",
		Target:       "main",
		FilesChanged: []string{"internal/foo/a.go", "internal/foo/b.go"},
	})

	var fileCount, dirCount int
	for _, n := range g.Nodes {
		switch n.Kind {
		case KindFile:
			fileCount++
		case KindDirectory:
			dirCount++
		}
	}
	require.Equal(t, 2, fileCount)
	require.Equal(t, 1, dirCount)
}

func TestBuildAddsCoLocatedEdgesBidirectionally(t *testing.T) {
	g := Build(BuildInput{
		IntentID:     "i1",
		Target:       "main",
		FilesChanged: []string{"pkg/a.go", "pkg/b.go"},
	})
	var coLocated int
	for _, e := range g.Edges {
		if e.Kind == EdgeCoLocated {
			coLocated++
		}
	}
	require.Equal(t, 2, coLocated)
}

func TestBuildScopeContainsVsTouches(t *testing.T) {
	g := Build(BuildInput{
		IntentID:     "i1",
		Target:       "main",
		FilesChanged: []string{"internal/billing/invoice.go", "internal/auth/login.go"},
		ScopeHints:   []string{"billing"},
	})
	var contains, touches int
	for _, e := range g.Edges {
		switch e.Kind {
		case EdgeScopeContains:
			contains++
		case EdgeScopeTouches:
			touches++
		}
	}
	require.Equal(t, 1, contains)
	require.Equal(t, 1, touches)
}

func TestDensityZeroForSingleton(t *testing.T) {
	g := New()
	g.AddNode(KindIntent, "i1")
	require.Equal(t, 0.0, g.Density())
}

func TestWeaklyConnectedComponents(t *testing.T) {
	g := New()
	a := g.AddNode(KindFile, "a")
	b := g.AddNode(KindFile, "b")
	g.AddNode(KindFile, "c") // isolated
	g.AddEdge(a, b, EdgeCoLocated, 0.2)

	require.Equal(t, 2, g.WeaklyConnectedComponents())
}

func TestPageRankSumsToApproximatelyOne(t *testing.T) {
	g := New()
	a := g.AddNode(KindFile, "a")
	b := g.AddNode(KindFile, "b")
	c := g.AddNode(KindFile, "c")
	g.AddEdge(a, b, EdgeCoLocated, 0.2)
	g.AddEdge(b, c, EdgeCoLocated, 0.2)
	g.AddEdge(c, a, EdgeCoLocated, 0.2)

	rank := g.PageRank()
	var sum float64
	for _, r := range rank {
		sum += r
	}
	require.InDelta(t, 1.0, sum, 0.01)
}

func TestSimpleCyclesDetectsCycle(t *testing.T) {
	g := New()
	a := g.AddNode(KindFile, "a")
	b := g.AddNode(KindFile, "b")
	c := g.AddNode(KindFile, "c")
	g.AddEdge(a, b, EdgeCoLocated, 0.2)
	g.AddEdge(b, c, EdgeCoLocated, 0.2)
	g.AddEdge(c, a, EdgeCoLocated, 0.2)

	cycles := g.SimpleCycles()
	require.NotEmpty(t, cycles)
}

func TestLongestPathOnAcyclicChain(t *testing.T) {
	g := New()
	a := g.AddNode(KindFile, "a")
	b := g.AddNode(KindFile, "b")
	c := g.AddNode(KindFile, "c")
	g.AddEdge(a, b, EdgeCoLocated, 0.2)
	g.AddEdge(b, c, EdgeCoLocated, 0.2)

	require.Equal(t, 2, g.LongestPath())
}

func TestCoChangeWeightCapped(t *testing.T) {
	g := Build(BuildInput{
		IntentID:        "i1",
		Target:          "main",
		FilesChanged:    []string{"a.go", "b.go"},
		CoChangeHistory: []CoChangePair{{FileA: "a.go", FileB: "b.go", Count: 50}},
	})
	var found bool
	for _, e := range g.Edges {
		if e.Kind == EdgeCoChange {
			found = true
			require.Equal(t, 1.0, e.Weight)
		}
	}
	require.True(t, found)
}
