package risk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ghmbegerez/converge/internal/graph"
	"github.com/ghmbegerez/converge/internal/intent"
)

func TestComputeSignalsClampsToHundred(t *testing.T) {
	sig := ComputeSignals(Input{
		FilesChanged: 1000,
		Conflicts:    1000,
		Dependencies: 1000,
	})
	require.Equal(t, 100.0, sig.EntropicLoad)
}

func TestClassifyLevelBands(t *testing.T) {
	require.Equal(t, intent.RiskLow, ClassifyLevel(0))
	require.Equal(t, intent.RiskLow, ClassifyLevel(24.9))
	require.Equal(t, intent.RiskMedium, ClassifyLevel(25))
	require.Equal(t, intent.RiskHigh, ClassifyLevel(50))
	require.Equal(t, intent.RiskCritical, ClassifyLevel(75))
	require.Equal(t, intent.RiskCritical, ClassifyLevel(100))
}

func TestTargetBonusAppliesForCoreTargets(t *testing.T) {
	sig := ComputeSignals(Input{Target: "main", RiskLevel: intent.RiskLow})
	require.Equal(t, 10.0, sig.ContextualValue)

	sig2 := ComputeSignals(Input{Target: "feature/x", RiskLevel: intent.RiskLow})
	require.Equal(t, 0.0, sig2.ContextualValue)
}

func TestCoreRatioAndTouches(t *testing.T) {
	files := []string{"internal/a.go", "docs/readme.md"}
	require.Equal(t, 0.5, CoreRatio(files))
	require.Equal(t, 1, CoreTouches(files))
}

func TestGraphDerivedInputSingleDirectoryChange(t *testing.T) {
	g := graph.Build(graph.BuildInput{
		IntentID:     "i1",
		Target:       "main",
		FilesChanged: []string{"src/auth/login.go", "src/auth/token.go"},
	})
	m := g.Compute(10)
	in := GraphDerivedInput(g, m)

	require.Equal(t, 2, in.FilesChanged)
	require.Equal(t, 0, in.DirSpread, "one directory spreads nowhere")
	require.Equal(t, 1, in.Components, "files and their directory form one cluster")

	sig := ComputeSignals(in)
	require.Equal(t, 4.0, sig.EntropicLoad, "two clean files cost 2 points each")
}

func TestGraphDerivedInputCountsCrossDirectoryEdges(t *testing.T) {
	g := graph.Build(graph.BuildInput{
		IntentID:        "i1",
		Target:          "main",
		FilesChanged:    []string{"src/auth/login.go", "src/billing/invoice.go"},
		CoChangeHistory: []graph.CoChangePair{{FileA: "src/auth/login.go", FileB: "src/billing/invoice.go", Count: 2}},
	})
	m := g.Compute(10)
	in := GraphDerivedInput(g, m)

	require.Equal(t, 1, in.DirSpread)
	require.Equal(t, 2, in.CrossDirEdges, "co-change edges cross directories in both directions")
}

func TestContainmentDropsWithCrossingsAndComponents(t *testing.T) {
	scores := ComputeScores(Signals{}, Input{Crossings: 2, Components: 1})
	require.InDelta(t, 0.9, scores.ContainmentScore, 1e-9)

	scores = ComputeScores(Signals{}, Input{Crossings: 30, Components: 10})
	require.Equal(t, 0.0, scores.ContainmentScore)
}

func TestThermalDeathRequiresThreeConditions(t *testing.T) {
	m := graph.Metrics{NodeCount: 10, EdgeCount: 5}
	in := Input{FilesChanged: 20, Conflicts: 1} // two conditions only
	_, ok := detectThermalDeath(m, in)
	require.False(t, ok)

	in.Dependencies = 5 // third condition
	_, ok = detectThermalDeath(m, in)
	require.True(t, ok)
}

func TestCascadeDetectsHighFanoutHub(t *testing.T) {
	g := graph.New()
	hub := g.AddNode(graph.KindFile, "hub.go")
	a := g.AddNode(graph.KindFile, "a.go")
	b := g.AddNode(graph.KindFile, "b.go")
	c := g.AddNode(graph.KindFile, "c.go")
	g.AddEdge(hub, a, graph.EdgeCoLocated, 0.2)
	g.AddEdge(hub, b, graph.EdgeCoLocated, 0.2)
	g.AddEdge(hub, c, graph.EdgeCoLocated, 0.2)

	m := g.Compute(5)
	// Force the hub's PageRank over threshold for a deterministic test.
	m.PageRank[hub] = 10.0

	bombs := DetectBombs(g, m, Input{FilesChanged: 1})
	var found bool
	for _, b := range bombs {
		if b.Kind == "cascade" {
			found = true
		}
	}
	require.True(t, found)
}
