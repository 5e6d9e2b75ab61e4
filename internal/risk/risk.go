// Package risk implements the four-signal, five-composite-score risk
// engine and the cascade/spiral/thermal-death bomb detectors.
package risk

import (
	"path"
	"strings"

	"github.com/ghmbegerez/converge/internal/graph"
	"github.com/ghmbegerez/converge/internal/intent"
)

// CorePathPrefixes are the configured path prefixes considered "core" for
// contextual_value's core_ratio term.
var CorePathPrefixes = []string{"src/", "lib/", "core/", "pkg/", "internal/", "app/"}

// CoreTargets are branch names considered high-value merge targets.
var CoreTargets = map[string]struct{}{
	"main": {}, "master": {}, "release": {}, "production": {}, "prod": {},
}

var riskBonusTable = map[intent.RiskLevel]float64{
	intent.RiskLow:      0,
	intent.RiskMedium:   5,
	intent.RiskHigh:     15,
	intent.RiskCritical: 30,
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Signals holds the four 0-100 clamped risk signals.
type Signals struct {
	EntropicLoad    float64
	ContextualValue float64
	ComplexityDelta float64
	PathDependence  float64
}

// Scores holds the five composite scores (risk/damage/entropy 0-100,
// propagation 0-100, containment 0-1).
type Scores struct {
	RiskScore        float64
	DamageScore      float64
	EntropyScore     float64
	PropagationScore float64
	ContainmentScore float64
}

// Input bundles everything the signal/score computations need, derived
// from an Intent, its Simulation, and its built Graph.
type Input struct {
	FilesChanged    int
	Conflicts       int
	Dependencies    int
	DirSpread       int
	Components      int
	ImportanceRatio float64
	CoreRatio       float64
	Target          string
	RiskLevel       intent.RiskLevel
	Density         float64
	EdgeNodeRatio   float64
	CrossDirEdges   int
	ScopeCount      int
	CoreTouches     int
	Cycles          int
	LongestPath     int

	AvgOutDegreeFileNodes float64
	ImpactEdgeWeightSum   float64
	UniqueImpactTargets   int

	Crossings int
}

// ComputeSignals computes the four orthogonal signals, each clamped to
// [0, 100].
func ComputeSignals(in Input) Signals {
	entropic := clamp(
		2*float64(in.FilesChanged) +
			15*float64(in.Conflicts) +
			6*float64(in.Dependencies) +
			3*float64(in.DirSpread) +
			5*max0(float64(in.Components-1)),
	)

	targetBonus := 0.0
	if _, ok := CoreTargets[strings.ToLower(in.Target)]; ok {
		targetBonus = 10
	}
	contextual := clamp(
		min(60, 30*in.ImportanceRatio) +
			20*in.CoreRatio +
			targetBonus +
			riskBonusTable[in.RiskLevel],
	)

	complexity := clamp(
		40*in.Density +
			min(30, 10*in.EdgeNodeRatio) +
			3*float64(in.CrossDirEdges) +
			5*float64(in.ScopeCount),
	)

	pathDep := clamp(
		20*float64(in.Conflicts) +
			4*float64(in.CoreTouches) +
			8*float64(in.Dependencies) +
			5*min(20, float64(in.Cycles)) +
			2*float64(in.LongestPath),
	)

	return Signals{
		EntropicLoad:    entropic,
		ContextualValue: contextual,
		ComplexityDelta: complexity,
		PathDependence:  pathDep,
	}
}

// ComputeScores combines the signals into the five composite scores.
func ComputeScores(s Signals, in Input) Scores {
	risk := 0.30*s.EntropicLoad + 0.25*s.ContextualValue + 0.20*s.ComplexityDelta + 0.25*s.PathDependence
	damage := 0.50*s.ContextualValue + 0.30*s.EntropicLoad + 0.20*s.PathDependence
	entropy := s.EntropicLoad

	propagation := min(100,
		min(50, 10*in.AvgOutDegreeFileNodes)+
			min(50, 3*in.ImpactEdgeWeightSum+2*float64(in.UniqueImpactTargets)),
	)

	containment := max0(1 - 0.05*float64(in.Crossings) - 0.03*max0(float64(in.Components-1)))

	return Scores{
		RiskScore:        risk,
		DamageScore:      damage,
		EntropyScore:     entropy,
		PropagationScore: propagation,
		ContainmentScore: containment,
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// ClassifyLevel maps a risk_score to its 25-point risk-level band.
func ClassifyLevel(riskScore float64) intent.RiskLevel {
	switch {
	case riskScore < 25:
		return intent.RiskLow
	case riskScore < 50:
		return intent.RiskMedium
	case riskScore < 75:
		return intent.RiskHigh
	default:
		return intent.RiskCritical
	}
}

// GraphDerivedInput fills the graph-derived fields of Input from a built
// Graph and its Metrics, leaving caller-supplied fields (FilesChanged,
// Conflicts, Dependencies, RiskLevel, Target...) to be set separately.
//
// DirSpread counts directories beyond the first and Components counts
// clusters among the FILE/DIRECTORY subgraph only, so a single-directory
// change contributes nothing to entropic_load: the INTENT/BRANCH cluster is
// structurally disjoint from the file cluster by construction and would
// otherwise inflate every intent's entropy by a constant.
func GraphDerivedInput(g *graph.Graph, m graph.Metrics) Input {
	n := len(g.Nodes)
	var importanceSum float64
	var fileOutDegreeSum float64
	fileCount := 0
	dirs := map[string]struct{}{}
	fileDir := map[int]string{}
	crossDir := 0
	impactWeightSum := 0.0
	impactTargets := map[int]struct{}{}

	for _, node := range g.Nodes {
		if node.Kind == graph.KindFile {
			fileCount++
			importanceSum += m.PageRank[node.ID]
			fileDir[node.ID] = path.Dir(node.Label)
		}
		if node.Kind == graph.KindDirectory {
			dirs[node.Label] = struct{}{}
		}
	}

	outDegree := make(map[int]int)
	for _, e := range g.Edges {
		outDegree[e.From]++
		if e.Kind == graph.EdgeDependsOn || e.Kind == graph.EdgeMergeTarget {
			impactWeightSum += e.Weight
			impactTargets[e.To] = struct{}{}
		}
		fromDir, fromIsFile := fileDir[e.From]
		toDir, toIsFile := fileDir[e.To]
		if fromIsFile && toIsFile && fromDir != toDir {
			crossDir++
		}
	}
	for _, node := range g.Nodes {
		if node.Kind == graph.KindFile {
			fileOutDegreeSum += float64(outDegree[node.ID])
		}
	}

	var edgeNodeRatio float64
	if n > 0 {
		edgeNodeRatio = float64(len(g.Edges)) / float64(n)
	}

	var importanceRatio float64
	if n > 0 && fileCount > 0 {
		uniform := 1.0 / float64(n)
		importanceRatio = importanceSum / uniform
	}

	var avgOutDegree float64
	if fileCount > 0 {
		avgOutDegree = fileOutDegreeSum / float64(fileCount)
	}

	dirSpread := 0
	if len(dirs) > 1 {
		dirSpread = len(dirs) - 1
	}

	return Input{
		FilesChanged:          fileCount,
		DirSpread:             dirSpread,
		Components:            fileSubgraphComponents(g),
		ImportanceRatio:       importanceRatio,
		Density:               m.Density,
		EdgeNodeRatio:         edgeNodeRatio,
		CrossDirEdges:         crossDir,
		Cycles:                len(m.Cycles),
		LongestPath:           m.LongestPath,
		AvgOutDegreeFileNodes: avgOutDegree,
		ImpactEdgeWeightSum:   impactWeightSum,
		UniqueImpactTargets:   len(impactTargets),
	}
}

// fileSubgraphComponents counts weakly connected components restricted to
// FILE and DIRECTORY nodes, via union-find over edges whose endpoints both
// lie in that subgraph.
func fileSubgraphComponents(g *graph.Graph) int {
	members := map[int]struct{}{}
	for _, node := range g.Nodes {
		if node.Kind == graph.KindFile || node.Kind == graph.KindDirectory {
			members[node.ID] = struct{}{}
		}
	}
	if len(members) == 0 {
		return 0
	}

	parent := map[int]int{}
	for id := range members {
		parent[id] = id
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for _, e := range g.Edges {
		_, fromOK := members[e.From]
		_, toOK := members[e.To]
		if !fromOK || !toOK {
			continue
		}
		ra, rb := find(e.From), find(e.To)
		if ra != rb {
			parent[ra] = rb
		}
	}

	roots := map[int]struct{}{}
	for id := range members {
		roots[find(id)] = struct{}{}
	}
	return len(roots)
}

// CoreRatio computes the fraction of changed files matching a configured
// core path prefix.
func CoreRatio(filesChanged []string) float64 {
	if len(filesChanged) == 0 {
		return 0
	}
	var matched int
	for _, f := range filesChanged {
		for _, prefix := range CorePathPrefixes {
			if strings.HasPrefix(f, prefix) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(filesChanged))
}

// CoreTouches counts changed files matching a core path prefix (the raw
// count form used by path_dependence, as opposed to CoreRatio's fraction).
func CoreTouches(filesChanged []string) int {
	var matched int
	for _, f := range filesChanged {
		for _, prefix := range CorePathPrefixes {
			if strings.HasPrefix(f, prefix) {
				matched++
				break
			}
		}
	}
	return matched
}
