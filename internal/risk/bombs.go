package risk

import "github.com/ghmbegerez/converge/internal/graph"

// BombSeverity is the fixed severity each detector reports.
type BombSeverity string

const (
	SeverityHigh     BombSeverity = "HIGH"
	SeverityMedium   BombSeverity = "MEDIUM"
	SeverityCritical BombSeverity = "CRITICAL"
)

// Bomb is a structured finding from one of the three detectors.
type Bomb struct {
	Kind     string
	Severity BombSeverity
	Detail   string
}

// DetectBombs runs all three detectors over g/m and the Intent-level
// counts in in.
func DetectBombs(g *graph.Graph, m graph.Metrics, in Input) []Bomb {
	var bombs []Bomb
	if b, ok := detectCascade(g, m, in); ok {
		bombs = append(bombs, b)
	}
	if b, ok := detectSpiral(g, m); ok {
		bombs = append(bombs, b)
	}
	if b, ok := detectThermalDeath(m, in); ok {
		bombs = append(bombs, b)
	}
	return bombs
}

func detectCascade(g *graph.Graph, m graph.Metrics, in Input) (Bomb, bool) {
	n := len(g.Nodes)
	if n == 0 {
		return Bomb{}, false
	}
	threshold := 1.5 / float64(n)

	outDegree := make(map[int]int)
	adj := make(map[int][]int)
	for _, e := range g.Edges {
		outDegree[e.From]++
		adj[e.From] = append(adj[e.From], e.To)
	}

	for _, node := range g.Nodes {
		if node.Kind != graph.KindFile {
			continue
		}
		if m.PageRank[node.ID] <= threshold {
			continue
		}
		if outDegree[node.ID] < 3 {
			continue
		}
		reachable := countReachable(adj, node.ID)
		if float64(reachable) > 1.5*float64(in.FilesChanged) {
			return Bomb{
				Kind:     "cascade",
				Severity: SeverityHigh,
				Detail:   node.Label,
			}, true
		}
	}
	return Bomb{}, false
}

func countReachable(adj map[int][]int, start int) int {
	visited := map[int]struct{}{start: {}}
	queue := []int{start}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range adj[u] {
			if _, ok := visited[v]; ok {
				continue
			}
			visited[v] = struct{}{}
			queue = append(queue, v)
		}
	}
	return len(visited) - 1
}

func detectSpiral(g *graph.Graph, m graph.Metrics) (Bomb, bool) {
	isDAG := len(m.Cycles) == 0
	var longEnough int
	for _, c := range m.Cycles {
		if len(c) >= 2 {
			longEnough++
		}
	}
	if !isDAG && longEnough >= 2 {
		return Bomb{
			Kind:     "spiral",
			Severity: SeverityMedium,
			Detail:   "dependency graph contains multiple cycles",
		}, true
	}
	return Bomb{}, false
}

func detectThermalDeath(m graph.Metrics, in Input) (Bomb, bool) {
	conditions := 0
	if in.FilesChanged > 10 {
		conditions++
	}
	if in.Conflicts > 0 {
		conditions++
	}
	if in.Dependencies > 3 {
		conditions++
	}
	if in.Components > 3 {
		conditions++
	}
	if m.EdgeCount > 2*m.NodeCount {
		conditions++
	}
	if conditions >= 3 {
		return Bomb{
			Kind:     "thermal_death",
			Severity: SeverityCritical,
			Detail:   "multiple structural risk conditions triggered simultaneously",
		}, true
	}
	return Bomb{}, false
}
