package graph

import "sort"

// PageRankIterations and PageRankTolerance are the fixed power-iteration
// parameters.
const (
	PageRankIterations = 50
	PageRankTolerance  = 1e-6
	dampingFactor      = 0.85
)

// Metrics is the computed summary of a Graph.
type Metrics struct {
	NodeCount             int
	EdgeCount             int
	Density               float64
	WeaklyConnectedGroups int
	PageRank              map[int]float64
	TopKPageRank          []int
	Cycles                [][]int
	LongestPath           int
}

// Density returns edges / (n(n-1)) for a directed graph, or 0 for a
// singleton or empty graph.
func (g *Graph) Density() float64 {
	n := len(g.Nodes)
	if n <= 1 {
		return 0
	}
	return float64(len(g.Edges)) / float64(n*(n-1))
}

// WeaklyConnectedComponents returns the number of weakly connected
// components using an undirected view, via union-find.
func (g *Graph) WeaklyConnectedComponents() int {
	n := len(g.Nodes)
	if n == 0 {
		return 0
	}
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}
	for _, e := range g.Edges {
		union(e.From, e.To)
	}
	roots := make(map[int]struct{})
	for i := range parent {
		roots[find(i)] = struct{}{}
	}
	return len(roots)
}

// PageRank computes weighted PageRank via fixed-iteration power iteration
// (50 iterations, 1e-6 tolerance cutoff).
func (g *Graph) PageRank() map[int]float64 {
	n := len(g.Nodes)
	rank := make(map[int]float64, n)
	if n == 0 {
		return rank
	}
	for i := range g.Nodes {
		rank[i] = 1.0 / float64(n)
	}

	outWeight := make([]float64, n)
	adj := make([][]Edge, n)
	for _, e := range g.Edges {
		outWeight[e.From] += e.Weight
		adj[e.From] = append(adj[e.From], e)
	}

	for iter := 0; iter < PageRankIterations; iter++ {
		next := make([]float64, n)
		base := (1 - dampingFactor) / float64(n)
		for i := range next {
			next[i] = base
		}
		for from := 0; from < n; from++ {
			if outWeight[from] == 0 {
				continue
			}
			for _, e := range adj[from] {
				share := rank[from] * (e.Weight / outWeight[from])
				next[e.To] += dampingFactor * share
			}
		}
		var delta float64
		for i := 0; i < n; i++ {
			d := next[i] - rank[i]
			if d < 0 {
				d = -d
			}
			delta += d
		}
		for i := 0; i < n; i++ {
			rank[i] = next[i]
		}
		if delta < PageRankTolerance {
			break
		}
	}
	return rank
}

// TopKPageRank returns the k highest-ranked node IDs, descending.
func TopKPageRank(rank map[int]float64, k int) []int {
	ids := make([]int, 0, len(rank))
	for id := range rank {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if rank[ids[i]] != rank[ids[j]] {
			return rank[ids[i]] > rank[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if k < len(ids) {
		ids = ids[:k]
	}
	return ids
}

// maxCycles caps the number of simple cycles enumerated.
const maxCycles = 10

// SimpleCycles enumerates up to maxCycles simple cycles using Johnson's
// blocking scheme, searching from each start node only through nodes with
// a higher handle (no strongly-connected-component decomposition); stops
// early once the cap is reached.
func (g *Graph) SimpleCycles() [][]int {
	n := len(g.Nodes)
	adj := make([][]int, n)
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	var cycles [][]int
	blocked := make([]bool, n)
	blockMap := make([]map[int]struct{}, n)
	for i := range blockMap {
		blockMap[i] = make(map[int]struct{})
	}
	var stack []int

	unblock := func(u int) {
		var rec func(int)
		rec = func(u int) {
			blocked[u] = false
			for w := range blockMap[u] {
				delete(blockMap[u], w)
				if blocked[w] {
					rec(w)
				}
			}
		}
		rec(u)
	}

	var circuit func(v, start int) bool
	circuit = func(v, start int) bool {
		if len(cycles) >= maxCycles {
			return false
		}
		found := false
		stack = append(stack, v)
		blocked[v] = true

		for _, w := range adj[v] {
			if len(cycles) >= maxCycles {
				break
			}
			if w == start {
				cyc := append([]int(nil), stack...)
				cycles = append(cycles, cyc)
				found = true
			} else if w > start && !blocked[w] {
				if circuit(w, start) {
					found = true
				}
			}
		}

		if found {
			unblock(v)
		} else {
			for _, w := range adj[v] {
				if w >= start {
					blockMap[w][v] = struct{}{}
				}
			}
		}
		stack = stack[:len(stack)-1]
		return found
	}

	for start := 0; start < n && len(cycles) < maxCycles; start++ {
		for i := range blocked {
			blocked[i] = false
			blockMap[i] = make(map[int]struct{})
		}
		stack = nil
		circuit(start, start)
	}

	return cycles
}

// LongestPath returns the longest path length (edge count) in the DAG view.
// If the graph is cyclic, it is computed over a topological order of the
// acyclic subset reachable via Kahn's algorithm, ignoring edges that would
// re-enter an already-ordered node.
func (g *Graph) LongestPath() int {
	n := len(g.Nodes)
	if n == 0 {
		return 0
	}
	indeg := make([]int, n)
	adj := make([][]int, n)
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
		indeg[e.To]++
	}

	var queue []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, n)
	indegWork := append([]int(nil), indeg...)
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		order = append(order, u)
		for _, v := range adj[u] {
			indegWork[v]--
			if indegWork[v] == 0 {
				queue = append(queue, v)
			}
		}
	}

	dist := make([]int, n)
	for _, u := range order {
		for _, v := range adj[u] {
			if dist[u]+1 > dist[v] {
				dist[v] = dist[u] + 1
			}
		}
	}

	longest := 0
	for _, d := range dist {
		if d > longest {
			longest = d
		}
	}
	return longest
}

// Compute assembles the full Metrics summary for g.
func (g *Graph) Compute(topK int) Metrics {
	rank := g.PageRank()
	return Metrics{
		NodeCount:             len(g.Nodes),
		EdgeCount:             len(g.Edges),
		Density:               g.Density(),
		WeaklyConnectedGroups: g.WeaklyConnectedComponents(),
		PageRank:              rank,
		TopKPageRank:          TopKPageRank(rank, topK),
		Cycles:                g.SimpleCycles(),
		LongestPath:           g.LongestPath(),
	}
}
