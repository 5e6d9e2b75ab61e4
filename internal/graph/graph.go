// Package graph builds and analyzes the per-Intent dependency graph: a
// directed, weighted, typed multigraph over files, directories, scopes,
// dependencies, the Intent itself, and its target branch.
package graph

import (
	"path"
	"sort"
	"strings"
)

// NodeKind is the closed vocabulary of node types.
type NodeKind string

const (
	KindFile       NodeKind = "FILE"
	KindDirectory  NodeKind = "DIRECTORY"
	KindScope      NodeKind = "SCOPE"
	KindDependency NodeKind = "DEPENDENCY"
	KindIntent     NodeKind = "INTENT"
	KindBranch     NodeKind = "BRANCH"
)

// EdgeKind is the closed vocabulary of edge types and their fixed weights.
type EdgeKind string

const (
	EdgeContainedIn   EdgeKind = "contained_in"
	EdgeCoLocated     EdgeKind = "co_located"
	EdgeScopeContains EdgeKind = "scope_contains"
	EdgeScopeTouches  EdgeKind = "scope_touches"
	EdgeDependsOn     EdgeKind = "depends_on"
	EdgeMergeTarget   EdgeKind = "merge_target"
	EdgeCoChange      EdgeKind = "co_change"
)

// FixedWeight returns the fixed weight for edge kinds that don't carry a
// computed weight (co_change is computed per pair).
func FixedWeight(k EdgeKind) float64 {
	switch k {
	case EdgeContainedIn:
		return 0.3
	case EdgeCoLocated:
		return 0.2
	case EdgeScopeContains:
		return 0.5
	case EdgeScopeTouches:
		return 0.2
	case EdgeDependsOn:
		return 0.8
	case EdgeMergeTarget:
		return 1.0
	default:
		return 0
	}
}

// Node is a stable integer-handled vertex; nothing outside the per-run
// graph holds pointers into it.
type Node struct {
	ID    int
	Kind  NodeKind
	Label string
}

// Edge connects two node handles.
type Edge struct {
	From, To int
	Kind     EdgeKind
	Weight   float64
}

// Graph is a typed directed multigraph built fresh per Intent.
type Graph struct {
	Nodes []Node
	Edges []Edge

	byLabel map[string]int // "KIND:label" -> node id
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{byLabel: make(map[string]int)}
}

func labelKey(kind NodeKind, label string) string { return string(kind) + ":" + label }

// AddNode returns the existing node handle for (kind, label) if one exists,
// else creates and returns a new one.
func (g *Graph) AddNode(kind NodeKind, label string) int {
	key := labelKey(kind, label)
	if id, ok := g.byLabel[key]; ok {
		return id
	}
	id := len(g.Nodes)
	g.Nodes = append(g.Nodes, Node{ID: id, Kind: kind, Label: label})
	g.byLabel[key] = id
	return id
}

// AddEdge appends a new edge; multigraph semantics mean duplicate (from,
// to, kind) triples are allowed and not deduplicated.
func (g *Graph) AddEdge(from, to int, kind EdgeKind, weight float64) {
	g.Edges = append(g.Edges, Edge{From: from, To: to, Kind: kind, Weight: weight})
}

// CoChangePair is one historical co-change observation between two files.
type CoChangePair struct {
	FileA, FileB string
	Count        int
}

// BuildInput is everything the builder needs to construct a graph for one
// Intent.
type BuildInput struct {
	IntentID        string
	Target          string
	FilesChanged    []string
	ScopeHints      []string
	Dependencies    []string
	CoChangeHistory []CoChangePair
}

// Build constructs the per-Intent graph: file and directory nodes with
// containment and co-location edges, scope nodes, the intent/dependency/
// branch cluster, and historical co-change edges.
func Build(in BuildInput) *Graph {
	g := New()

	// Step 1: FILE nodes and DIRECTORY ancestor nodes, contained_in edges.
	fileNodes := make(map[string]int, len(in.FilesChanged))
	dirFiles := make(map[string][]string)
	for _, f := range in.FilesChanged {
		fileID := g.AddNode(KindFile, f)
		fileNodes[f] = fileID
		dir := path.Dir(f)
		dirID := g.AddNode(KindDirectory, dir)
		g.AddEdge(fileID, dirID, EdgeContainedIn, FixedWeight(EdgeContainedIn))
		dirFiles[dir] = append(dirFiles[dir], f)
	}

	// Step 2: co_located pairwise bidirectional edges within each directory.
	for _, files := range dirFiles {
		sort.Strings(files)
		for i := 0; i < len(files); i++ {
			for j := i + 1; j < len(files); j++ {
				a, b := fileNodes[files[i]], fileNodes[files[j]]
				g.AddEdge(a, b, EdgeCoLocated, FixedWeight(EdgeCoLocated))
				g.AddEdge(b, a, EdgeCoLocated, FixedWeight(EdgeCoLocated))
			}
		}
	}

	// Step 3: SCOPE nodes, scope_contains / scope_touches edges.
	for _, scope := range in.ScopeHints {
		scopeID := g.AddNode(KindScope, scope)
		folded := strings.ToLower(scope)
		for _, f := range in.FilesChanged {
			fileID := fileNodes[f]
			if strings.Contains(strings.ToLower(f), folded) {
				g.AddEdge(scopeID, fileID, EdgeScopeContains, FixedWeight(EdgeScopeContains))
			} else {
				g.AddEdge(scopeID, fileID, EdgeScopeTouches, FixedWeight(EdgeScopeTouches))
			}
		}
	}

	// Step 4: INTENT and BRANCH nodes, depends_on + merge_target edges.
	intentID := g.AddNode(KindIntent, in.IntentID)
	for _, dep := range in.Dependencies {
		depID := g.AddNode(KindDependency, dep)
		g.AddEdge(intentID, depID, EdgeDependsOn, FixedWeight(EdgeDependsOn))
	}
	branchID := g.AddNode(KindBranch, in.Target)
	g.AddEdge(intentID, branchID, EdgeMergeTarget, FixedWeight(EdgeMergeTarget))

	// Step 5: co_change edges weighted min(1.0, 0.1 x pairs).
	for _, pair := range in.CoChangeHistory {
		aID, aOK := fileNodes[pair.FileA]
		bID, bOK := fileNodes[pair.FileB]
		if !aOK || !bOK {
			continue
		}
		w := 0.1 * float64(pair.Count)
		if w > 1.0 {
			w = 1.0
		}
		g.AddEdge(aID, bID, EdgeCoChange, w)
		g.AddEdge(bID, aID, EdgeCoChange, w)
	}

	return g
}
