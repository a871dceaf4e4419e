package loupe

import (
	"fmt"
	"sort"

	"loupe/internal/sym"
)

// maxGraphDepth caps BFS traversal depth regardless of the request.
const maxGraphDepth = 100

// CallGraph is a transitive call graph rooted at one symbol. Edges are
// bulk-loaded from the snapshot then walked with BFS; no per-node
// lookups during traversal.
type CallGraph struct {
	Root  string          `json:"root"`
	Nodes []CallGraphNode `json:"nodes"`
	Edges []CallEdge      `json:"edges,omitempty"`
	Depth int             `json:"depth"`

	// Truncated marks a traversal stopped by the depth cap while
	// unvisited neighbors remained.
	Truncated bool `json:"truncated,omitempty"`
}

// CallGraphNode is a reachable symbol with its BFS distance from the
// root; the root itself has depth zero.
type CallGraphNode struct {
	Symbol *sym.Symbol `json:"symbol"`
	Depth  int         `json:"depth"`
}

// Callees direction walks caller→callee; Callers walks the reverse.
type Direction int

const (
	DirCallees Direction = iota
	DirCallers
)

// CallGraphOptions shapes a traversal.
type CallGraphOptions struct {
	Direction Direction
	MaxDepth  int

	// Summary omits the edge list and keeps only nodes with depths,
	// which is what most tooling consumers want for large graphs.
	Summary bool
}

// CallGraph walks the call graph from the symbol matching query.
// MaxDepth 0 returns only the root.
func (q *QueryBuilder) CallGraph(query string, opts CallGraphOptions) (*CallGraph, error) {
	if opts.MaxDepth < 0 {
		return nil, fmt.Errorf("call graph: max depth must be non-negative, got %d", opts.MaxDepth)
	}
	if opts.MaxDepth > maxGraphDepth {
		opts.MaxDepth = maxGraphDepth
	}

	root, err := q.Symbol(query)
	if err != nil {
		return nil, err
	}
	snap := q.engine.Snapshot()

	result := &CallGraph{
		Root:  root.Hash,
		Nodes: []CallGraphNode{{Symbol: root, Depth: 0}},
	}
	if opts.MaxDepth == 0 {
		return result, nil
	}

	adj := adjacency(snap, opts.Direction == DirCallers)

	visited := map[string]int{root.Hash: 0}
	queue := []string{root.Hash}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		depth := visited[cur]
		if depth >= opts.MaxDepth {
			for _, next := range adj[cur] {
				if _, seen := visited[next]; !seen {
					result.Truncated = true
				}
			}
			continue
		}
		for _, next := range adj[cur] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = depth + 1
			if depth+1 > result.Depth {
				result.Depth = depth + 1
			}
			s, ok := snap.Symbols[next]
			if !ok {
				continue
			}
			result.Nodes = append(result.Nodes, CallGraphNode{Symbol: s, Depth: depth + 1})
			queue = append(queue, next)
		}
	}

	if !opts.Summary {
		for k, n := range snap.Edges {
			_, inCaller := visited[k.Caller]
			_, inCallee := visited[k.Callee]
			if !inCaller || !inCallee {
				continue
			}
			caller, ok1 := snap.Symbols[k.Caller]
			callee, ok2 := snap.Symbols[k.Callee]
			if !ok1 || !ok2 {
				continue
			}
			result.Edges = append(result.Edges, CallEdge{Caller: caller, Callee: callee, Count: n})
		}
		sortEdges(result.Edges)
	}
	sortNodes(result.Nodes)
	return result, nil
}

func sortNodes(nodes []CallGraphNode) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.Symbol.QualifiedName != b.Symbol.QualifiedName {
			return a.Symbol.QualifiedName < b.Symbol.QualifiedName
		}
		return a.Symbol.Hash < b.Symbol.Hash
	})
}

func sortEdges(edges []CallEdge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Caller.Hash != b.Caller.Hash {
			return a.Caller.Hash < b.Caller.Hash
		}
		return a.Callee.Hash < b.Callee.Hash
	})
}
