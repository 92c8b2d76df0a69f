// Package graph derives a best-effort call graph from a chunk set. Calls
// are resolved purely by symbol name within the indexed chunks: dynamic
// dispatch, reflection, and cross-module aliasing are not resolved, and two
// unrelated symbols sharing a name will appear connected. That is a known
// approximation of this index, not something to paper over.
package graph

import (
	"sort"

	"repograph/internal/chunker"
)

// Node is one chunk in the graph.
type Node struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	File      string `json:"file"`
	Kind      string `json:"kind"`
	Language  string `json:"language"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	IsModel   bool   `json:"is_model,omitempty"`
}

// Edge is a resolved call reference between two chunks.
type Edge struct {
	CallerID string `json:"caller_id"`
	CalleeID string `json:"callee_id"`
	CallName string `json:"call_name"`
}

// Graph is the derived dependency view. It is rebuilt from the live chunk
// set on demand and never persisted.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Build resolves each chunk's recorded call names against the symbol names
// of the other chunks. Unresolved calls (builtins, symbols outside the
// indexed set) are dropped. Fragments of a split chunk resolve like the
// original unit: they share its symbol name.
func Build(chunks []chunker.Chunk) *Graph {
	g := &Graph{}

	// Symbol name → chunk ids. Multiple chunks may claim one name; all of
	// them become callees (the name-aliasing approximation).
	byName := make(map[string][]string)
	for _, c := range chunks {
		g.Nodes = append(g.Nodes, Node{
			ID:        c.ID,
			Name:      c.Name,
			File:      c.File,
			Kind:      c.Kind,
			Language:  c.Language,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			IsModel:   c.IsModel,
		})
		byName[c.Name] = append(byName[c.Name], c.ID)
	}

	seen := make(map[[2]string]bool)
	for _, c := range chunks {
		for _, call := range c.Calls {
			for _, calleeID := range byName[call] {
				if calleeID == c.ID {
					continue // self edge from recursion is kept out
				}
				key := [2]string{c.ID, calleeID}
				if seen[key] {
					continue
				}
				seen[key] = true
				g.Edges = append(g.Edges, Edge{
					CallerID: c.ID,
					CalleeID: calleeID,
					CallName: call,
				})
			}
		}
	}

	sort.Slice(g.Nodes, func(i, j int) bool {
		if g.Nodes[i].File != g.Nodes[j].File {
			return g.Nodes[i].File < g.Nodes[j].File
		}
		return g.Nodes[i].StartLine < g.Nodes[j].StartLine
	})
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].CallerID != g.Edges[j].CallerID {
			return g.Edges[i].CallerID < g.Edges[j].CallerID
		}
		return g.Edges[i].CalleeID < g.Edges[j].CalleeID
	})
	return g
}

// FilterFiles returns a copy of the graph restricted to nodes in the given
// files (and edges whose endpoints both survive). An empty filter returns
// the graph unchanged.
func (g *Graph) FilterFiles(files []string) *Graph {
	if len(files) == 0 {
		return g
	}
	want := make(map[string]bool, len(files))
	for _, f := range files {
		want[f] = true
	}

	out := &Graph{}
	keep := make(map[string]bool)
	for _, n := range g.Nodes {
		if want[n.File] {
			out.Nodes = append(out.Nodes, n)
			keep[n.ID] = true
		}
	}
	for _, e := range g.Edges {
		if keep[e.CallerID] && keep[e.CalleeID] {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}
