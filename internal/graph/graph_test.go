package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repograph/internal/chunker"
)

func TestBuild_ResolvesCallsByName(t *testing.T) {
	chunks := []chunker.Chunk{
		{ID: "1", Name: "foo", File: "a.py", Kind: "function", Calls: []string{"bar", "open"}},
		{ID: "2", Name: "bar", File: "b.py", Kind: "function"},
	}

	g := Build(chunks)

	require.Len(t, g.Nodes, 2)
	// "open" is not an indexed symbol and is dropped, not invented.
	require.Len(t, g.Edges, 1)
	assert.Equal(t, Edge{CallerID: "1", CalleeID: "2", CallName: "bar"}, g.Edges[0])
}

func TestBuild_NameAliasingConnectsAllClaimants(t *testing.T) {
	// Two unrelated symbols share a name; both become callees.
	chunks := []chunker.Chunk{
		{ID: "1", Name: "caller", File: "a.py", Calls: []string{"save"}},
		{ID: "2", Name: "save", File: "b.py"},
		{ID: "3", Name: "save", File: "c.py"},
	}

	g := Build(chunks)

	require.Len(t, g.Edges, 2)
	callees := []string{g.Edges[0].CalleeID, g.Edges[1].CalleeID}
	assert.ElementsMatch(t, []string{"2", "3"}, callees)
}

func TestBuild_NoSelfEdges(t *testing.T) {
	chunks := []chunker.Chunk{
		{ID: "1", Name: "recurse", File: "a.py", Calls: []string{"recurse"}},
	}

	g := Build(chunks)

	assert.Empty(t, g.Edges)
}

func TestBuild_DuplicateCallsProduceOneEdge(t *testing.T) {
	chunks := []chunker.Chunk{
		{ID: "1", Name: "f", File: "a.py", Calls: []string{"g", "g"}},
		{ID: "2", Name: "g", File: "a.py"},
	}

	g := Build(chunks)

	assert.Len(t, g.Edges, 1)
}

func TestBuild_FragmentsShareSymbolName(t *testing.T) {
	// A split chunk's fragments carry the original symbol name, so callers
	// of that symbol link to every fragment.
	chunks := []chunker.Chunk{
		{ID: "f1", Name: "huge", File: "a.py", Part: 1, Parts: 2},
		{ID: "f2", Name: "huge", File: "a.py", Part: 2, Parts: 2},
		{ID: "c", Name: "caller", File: "b.py", Calls: []string{"huge"}},
	}

	g := Build(chunks)

	require.Len(t, g.Edges, 2)
	for _, e := range g.Edges {
		assert.Equal(t, "c", e.CallerID)
		assert.Equal(t, "huge", e.CallName)
	}
}

func TestFilterFiles_KeepsOnlyInternalEdges(t *testing.T) {
	chunks := []chunker.Chunk{
		{ID: "1", Name: "a", File: "keep.py", Calls: []string{"b", "c"}},
		{ID: "2", Name: "b", File: "keep.py"},
		{ID: "3", Name: "c", File: "drop.py"},
	}

	g := Build(chunks).FilterFiles([]string{"keep.py"})

	require.Len(t, g.Nodes, 2)
	// The edge into drop.py loses an endpoint and disappears.
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "2", g.Edges[0].CalleeID)
}

func TestFilterFiles_EmptyFilterIsIdentity(t *testing.T) {
	g := Build([]chunker.Chunk{{ID: "1", Name: "a", File: "a.py"}})
	assert.Same(t, g, g.FilterFiles(nil))
}

func TestBuild_OutputIsDeterministic(t *testing.T) {
	chunks := []chunker.Chunk{
		{ID: "2", Name: "b", File: "z.py", StartLine: 5},
		{ID: "1", Name: "a", File: "a.py", StartLine: 1, Calls: []string{"b"}},
	}

	g := Build(chunks)

	// Nodes sort by file then start line regardless of input order.
	assert.Equal(t, "1", g.Nodes[0].ID)
	assert.Equal(t, "2", g.Nodes[1].ID)
}
