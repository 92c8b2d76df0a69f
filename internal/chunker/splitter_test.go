package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_SmallChunkUnchanged(t *testing.T) {
	s := NewSplitter(100, 2)
	c := Chunk{ID: "c1", Name: "small", Content: "func small() {}"}

	out := s.Split(c)

	require.Len(t, out, 1)
	assert.Equal(t, c, out[0])
	assert.Zero(t, out[0].Part)
	assert.Zero(t, out[0].Parts)
}

func TestSplit_OversizedChunkFragments(t *testing.T) {
	// 40 lines of ~20 bytes with a 50-token (200-byte) budget forces
	// multiple windows.
	lines := make([]string, 40)
	for i := range lines {
		lines[i] = "    x = compute(i)  "
	}
	c := Chunk{
		ID:        "orig",
		File:      "big.py",
		Name:      "big",
		Kind:      "function",
		StartLine: 10,
		Content:   strings.Join(lines, "\n"),
		Calls:     []string{"compute"},
	}

	out := NewSplitter(50, 2).Split(c)
	require.Greater(t, len(out), 1)

	for i, frag := range out {
		assert.LessOrEqual(t, EstimateTokens(frag.Content), 50)
		assert.Equal(t, i+1, frag.Part)
		assert.Equal(t, len(out), frag.Parts)

		// Fragments keep the owning symbol's identity but get their own id.
		assert.Equal(t, "big", frag.Name)
		assert.Equal(t, "big.py", frag.File)
		assert.Equal(t, []string{"compute"}, frag.Calls)
		assert.NotEqual(t, "orig", frag.ID)
	}

	// Line ranges stay anchored to the original unit.
	assert.Equal(t, 10, out[0].StartLine)
	assert.Equal(t, 10+len(lines)-1, out[len(out)-1].EndLine)
}

func TestSplit_ConsecutiveFragmentsOverlap(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = "aaaaaaaaaaaaaaaaaaa"
	}
	c := Chunk{ID: "c", StartLine: 1, Content: strings.Join(lines, "\n")}

	out := NewSplitter(25, 3).Split(c)
	require.Greater(t, len(out), 1)

	for i := 1; i < len(out); i++ {
		// Each fragment starts before the previous one ends.
		assert.LessOrEqual(t, out[i].StartLine, out[i-1].EndLine,
			"fragment %d should overlap fragment %d", i, i-1)
	}
}

func TestSplit_SingleHugeLine(t *testing.T) {
	// One line far over budget still produces a fragment rather than
	// looping or dropping content.
	c := Chunk{ID: "c", StartLine: 1, Content: strings.Repeat("x", 5000)}

	out := NewSplitter(100, 2).Split(c)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Part)
	assert.Equal(t, 1, out[0].Parts)
	assert.Equal(t, c.Content, out[0].Content)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
