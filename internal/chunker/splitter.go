package chunker

import (
	"strings"

	"github.com/google/uuid"
)

// Splitter enforces a per-chunk token budget. Oversized chunks are cut into
// overlapping line windows so logic spanning a window boundary stays
// retrievable from at least one fragment.
type Splitter struct {
	maxTokens    int
	overlapLines int
}

// NewSplitter creates a splitter with the given token budget and line
// overlap between consecutive fragments.
func NewSplitter(maxTokens, overlapLines int) *Splitter {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	if overlapLines < 0 {
		overlapLines = 0
	}
	return &Splitter{maxTokens: maxTokens, overlapLines: overlapLines}
}

// EstimateTokens approximates the token count of a text. Four characters
// per token is the usual rule of thumb for code-ish input.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Split returns the chunk unchanged when it fits the budget, or a series of
// fragments each within budget. Fragments keep the owning file and symbol
// name and gain 1-based part markers; they are never merged back.
func (s *Splitter) Split(c Chunk) []Chunk {
	if EstimateTokens(c.Content) <= s.maxTokens {
		return []Chunk{c}
	}

	lines := strings.Split(c.Content, "\n")
	budget := s.maxTokens * 4 // budget in bytes

	// First pass: compute window boundaries.
	type window struct{ start, end int } // line indexes, end exclusive
	var windows []window
	start := 0
	for start < len(lines) {
		size := 0
		end := start
		for end < len(lines) {
			lineLen := len(lines[end]) + 1
			if size+lineLen > budget && end > start {
				break
			}
			size += lineLen
			end++
		}
		windows = append(windows, window{start, end})
		if end >= len(lines) {
			break
		}
		next := end - s.overlapLines
		if next <= start {
			next = start + 1
		}
		start = next
	}

	fragments := make([]Chunk, 0, len(windows))
	for i, win := range windows {
		frag := c
		frag.ID = uuid.NewString()
		frag.Content = strings.Join(lines[win.start:win.end], "\n")
		frag.StartLine = c.StartLine + win.start
		frag.EndLine = c.StartLine + win.end - 1
		frag.Part = i + 1
		frag.Parts = len(windows)
		fragments = append(fragments, frag)
	}
	return fragments
}
