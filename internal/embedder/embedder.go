// Package embedder turns chunk text into vectors via an external provider.
// All provider calls share one process-wide concurrency limiter and retry
// transient failures with exponential backoff.
package embedder

import (
	"context"
	"errors"
)

// Sentinel errors.
var (
	// ErrProviderFailed wraps provider responses that exhausted retries.
	ErrProviderFailed = errors.New("embedding provider failed")
)

// Embedder generates embeddings for batches of texts. The returned slice
// always has the same length and order as the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimension() int
}
