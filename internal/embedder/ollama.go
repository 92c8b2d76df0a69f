package embedder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"context"
)

// OllamaEmbedder calls an Ollama-compatible /api/embed endpoint. Each call
// carries its own timeout; retries and the concurrency limit live here so
// every caller gets the same behavior.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
	retry     RetryConfig
	limiter   *Limiter
}

// NewOllamaEmbedder creates an embedder targeting the given instance.
func NewOllamaEmbedder(baseURL, model string, dimension int, limiter *Limiter, retry RetryConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		retry:   retry,
		limiter: limiter,
	}
}

// Model returns the configured model name.
func (e *OllamaEmbedder) Model() string { return e.model }

// Dimension returns the vector dimension the model produces.
func (e *OllamaEmbedder) Dimension() int { return e.dimension }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends a batch of texts to the provider and returns their
// embeddings, same length and order as the input. The call holds one slot
// of the global limiter for its whole duration, retries included.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.limiter.Release()

	result, err := retryWithBackoff(ctx, e.retry, func() ([][]float32, error) {
		return e.embedOnce(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	return result, nil
}

func (e *OllamaEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

// EmbedSingle embeds one text.
func (e *OllamaEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	results, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}
