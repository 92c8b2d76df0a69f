package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds engine configuration. Values come from defaults, then an
// optional .repograph/config.yml in the repository, then CLI flags.
type Config struct {
	// DataDir is where the relational and vector databases live.
	// Defaults to <repo>/.repograph.
	DataDir string `yaml:"data_dir"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// BaseURL of an Ollama-compatible embedding endpoint.
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// Dimension of the vectors the model produces.
	Dimension int `yaml:"dimension"`
	// BatchSize is the maximum number of chunks per provider call.
	BatchSize int `yaml:"batch_size"`
	// Concurrency is the process-wide ceiling on in-flight provider calls.
	Concurrency int `yaml:"concurrency"`
	// MaxRetries per provider call before the stage fails.
	MaxRetries int `yaml:"max_retries"`
}

// ChunkingConfig configures extraction and splitting.
type ChunkingConfig struct {
	// MaxTokens is the per-chunk token budget. Chunks above it are split.
	MaxTokens int `yaml:"max_tokens"`
	// OverlapLines is the line overlap between consecutive fragments of a
	// split chunk.
	OverlapLines int `yaml:"overlap_lines"`
	// ModelBaseClasses are class names that mark a class as a data model
	// when one appears among its superclasses (word-boundary match).
	ModelBaseClasses []string `yaml:"model_base_classes"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	// StageRetries is how many times a stage is retried on transient
	// failure before the task is marked failed.
	StageRetries int `yaml:"stage_retries"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Embedding: EmbeddingConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "nomic-embed-text",
			Dimension:   768,
			BatchSize:   32,
			Concurrency: 4,
			MaxRetries:  3,
		},
		Chunking: ChunkingConfig{
			MaxTokens:    2048,
			OverlapLines: 10,
			ModelBaseClasses: []string{
				"Model", "BaseModel", "Base", "Document", "Entity",
			},
		},
		Pipeline: PipelineConfig{
			StageRetries: 2,
		},
	}
}

// Load reads configuration for a repository rooted at root. A missing
// config file is not an error — defaults apply.
func Load(root string) (Config, error) {
	cfg := Default()
	cfg.DataDir = filepath.Join(root, ".repograph")

	path := filepath.Join(cfg.DataDir, "config.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(root, ".repograph")
	}
	return cfg, nil
}
