package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"repograph/internal/config"
	"repograph/internal/embedder"
	"repograph/internal/engine"
	"repograph/internal/store"
	"repograph/internal/vecstore"
)

var (
	flagOllama      string
	flagModel       string
	flagRepo        string
	flagVerbose     bool
	flagMetricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "repograph",
	Short: "Incremental semantic index over a source repository",
	Long: `repograph turns a source repository into a semantically searchable,
incrementally maintained index: tree-sitter chunks, vector search, and a
best-effort call graph, re-indexing only what changed between runs.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagOllama, "ollama", "", "ollama base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "embedding model (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", "", "repository name (default: directory name)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if flagMetricsAddr == "" {
			return
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
	}
}

// repoRoot resolves the repository path argument, defaulting to the
// working directory.
func repoRoot(args []string, idx int) (string, error) {
	path := "."
	if len(args) > idx {
		path = args[idx]
	}
	return filepath.Abs(path)
}

// openEngine builds a fully wired engine for the repository at root.
func openEngine(root string) (*engine.Engine, engine.RepoRef, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, engine.RepoRef{}, err
	}
	if flagOllama != "" {
		cfg.Embedding.BaseURL = flagOllama
	}
	if flagModel != "" {
		cfg.Embedding.Model = flagModel
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, engine.RepoRef{}, fmt.Errorf("create data directory: %w", err)
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	st, err := store.Open(filepath.Join(cfg.DataDir, "index.db"))
	if err != nil {
		return nil, engine.RepoRef{}, fmt.Errorf("open index store: %w", err)
	}
	vs, err := vecstore.Open(filepath.Join(cfg.DataDir, "vectors.db"), cfg.Embedding.Dimension)
	if err != nil {
		st.Close()
		return nil, engine.RepoRef{}, fmt.Errorf("open vector store: %w", err)
	}

	limiter := embedder.NewLimiter(cfg.Embedding.Concurrency)
	retry := embedder.DefaultRetryConfig()
	retry.MaxRetries = cfg.Embedding.MaxRetries
	emb := embedder.NewOllamaEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimension, limiter, retry)

	name := flagRepo
	if name == "" {
		name = filepath.Base(root)
	}
	ref := engine.RepoRef{Name: name, RootPath: root}

	return engine.New(st, vs, emb, cfg, logger), ref, nil
}
