package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"repograph/internal/engine"
	"repograph/internal/store"
)

var (
	flagFull      bool
	flagArtifacts bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a repository (full with --full, incremental otherwise)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex(args, engine.SubmitOptions{
			ForceFull:     flagFull,
			ArtifactsOnly: flagArtifacts,
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [path]",
	Short: "Incrementally sync a repository, reprocessing only changed files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex(args, engine.SubmitOptions{})
	},
}

func init() {
	indexCmd.Flags().BoolVar(&flagFull, "full", false, "reprocess every file regardless of checkpoints")
	indexCmd.Flags().BoolVar(&flagArtifacts, "artifacts", false, "rebuild derived artifacts without re-embedding")
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(syncCmd)
}

func runIndex(args []string, opts engine.SubmitOptions) error {
	root, err := repoRoot(args, 0)
	if err != nil {
		return err
	}
	eng, ref, err := openEngine(root)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	taskID, err := eng.Submit(ctx, ref, opts)
	if err != nil {
		var active *engine.TaskActiveError
		if errors.As(err, &active) {
			return fmt.Errorf("a task is already running for this repository (task %s)", active.ExistingTaskID)
		}
		return err
	}
	fmt.Fprintf(os.Stderr, "task %s started\n", taskID)

	events, err := eng.StreamProgress(ctx, taskID)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("indexing"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	var last engine.Event
	for ev := range events {
		if ev.KeepAlive {
			continue
		}
		last = ev
		bar.Describe(ev.StageLabel)
		_ = bar.Set(ev.Progress)
	}
	_ = bar.Finish()

	// The stream closes on cancellation too; report what actually happened.
	switch last.Status {
	case store.StatusCompleted:
		fmt.Fprintf(os.Stderr, "done: %d files processed\n", last.FilesProcessed)
		return nil
	case store.StatusCancelled:
		return fmt.Errorf("task cancelled")
	case store.StatusFailed:
		return fmt.Errorf("task failed at %s: %s", last.FailedStage, last.Error)
	default:
		if ctx.Err() != nil {
			if err := eng.Cancel(taskID); err == nil {
				fmt.Fprintln(os.Stderr, "interrupted, cancelling task")
			}
			return ctx.Err()
		}
		return fmt.Errorf("task ended in state %q", last.Status)
	}
}
