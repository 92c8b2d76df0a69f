package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"repograph/internal/engine"
	"repograph/internal/store"
)

var flagWatch bool

var statusCmd = &cobra.Command{
	Use:   "status <task-id> [path]",
	Short: "Show a task's status, or follow it with --watch",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := repoRoot(args, 1)
		if err != nil {
			return err
		}
		eng, _, err := openEngine(root)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx := context.Background()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if !flagWatch {
			task, err := eng.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return enc.Encode(engineEvent(task))
		}

		events, err := eng.StreamProgress(ctx, args[0])
		if err != nil {
			return err
		}
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&flagWatch, "watch", false, "stream status updates until the task finishes")
	rootCmd.AddCommand(statusCmd)
}

// engineEvent shapes a task record like a stream event so both output modes
// print the same fields.
func engineEvent(t *store.Task) engine.Event {
	return engine.Event{
		TaskID:         t.ID,
		Status:         t.Status,
		Progress:       t.Progress,
		StageLabel:     t.StageLabel,
		FilesTotal:     t.FilesTotal,
		FilesProcessed: t.FilesProcessed,
		FailedStage:    t.FailedStage,
		Error:          t.Error,
		Time:           t.UpdatedAt,
	}
}
