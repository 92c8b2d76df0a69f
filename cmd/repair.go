package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair [path]",
	Short: "Reconcile checkpoints with the vector store",
	Long: `Checks every file checkpoint against the vector store. Checkpoints
referencing missing chunks are reset so the next sync re-embeds the file;
vectors no checkpoint references are removed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := repoRoot(args, 0)
		if err != nil {
			return err
		}
		eng, ref, err := openEngine(root)
		if err != nil {
			return err
		}
		defer eng.Close()

		stats, err := eng.Repair(context.Background(), ref)
		if err != nil {
			return err
		}
		fmt.Printf("checked %d files: %d reset for re-embed, %d orphaned chunks removed\n",
			stats.FilesChecked, stats.FilesRepaired, stats.OrphansRemoved)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [path]",
	Short: "Delete a repository's index, vectors, tasks, and checkpoints",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := repoRoot(args, 0)
		if err != nil {
			return err
		}
		eng, ref, err := openEngine(root)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.DeleteRepository(context.Background(), ref); err != nil {
			return err
		}
		fmt.Printf("deleted repository %s\n", ref.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(deleteCmd)
}
