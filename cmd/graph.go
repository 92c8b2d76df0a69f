package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var flagFiles []string

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Print the dependency graph of indexed chunks as JSON",
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

		g, err := eng.DependencyGraph(context.Background(), ref, flagFiles)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	},
}

var structureCmd = &cobra.Command{
	Use:   "structure [path]",
	Short: "Print the structural index (per-file outlines) as JSON",
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

		structures, err := eng.FileStructures(context.Background(), ref)
		if err != nil {
			return err
		}
		out := make(map[string]json.RawMessage, len(structures))
		for _, fs := range structures {
			out[fs.Path] = json.RawMessage(fs.Outline)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	graphCmd.Flags().StringSliceVar(&flagFiles, "file", nil, "restrict the graph to these files (repeatable)")
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(structureCmd)
}
