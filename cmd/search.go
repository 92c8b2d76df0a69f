package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagTopK     int
	flagJSON     bool
	flagChunkIDs bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query> [path]",
	Short: "Semantic search over indexed chunks",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := repoRoot(args, 1)
		if err != nil {
			return err
		}
		eng, ref, err := openEngine(root)
		if err != nil {
			return err
		}
		defer eng.Close()

		results, err := eng.SearchText(context.Background(), ref, args[0], flagTopK)
		if err != nil {
			return err
		}

		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		for _, r := range results {
			fmt.Printf("%-8.4f %s:%d-%d  %s %s\n",
				r.Score, r.Path, r.StartLine, r.EndLine, r.Kind, r.Name)
			if flagChunkIDs {
				fmt.Printf("         chunk %s\n", r.ChunkID)
			}
		}
		return nil
	},
}

var chunksCmd = &cobra.Command{
	Use:   "chunks <chunk-id>...",
	Short: "Print full content of chunks by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := repoRoot(nil, 0)
		if err != nil {
			return err
		}
		eng, ref, err := openEngine(root)
		if err != nil {
			return err
		}
		defer eng.Close()

		chunks, err := eng.Chunks(context.Background(), ref, args)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			fmt.Printf("--- %s %s (%s:%d-%d)\n%s\n", c.Kind, c.Name, c.File, c.StartLine, c.EndLine, c.Content)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&flagTopK, "top", "k", 10, "number of results")
	searchCmd.Flags().BoolVar(&flagJSON, "json", false, "emit raw JSON")
	searchCmd.Flags().BoolVar(&flagChunkIDs, "ids", false, "print chunk ids for follow-up retrieval")
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(chunksCmd)
}
