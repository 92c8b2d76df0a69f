package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"repograph/internal/engine"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp [path]",
	Short: "Start an MCP server exposing search and graph tools over stdio",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	root, err := repoRoot(args, 0)
	if err != nil {
		return err
	}
	eng, ref, err := openEngine(root)
	if err != nil {
		return err
	}
	defer eng.Close()

	s := mcpserver.NewMCPServer("repograph", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(searchCodeTool(), makeSearchCodeHandler(eng, ref))
	s.AddTool(getChunksTool(), makeGetChunksHandler(eng, ref))
	s.AddTool(dependencyGraphTool(), makeGraphHandler(eng, ref))
	s.AddTool(fileStructureTool(), makeStructureHandler(eng, ref))

	return mcpserver.ServeStdio(s)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchCodeTool() mcp.Tool {
	return mcp.NewTool("search_code",
		mcp.WithDescription("Semantically search indexed code chunks. Returns ranked summaries with chunk ids; use get_chunks for full content."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language or keyword query"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of results (default 10)"),
		),
	)
}

func getChunksTool() mcp.Tool {
	return mcp.NewTool("get_chunks",
		mcp.WithDescription("Get full content of chunks by id, in the requested order. Ids come from search_code results."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("chunk_ids",
			mcp.Required(),
			mcp.Description("Comma-separated chunk ids"),
		),
	)
}

func dependencyGraphTool() mcp.Tool {
	return mcp.NewTool("dependency_graph",
		mcp.WithDescription("Get the name-based call graph of the indexed repository as JSON nodes and edges, optionally restricted to specific files."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("files",
			mcp.Description("Optional comma-separated file paths to restrict the graph to"),
		),
	)
}

func fileStructureTool() mcp.Tool {
	return mcp.NewTool("file_structure",
		mcp.WithDescription("Get per-file outlines (functions, classes, constants) from the structural index."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("path",
			mcp.Description("Optional file path; omit to list every file"),
		),
	)
}

// --- Handler factories ---

func makeSearchCodeHandler(eng *engine.Engine, ref engine.RepoRef) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", 10)
		if k <= 0 {
			k = 10
		}

		results, err := eng.SearchText(ctx, ref, query, k)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No results found for query: %q", query)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Search results for %q (%d chunks)\n\n", query, len(results))
		for i, r := range results {
			fmt.Fprintf(&sb, "%d. **%s** %s (`%s:%d-%d`, %s) — chunk `%s`\n",
				i+1, r.Kind, r.Name, r.Path, r.StartLine, r.EndLine, r.Language, r.ChunkID)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeGetChunksHandler(eng *engine.Engine, ref engine.RepoRef) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw := req.GetString("chunk_ids", "")
		if raw == "" {
			return mcp.NewToolResultError("chunk_ids is required"), nil
		}
		var ids []string
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}

		chunks, err := eng.Chunks(ctx, ref, ids)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("get chunks failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcp.NewToolResultError("none of the requested chunk ids exist — re-run search_code for fresh ids"), nil
		}

		var sb strings.Builder
		for _, c := range chunks {
			fmt.Fprintf(&sb, "### %s %s (`%s:%d-%d`)\n\n", c.Kind, c.Name, c.File, c.StartLine, c.EndLine)
			if c.Parts > 1 {
				fmt.Fprintf(&sb, "Part %d of %d\n\n", c.Part, c.Parts)
			}
			fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", strings.ToLower(c.Language), c.Content)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeGraphHandler(eng *engine.Engine, ref engine.RepoRef) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var files []string
		if raw := req.GetString("files", ""); raw != "" {
			for _, f := range strings.Split(raw, ",") {
				if f = strings.TrimSpace(f); f != "" {
					files = append(files, f)
				}
			}
		}

		g, err := eng.DependencyGraph(ctx, ref, files)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("graph failed: %v", err)), nil
		}
		data, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode graph failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func makeStructureHandler(eng *engine.Engine, ref engine.RepoRef) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := req.GetString("path", "")

		structures, err := eng.FileStructures(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("structure failed: %v", err)), nil
		}

		out := make(map[string]json.RawMessage)
		for _, fs := range structures {
			if path == "" || fs.Path == path {
				out[fs.Path] = json.RawMessage(fs.Outline)
			}
		}
		if path != "" && len(out) == 0 {
			return mcp.NewToolResultError(fmt.Sprintf("file %q not found in the structural index", path)), nil
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode structure failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}
