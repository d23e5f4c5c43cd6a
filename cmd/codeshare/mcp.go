package main

import (
	"github.com/spf13/cobra"

	"github.com/Thordata/thordata-llm-code-share/internal/logging"
	"github.com/Thordata/thordata-llm-code-share/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tree over MCP stdio",
		Long: "MCP starts a Model Context Protocol server on stdin/stdout exposing\n" +
			"list_tree, read_file, build_cache, cache_meta and read_chunk tools.\n" +
			"Point an MCP-capable assistant at this command to let it browse the tree.",
		RunE: runMCP,
	}

	addRepoFlags(cmd)

	return cmd
}

func runMCP(cmd *cobra.Command, args []string) error {
	logger := logging.GetDefault()

	_, set, err := loadRepos(cmd)
	if err != nil {
		return err
	}

	// stdout belongs to the JSON-RPC transport; logging stays on stderr.
	srv := mcp.NewServer(set, version, logger)
	return srv.Start()
}
