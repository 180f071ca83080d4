package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	healthmcp "github.com/tsilva/parsehealthlog/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  entities  list entities by type, state or name
  entity    one entity with its events
  history   events filtered by entity, type and date range
  current   the current.yaml view
  ages      days since first seen and last update of active entities
  stats     timeline statistics

If the output directory cannot be opened the server still starts;
individual tool calls will return MCP error responses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			var srv *healthmcp.Server
			st, storeErr := newStore(logger)
			if storeErr != nil {
				logger.Error("mcp: failed to open output directory; tool calls will fail", "error", storeErr)
				srv = healthmcp.NewServer(nil, version, logger)
			} else {
				srv = healthmcp.NewServer(st, version, logger)
			}

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: parsehealthlog MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
