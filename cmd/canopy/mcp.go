package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/pkg/adapters/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp <scenario>",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts the scenario engine as an MCP server so agents can inspect statistics,
traits, groups and gradient checks as tools.

Supported transports:
- stdio (default): standard input and output, for local process integration.
- sse: Server-Sent Events over HTTP, for remote agents.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")

		eng, err := openEngine(cmd, args)
		if err != nil {
			return err
		}
		defer eng.Close()

		srv := mcp.NewServer(eng, mcp.WithLogger(logger))
		switch transport {
		case "stdio":
			// Logs go to stderr so they cannot corrupt JSON-RPC on stdout.
			logger.Info("starting canopy MCP server (stdio)")
			return srv.ServeStdio()
		case "sse":
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.ServeSSE(ctx, port)
		default:
			return fmt.Errorf("unknown transport %q, supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8080, "Port to listen on (only for SSE)")
}
