package main

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/docmark/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the conversion tools over MCP on stdio",
	Long: `mcp runs a Model Context Protocol server on stdin/stdout exposing the
convert_document, detect_format and list_formats tools. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		srv := mcpserver.New(engine, version)
		slog.Info("docmark: mcp server starting", "transport", "stdio", "formats", len(engine.Formats()))
		return srv.Run(cmd.Context(), &mcp.StdioTransport{})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
