package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/osp/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients browse the catalog and drive refreshes. Configure it
in an MCP client with:

  {
    "mcpServers": {
      "osp": { "command": "osp", "args": ["mcp"] }
    }
  }

Available tools: osp_list_projects, osp_refresh_progress,
osp_enqueue_refresh, osp_refresh_project, osp_import_project

Runs queued through osp_enqueue_refresh are processed by 'osp serve'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, r, q, err := catalogDeps()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmdContext(cmd.Context()), shutdownSignals()...)
		defer stop()
		return mcp.NewServer(s, r, q).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
