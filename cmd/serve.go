package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/agentic-research/photoman/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Drive tree as MCP tools on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrive(cmd, func(ctx context.Context, s *session) error {
			startMetrics(ctx, s.cfg.MetricsAddr)
			return mcpserver.New(s.drive, version).ServeStdio()
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
