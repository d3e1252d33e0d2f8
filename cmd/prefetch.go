package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var prefetchDepth int

var prefetchCmd = &cobra.Command{
	Use:   "prefetch <handle>",
	Short: "Download every file below a handle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		if prefetchDepth < 0 {
			return fmt.Errorf("depth must not be negative")
		}
		return withDrive(cmd, func(ctx context.Context, s *session) error {
			report, err := s.drive.Prefetch(ctx, h, prefetchDepth)
			fmt.Fprintf(cmd.OutOrStdout(), "directories: %d\nmaterialized: %d\nfailed: %d\n",
				report.Directories, report.Materialized, report.Failed)
			return err
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove orphaned files from the content cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrive(cmd, func(ctx context.Context, s *session) error {
			report, err := s.drive.Pipeline().Sweep(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, name := range report.Removed {
				fmt.Fprintf(w, "removed %s\n", name)
			}
			for _, h := range report.Cleared {
				fmt.Fprintf(w, "cleared %d\n", h)
			}
			return nil
		})
	},
}

func init() {
	prefetchCmd.Flags().IntVar(&prefetchDepth, "depth", 0, "directory levels to descend below the handle")
	rootCmd.AddCommand(prefetchCmd, sweepCmd)
}
