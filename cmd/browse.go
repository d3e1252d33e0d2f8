package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentic-research/photoman/internal/drive"
	"github.com/agentic-research/photoman/internal/graph"
)

var lsCmd = &cobra.Command{
	Use:   "ls [handle]",
	Short: "List a directory as handle/name pairs (default: the root)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := graph.RootHandle
		if len(args) == 1 {
			var err error
			if h, err = parseHandle(args[0]); err != nil {
				return err
			}
		}
		return withDrive(cmd, func(ctx context.Context, s *session) error {
			return runLs(ctx, s.drive, h, cmd.OutOrStdout())
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <handle>",
	Short: "Download a file if needed and print its local path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		return withDrive(cmd, func(ctx context.Context, s *session) error {
			path, err := s.drive.GetContentPath(ctx, h)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <handle>",
	Short: "Show what is cached for a handle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		return withDrive(cmd, func(_ context.Context, s *session) error {
			return runInfo(s.drive, h, cmd.OutOrStdout())
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Print the handle of a slash-separated path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrive(cmd, func(ctx context.Context, s *session) error {
			h, err := s.drive.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		})
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <handle>",
	Short: "Forget a directory listing or a file's local copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		return withDrive(cmd, func(ctx context.Context, s *session) error {
			return s.drive.Invalidate(ctx, h)
		})
	},
}

func init() {
	rootCmd.AddCommand(lsCmd, getCmd, infoCmd, resolveCmd, invalidateCmd)
}

func parseHandle(s string) (graph.Handle, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q", s)
	}
	return graph.Handle(n), nil
}

// runLs prints one "handle<TAB>name" line per child, directories with a
// trailing slash.
func runLs(ctx context.Context, d *drive.Drive, h graph.Handle, w io.Writer) error {
	entries, err := d.Children(ctx, h)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\n", e.Handle, name); err != nil {
			return err
		}
	}
	return nil
}

func runInfo(d *drive.Drive, h graph.Handle, w io.Writer) error {
	e, err := d.Entry(h)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "handle:    %d\n", e.Handle)
	fmt.Fprintf(w, "name:      %s\n", e.Name)
	fmt.Fprintf(w, "remote_id: %s\n", e.RemoteID)
	fmt.Fprintf(w, "kind:      %s\n", e.Kind)
	fmt.Fprintf(w, "parent:    %d\n", e.Parent)
	fmt.Fprintf(w, "dir:       %t\n", e.IsDir)
	fmt.Fprintf(w, "loaded:    %t\n", e.IsFullyLoaded())
	switch {
	case e.IsDir && e.Children.Loaded():
		fmt.Fprintf(w, "children:  %d\n", e.Children.Len())
	case !e.IsDir && e.Content.Loaded():
		fmt.Fprintf(w, "path:      %s\n", e.Content.Path())
	}
	return nil
}
