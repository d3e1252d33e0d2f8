package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"

	photofs "github.com/agentic-research/photoman/internal/fs"
	"github.com/agentic-research/photoman/internal/logging"
	"github.com/agentic-research/photoman/internal/metrics"
	"github.com/agentic-research/photoman/internal/nfsmount"
)

var (
	mountBackend string
	nfsAddr      string
)

var mountCmd = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Mount the Drive tree read-only",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mountPoint := args[0]
		switch mountBackend {
		case "fuse", "nfs":
		default:
			return fmt.Errorf("backend must be fuse or nfs, got %q", mountBackend)
		}

		return withDrive(cmd, func(ctx context.Context, s *session) error {
			startMetrics(ctx, s.cfg.MetricsAddr)
			if mountBackend == "nfs" {
				return mountNFS(ctx, s, mountPoint)
			}
			return mountFUSE(ctx, s, mountPoint)
		})
	},
}

func init() {
	mountCmd.Flags().StringVar(&mountBackend, "backend", "fuse", "mount backend: fuse or nfs")
	mountCmd.Flags().StringVar(&nfsAddr, "nfs-addr", "", "NFS listen address (default: ephemeral localhost port)")
	rootCmd.AddCommand(mountCmd)
}

func mountFUSE(ctx context.Context, s *session, mountPoint string) error {
	host := fuse.NewFileSystemHost(photofs.NewPhotoFS(ctx, s.drive))

	go func() {
		<-ctx.Done()
		host.Unmount()
	}()

	logging.Info("mounting", zap.String("backend", "fuse"), zap.String("mountpoint", mountPoint))
	// Mount blocks until the filesystem is unmounted.
	if !host.Mount(mountPoint, photofs.MountOptions()) {
		return fmt.Errorf("mount failed")
	}
	return nil
}

func mountNFS(ctx context.Context, s *session, mountPoint string) error {
	srv, err := nfsmount.NewServer(nfsmount.NewDriveFS(ctx, s.drive), nfsAddr)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if err := nfsmount.Mount(srv.Port(), mountPoint); err != nil {
		return err
	}
	logging.Info("mounting", zap.String("backend", "nfs"), zap.String("mountpoint", mountPoint),
		zap.Int("port", srv.Port()))

	<-ctx.Done()
	return nfsmount.Unmount(mountPoint)
}

func startMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr); err != nil {
			logging.Error("metrics server", zap.Error(err))
		}
	}()
}
