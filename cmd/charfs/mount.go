package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"charfs/internal/fuseview"
)

func newMountCmd(a *app) *cobra.Command {
	var allowOther bool
	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Serve the filesystem over FUSE until interrupted",
		Long: `Mount the kernel namespace at a host directory. Device paths read as
JSON computed on every open; mkdir and rm act on the kernel filesystem.
The filesystem is persisted when the mount is released.

PUID and PGID set the owner reported for every node.`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(_ context.Context, s *session, _ *cobra.Command, args []string) error {
			cleanMount := filepath.Clean(args[0])

			logger.Debug("Setting up signal handlers...")
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			view := fuseview.NewView(s.kernel)
			done, err := view.Mount(cleanMount, allowOther)
			if err != nil {
				return err
			}
			logger.Info("Filesystem mounted and ready")

			go func() {
				sig := <-sigChan
				logger.Info("Received signal %v", sig)
				if err := view.Unmount(cleanMount); err != nil {
					logger.Error("Unmount error: %v", err)
				}
			}()

			<-done
			logger.Info("Clean shutdown complete")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")
	return cmd
}
