package main

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"sonomap/internal/daemon"
	"sonomap/internal/ipc"
	"sonomap/internal/logging"
)

// newDaemonCommand runs the analysis service in the foreground until
// interrupted or stopped over IPC.
func newDaemonCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the analysis daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      cfg.Logging.Format,
				OutputPaths: []string{"stderr", filepath.Join(cfg.Paths.LogDir, "sonomap.log")},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			server, err := ipc.NewServer(ctx, cfg.Daemon.SocketPath, d, logger)
			if err != nil {
				return err
			}
			server.Serve()
			defer server.Close()

			if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newStopCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stop()
				if err != nil {
					return err
				}
				if resp.Stopping {
					cmd.Println("daemon is stopping")
				}
				return nil
			})
		},
	}
}

func newRescanCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rescan",
		Short: "Re-scan the dataset and analyze new files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withClient(func(client *ipc.Client) error {
				resp, err := client.Rescan()
				if err != nil {
					return err
				}
				if resp.Queued {
					cmd.Println("rescan queued")
				}
				return nil
			})
		},
	}
}
