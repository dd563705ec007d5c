package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Watch bool
}

// syncResult is the success payload for a one-shot sync.
type syncResult struct {
	Applied     int `json:"applied"`
	AlreadyDone int `json:"already_done"`
	Dropped     int `json:"dropped"`
	Retained    int `json:"retained"`
}

func (r syncResult) String() string {
	return fmt.Sprintf("Synced: %d applied, %d already done, %d dropped, %d still pending.",
		r.Applied, r.AlreadyDone, r.Dropped, r.Retained)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued check-ins against the backend",
		Long: `Drain the pending check-in queue in insertion order.

One-shot by default. With --watch, stays resident: it drains on startup,
then again whenever connectivity is restored, until interrupted.

Example:
  stridesync sync
  stridesync sync --watch --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "stay resident and drain on connectivity changes")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	if opts.Watch {
		return watchSync(ctx, cmd, opts, app)
	}

	stats, err := app.reconciler().Drain(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(syncResult{
		Applied:     stats.Applied,
		AlreadyDone: stats.AlreadyDone,
		Dropped:     stats.Dropped,
		Retained:    stats.Retained,
	})
}

func watchSync(parentCtx context.Context, cmd *cobra.Command, opts *SyncOptions, app *App) error {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	go app.Monitor.Run(ctx, app.connectivityProbe(), app.Config.Gate.ProbeInterval)
	go app.Gate.Run(ctx, app.Monitor)

	slog.Info("sync worker starting", "device", app.Config.DevicePath)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync worker started. Press Ctrl-C to stop.")

	app.reconciler().Run(ctx)

	slog.Info("sync worker stopped")
	return nil
}
