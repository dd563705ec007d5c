package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusResult is the success payload for the status command.
type statusResult struct {
	Connected bool   `json:"connected"`
	Gate      string `json:"gate"`
	Pending   int    `json:"pending"`
	User      string `json:"user,omitempty"`
}

func (r statusResult) String() string {
	network := "offline"
	if r.Connected {
		network = "online"
	}
	user := r.User
	if user == "" {
		user = "(signed out)"
	}
	return fmt.Sprintf("Network: %s\nBackend gate: %s\nPending check-ins: %d\nUser: %s",
		network, r.Gate, r.Pending, user)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show connectivity, gate, and queue state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts)
		},
	}
	return cmd
}

func runStatus(cmd *cobra.Command, opts *RootOptions) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	pending, err := app.Queue.Len(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read queue", err)
	}

	result := statusResult{
		Connected: app.Monitor.Connected(),
		Gate:      app.Gate.State().String(),
		Pending:   pending,
	}
	if user, err := app.Auth.CurrentUser(ctx); err == nil {
		result.User = user
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(result)
}
