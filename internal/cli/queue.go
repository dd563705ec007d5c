package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// queueEntry is one pending event in the queue listing.
type queueEntry struct {
	EventID     string `json:"event_id"`
	ChallengeID string `json:"challenge_id"`
	Date        string `json:"date"`
	Note        string `json:"note,omitempty"`
}

// queueResult is the success payload for the queue command.
type queueResult struct {
	Pending int          `json:"pending"`
	Events  []queueEntry `json:"events"`
}

func (r queueResult) String() string {
	if r.Pending == 0 {
		return "Queue is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending check-in(s):\n", r.Pending)
	for _, e := range r.Events {
		fmt.Fprintf(&b, "  %s  %s  %s", e.Date, e.ChallengeID, e.EventID)
		if e.Note != "" {
			fmt.Fprintf(&b, "  (%s)", e.Note)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List check-ins waiting to sync",
		Long: `List pending check-in events in the order they will replay.

Example:
  stridesync queue
  stridesync queue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(cmd, rootOpts)
		},
	}
	return cmd
}

func runQueue(cmd *cobra.Command, opts *RootOptions) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	events, err := app.Queue.List(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list queue", err)
	}

	result := queueResult{Pending: len(events), Events: []queueEntry{}}
	for _, ev := range events {
		result.Events = append(result.Events, queueEntry{
			EventID:     ev.ID,
			ChallengeID: ev.ChallengeID,
			Date:        ev.Date.In(app.Loc).Format(time.DateOnly),
			Note:        ev.Note,
		})
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(result)
}
