package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stridehq/stridesync/internal/engine"
)

// CheckinOptions holds flags for the checkin command.
type CheckinOptions struct {
	*RootOptions
	Note     string
	Duration int
}

// checkinResult is the success payload for the checkin command.
type checkinResult struct {
	Status        string `json:"status"`
	ChallengeID   string `json:"challenge_id"`
	Streak        int    `json:"streak,omitempty"`
	DaysCompleted int    `json:"days_completed,omitempty"`
	Completed     bool   `json:"completed,omitempty"`
}

func (r checkinResult) String() string {
	switch r.Status {
	case "queued_offline":
		return fmt.Sprintf("Saved. %s will sync when you're back online.", r.ChallengeID)
	case "already_checked_in":
		return fmt.Sprintf("Already checked in today. Streak: %d, days completed: %d.",
			r.Streak, r.DaysCompleted)
	default:
		if r.Completed {
			return fmt.Sprintf("Challenge complete! %d days done.", r.DaysCompleted)
		}
		return fmt.Sprintf("Checked in. Streak: %d, days completed: %d.",
			r.Streak, r.DaysCompleted)
	}
}

// NewCheckinCommand creates the checkin command.
func NewCheckinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkin <challenge-id>",
		Short: "Record today's check-in for a challenge",
		Long: `Record a completion for the given challenge on the current calendar day.

Online, the check-in is confirmed against the backend before anything is
shown as done. Offline, it is queued durably and reported as saved; the
sync command (or any later connectivity) replays it.

Example:
  stridesync checkin morning-run
  stridesync checkin morning-run --note "5k in the rain" --duration 30`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckin(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Note, "note", "", "optional note for this check-in")
	cmd.Flags().IntVar(&opts.Duration, "duration", 0, "optional duration in minutes")

	return cmd
}

func runCheckin(cmd *cobra.Command, opts *CheckinOptions, challengeID string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	outcome, err := app.coordinator().CheckIn(ctx, challengeID, opts.Note, opts.Duration)
	if err != nil {
		var cerr *engine.CheckInError
		if errors.As(err, &cerr) {
			_ = out.Error(string(cerr.Code), cerr.Message)
		}
		return WrapExitError(ExitFailure, "check-in failed", err)
	}

	result := checkinResult{
		Status:      outcome.Status.String(),
		ChallengeID: challengeID,
	}
	if outcome.Status != engine.StatusQueuedOffline {
		result.Streak = outcome.Challenge.StreakCount
		result.DaysCompleted = outcome.Challenge.DaysCompleted
		result.Completed = outcome.Challenge.Completed
	}
	return out.Success(result)
}
