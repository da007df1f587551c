package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/enrolsync/internal/notify"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions

	// Overrides replace engine collaborators (for testing).
	Overrides Overrides
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	return newPlanCommand(&PlanOptions{RootOptions: rootOpts})
}

func newPlanCommand(opts *PlanOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a sync would change",
		Long: `Fetch every configured source and refresh the staging table, then print the
additions and removals a sync would apply and whether the unenrol threshold
would refuse the removals. No enrolment is changed and no email is sent.

Example:
  enrolsync plan --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts)
		},
	}

	return cmd
}

func runPlan(cmd *cobra.Command, opts *PlanOptions) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sess, err := openSession(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()

	overrides := opts.Overrides
	overrides.Notifier = &notify.Recorder{}
	eng, err := sess.newEngine(overrides)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	run, err := eng.Plan(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "plan interrupted", err)
	}

	if err := formatter.RunResult(run.ID, summarizePlan(run)); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if run.HadErrors() {
		return NewExitError(ExitFailure, fmt.Sprintf("plan recorded %d errors", len(run.Errors)))
	}
	return nil
}
