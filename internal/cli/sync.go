package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/enrolsync/internal/engine"
	"github.com/roach88/enrolsync/internal/telemetry"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Interactive bool

	// Overrides replace engine collaborators (for testing).
	Overrides Overrides
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return newSyncCommand(&SyncOptions{RootOptions: rootOpts})
}

func newSyncCommand(opts *SyncOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one staging run",
		Long: `Fetch every configured source, reconcile the LMS against the staged facts,
and report orphan courses and errors by email.

Scheduled invocations should run without --interactive; only the end of run
state is reported. With --interactive, progress streams to stdout as each
step completes.

Exit status is 0 when the run recorded no errors, 1 when it did, and 2 when
the run could not start.

Example:
  enrolsync sync --config /etc/enrolsync/enrolsync.cue
  enrolsync sync --interactive`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "stream progress as the run proceeds")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
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

	var extra []engine.Option
	if opts.Interactive {
		extra = append(extra, engine.WithProgress(formatter.Progress()))
	}
	eng, err := sess.newEngine(opts.Overrides, extra...)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	run, runErr := eng.Run(ctx)

	metrics := telemetry.New()
	metrics.Observe(run)
	if err := metrics.WriteTextfile(sess.cfg.MetricsFile); err != nil {
		sess.logger.Error("failed to write metrics", "path", sess.cfg.MetricsFile, "error", err)
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "sync interrupted", runErr)
	}

	if err := formatter.RunResult(run.ID, summarizeRun(run)); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if run.HadErrors() {
		return NewExitError(ExitFailure, fmt.Sprintf("sync recorded %d errors", len(run.Errors)))
	}
	return nil
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
