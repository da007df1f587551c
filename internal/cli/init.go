package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/store"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Database string
}

// InitResult is the output of the init command.
type InitResult struct {
	Database      string `json:"database"`
	SchemaVersion int    `json:"schema_version"`
}

// String renders the result for text output.
func (r InitResult) String() string {
	return fmt.Sprintf("Initialized %s (schema version %d)", r.Database, r.SchemaVersion)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the LMS and staging schema",
		Long: `Create the LMS tables, the staging table and the owned-enrolments view in
the configured LMS database, or migrate an existing database to the current
schema version. Safe to run repeatedly.

Example:
  enrolsync init --config /etc/enrolsync/enrolsync.cue
  enrolsync init --db ./lms.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "LMS database path (overrides lms_db from the config file)")

	return cmd
}

func runInit(cmd *cobra.Command, opts *InitOptions) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	path := opts.Database
	if path == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		path = cfg.LMSDB
	}

	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open LMS database", err)
	}
	defer st.Close()

	version, err := st.SchemaVersion(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read schema version", err)
	}

	return formatter.Success(InitResult{Database: path, SchemaVersion: version})
}
