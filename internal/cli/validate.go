package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/source"
)

// ValidationIssue is one problem found in a source's settings block.
type ValidationIssue struct {
	Source  string `json:"source"`
	Setting string `json:"setting"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Sources []string          `json:"sources"`
	Issues  []ValidationIssue `json:"issues,omitempty"`
}

// String renders the result for text output.
func (r ValidationResult) String() string {
	var b strings.Builder
	if r.Valid {
		fmt.Fprintf(&b, "✓ Configuration valid (%d source(s))", len(r.Sources))
		return b.String()
	}
	fmt.Fprintf(&b, "✗ %d issue(s) found:", len(r.Issues))
	for _, issue := range r.Issues {
		fmt.Fprintf(&b, "\n  %s.%s: %s", issue.Source, issue.Setting, issue.Message)
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without touching any database",
		Long: `Load the configuration file, apply environment overrides and check it
against the schema. Every source's settings block is then checked against the
settings its type understands: required settings must be present and unknown
keys are reported.

Exit codes:
  0 - Configuration valid
  1 - Source settings have issues
  2 - Configuration could not be loaded`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	result, err := validateSources(cfg, source.DefaultRegistry())
	if err != nil {
		formatter.Error(ErrCodeSources, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to build sources", err)
	}

	if !result.Valid {
		if opts.Format == "json" {
			formatter.Error(ErrCodeInvalidConfig, fmt.Sprintf("%d issue(s) found", len(result.Issues)), result)
		} else {
			fmt.Fprintln(formatter.Writer, result)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d issue(s) found", len(result.Issues)))
	}
	return formatter.Success(result)
}

// validateSources checks every configured settings block against the
// settings its source type describes. Settings with no default are
// required.
func validateSources(cfg config.Config, reg *source.Registry) (ValidationResult, error) {
	result := ValidationResult{Sources: cfg.SourceNames()}

	for _, sc := range cfg.Sources {
		src, err := reg.New(sc, source.Deps{})
		if err != nil {
			return ValidationResult{}, err
		}

		known := make(map[string]bool)
		for _, setting := range src.DescribeSettings() {
			known[setting.Key] = true
			if setting.Default == "" && sc.Setting(setting.Key, "") == "" {
				result.Issues = append(result.Issues, ValidationIssue{
					Source:  sc.Name,
					Setting: setting.Key,
					Message: "required setting is missing",
				})
			}
		}

		keys := make([]string, 0, len(sc.Settings))
		for k := range sc.Settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !known[k] {
				result.Issues = append(result.Issues, ValidationIssue{
					Source:  sc.Name,
					Setting: k,
					Message: fmt.Sprintf("unknown setting for type %s", sc.Type),
				})
			}
		}
	}

	result.Valid = len(result.Issues) == 0
	return result, nil
}
