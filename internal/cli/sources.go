package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/enrolsync/internal/ir"
	"github.com/roach88/enrolsync/internal/source"
)

// SourceType describes one registered source type.
type SourceType struct {
	Type     string       `json:"type"`
	Settings []ir.Setting `json:"settings"`
}

// SourceTypes is the output of the sources command.
type SourceTypes []SourceType

// String renders the source types for text output.
func (s SourceTypes) String() string {
	var b strings.Builder
	for i, st := range s {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n", st.Type)
		if len(st.Settings) == 0 {
			b.WriteString("  (no settings)\n")
		}
		for _, set := range st.Settings {
			fmt.Fprintf(&b, "  %s: %s", set.Key, set.Help)
			if set.Default != "" {
				fmt.Fprintf(&b, " (default %q)", set.Default)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewSourcesCommand creates the sources command.
func NewSourcesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List source types and their settings",
		Long: `List every registered source type with the settings it reads from the
settings block of a source entry in the configuration file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:  rootOpts.Format,
				Writer:  cmd.OutOrStdout(),
				Verbose: rootOpts.Verbose,
			}
			return formatter.Success(describeSources(source.DefaultRegistry()))
		},
	}
	return cmd
}

func describeSources(reg *source.Registry) SourceTypes {
	described := reg.Describe()
	out := make(SourceTypes, 0, len(described))
	for _, typ := range reg.Types() {
		settings := described[typ]
		if settings == nil {
			settings = []ir.Setting{}
		}
		out = append(out, SourceType{Type: typ, Settings: settings})
	}
	return out
}
