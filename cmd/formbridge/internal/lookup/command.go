package lookup

import (
	"strings"

	"github.com/spf13/cobra"
)

type options struct {
	debug   bool
	resolve bool
	asJSON  bool
}

func NewLookupCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:     "lookup <query>",
		Aliases: []string{"l"},
		Short:   "Look up address candidates through the host or the direct provider",
		Args:    cobra.MinimumNArgs(1),
		Example: `  formbridge lookup "1600 Amphitheatre"
  formbridge lookup --resolve "1600 Amphitheatre"
  formbridge lookup --json "10 Downing St"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return lookupCmd(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.resolve, "resolve", false, "Resolve the first candidate to full details")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print results as JSON")

	return cmd
}
