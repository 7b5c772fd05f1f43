package console

import (
	"github.com/spf13/cobra"
)

func NewConsoleCommand() *cobra.Command {
	var debug bool
	var pages int

	cmd := &cobra.Command{
		Use:     "console",
		Aliases: []string{"c"},
		Short:   "Drive a content view against a simulated host interactively",
		Args:    cobra.NoArgs,
		Example: `  formbridge console
  formbridge console --pages 3 --debug`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return consoleCmd(debug, pages)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().IntVar(&pages, "pages", 3, "Page count reported in READY")

	return cmd
}
