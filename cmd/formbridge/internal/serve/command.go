package serve

import (
	"github.com/spf13/cobra"
)

type options struct {
	debug       bool
	mode        string
	url         string
	pages       int
	allowReinit bool
}

func NewServeCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Run a headless content view attached to a host",
		Args:    cobra.NoArgs,
		Example: `  formbridge serve --mode stdio
  formbridge serve --mode websocket --url ws://127.0.0.1:8787/bridge
  formbridge serve --pages 4 --allow-reinit`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveCmd(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Host mode: none, stdio or websocket (overrides config)")
	cmd.Flags().StringVar(&opts.url, "url", "", "Host WebSocket URL (overrides config)")
	cmd.Flags().IntVar(&opts.pages, "pages", 1, "Page count reported in READY")
	cmd.Flags().BoolVar(&opts.allowReinit, "allow-reinit", false, "Accept INIT after the handshake")

	return cmd
}
