// formbridge - Bridge between embedded form content views and their host
// License: MIT
//
// Copyright (c) 2026 formbridge contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/formbridge/cmd/formbridge/internal"
	"github.com/tinyland-inc/formbridge/cmd/formbridge/internal/console"
	"github.com/tinyland-inc/formbridge/cmd/formbridge/internal/lookup"
	"github.com/tinyland-inc/formbridge/cmd/formbridge/internal/onboard"
	"github.com/tinyland-inc/formbridge/cmd/formbridge/internal/serve"
	"github.com/tinyland-inc/formbridge/cmd/formbridge/internal/version"
)

func NewFormbridgeCommand() *cobra.Command {
	short := fmt.Sprintf("%s formbridge - content view to host bridge v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:          "formbridge",
		Short:        short,
		Example:      "formbridge serve --mode stdio",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		onboard.NewOnboardCommand(),
		serve.NewServeCommand(),
		lookup.NewLookupCommand(),
		console.NewConsoleCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewFormbridgeCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
