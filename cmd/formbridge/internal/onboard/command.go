package onboard

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/formbridge/cmd/formbridge/internal"
	"github.com/tinyland-inc/formbridge/pkg/config"
)

func NewOnboardCommand() *cobra.Command {
	var force bool
	var path string

	cmd := &cobra.Command{
		Use:     "onboard",
		Aliases: []string{"o"},
		Short:   "Write a default configuration file",
		Args:    cobra.NoArgs,
		Example: `  formbridge onboard
  formbridge onboard --force
  formbridge onboard --config ./formbridge.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = internal.GetConfigPath()
			}
			return onboard(cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().StringVar(&path, "config", "", "Config file path (default: ~/.formbridge/config.json)")

	return cmd
}

func onboard(cmd *cobra.Command, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}
	if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Config written to %s\n", internal.Logo, path)
	return nil
}
