package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"stagecraft/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the config directory",
	Long: `Create the config directory and seed settings.yaml with defaults.

Existing settings are never overwritten. Edit remote.base_url and
remote.token in settings.yaml before committing anything, and set the
` + config.EnvTokenSecret + ` environment variable for confirmation tokens.

Examples:
  stagecraft init`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := config.InitConfigDir(); err != nil {
		return err
	}
	fmt.Printf("Config directory: %s\n", config.ConfigDir())
	fmt.Printf("Settings: %s\n", config.SettingsPath())
	return nil
}
