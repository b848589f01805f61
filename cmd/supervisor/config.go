package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yourusername/winegame-supervisor/internal/config"
	"github.com/yourusername/winegame-supervisor/internal/logging"
	"github.com/yourusername/winegame-supervisor/internal/server"
)

var exportSettingsPath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write the game server configuration and print it",
	Long: `Materializes the game server configuration file with the current overrides,
without touching SteamCMD, Wine or the display, and prints the result.
With --export the effective supervisor settings are also saved as YAML.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger, _ := logging.Init(cfg.Logging, "")
		defer logging.Close()

		path, err := server.MaterializeConfig(cfg, logger)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, data)

		if exportSettingsPath != "" {
			if err := config.Save(cfg, exportSettingsPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Supervisor settings written to %s\n", exportSettingsPath)
		}
		return nil
	},
}

func init() {
	configCmd.Flags().StringVar(&exportSettingsPath, "export", "", "also save the effective supervisor settings as YAML to this path")
}
