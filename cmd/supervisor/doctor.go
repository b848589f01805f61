package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/yourusername/winegame-supervisor/internal/config"
	"github.com/yourusername/winegame-supervisor/internal/logging"
	"github.com/yourusername/winegame-supervisor/internal/prefix"
	"github.com/yourusername/winegame-supervisor/internal/schedule"
	"github.com/yourusername/winegame-supervisor/internal/toolpath"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Resolve the runtime environment and report problems",
	Long: `Resolves SteamCMD, Wine, wineserver and Xvfb exactly as the supervisor would,
reports the Wine prefix state and the next scheduled restart, and exits non-zero
when a required tool is missing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger, _ := logging.Init(cfg.Logging, "")
		defer logging.Close()

		env, err := toolpath.ResolveEnvironment(cfg, toolpath.OSProber{}, logger)
		if err != nil {
			return err
		}

		preparer := &prefix.Preparer{Path: cfg.Prefix.Path, FS: prefix.OSFS{}}
		report := map[string]any{
			"environment":  env,
			"prefix_state": preparer.Probe().String(),
			"executable":   executableState(cfg.ExecutablePath()),
		}
		if cfg.Shutdown.RestartSchedule != "" {
			next, err := schedule.NextRun(cfg.Shutdown.RestartSchedule, time.Now())
			if err != nil {
				return fmt.Errorf("invalid restart schedule: %w", err)
			}
			report["next_restart"] = next.Format(time.RFC3339)
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	},
}

func executableState(path string) map[string]any {
	info, err := os.Stat(path)
	if err != nil {
		return map[string]any{"path": path, "present": false}
	}
	return map[string]any{"path": path, "present": true, "size": info.Size()}
}
