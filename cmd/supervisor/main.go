package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yourusername/winegame-supervisor/internal/server"
)

// rootCmd runs the supervisor when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "supervisor",
	Short: "Wine game server supervisor",
	Long: `Supervisor is the container entrypoint for a Windows dedicated game server
running under Wine. It installs or updates the server with SteamCMD, writes its
configuration, starts a virtual display, and keeps the server running until the
container is asked to stop.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSupervisor,
}

func init() {
	rootCmd.AddCommand(runCmd, doctorCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *server.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}
