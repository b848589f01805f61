package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/yourusername/winegame-supervisor/internal/api"
	"github.com/yourusername/winegame-supervisor/internal/api/handlers"
	"github.com/yourusername/winegame-supervisor/internal/config"
	"github.com/yourusername/winegame-supervisor/internal/database"
	"github.com/yourusername/winegame-supervisor/internal/logging"
	"github.com/yourusername/winegame-supervisor/internal/schedule"
	"github.com/yourusername/winegame-supervisor/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Prepare, launch and supervise the game server (default)",
	Long: `Runs the full boot sequence: resolve tools, start the virtual display,
prepare the Wine prefix, update the server, write its configuration and launch
it. SIGTERM, SIGINT and SIGHUP trigger a graceful shutdown.`,
	RunE: runSupervisor,
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	runID := uuid.NewString()
	logger, err := logging.Init(cfg.Logging, runID)
	if err != nil {
		log.Printf("Warning: failed to initialize log file: %v", err)
	}
	defer logging.Close()

	log.Printf("Supervisor starting (app %s, install dir %s)", cfg.Game.AppID, cfg.Paths.InstallDir)

	restart, err := schedule.NewRestartTrigger(cfg.Shutdown.RestartSchedule, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer stop()

	// Observers outlive the termination signal so the final phases are
	// still recorded and served.
	observeCtx, stopObservers := context.WithCancel(context.Background())
	defer stopObservers()

	var journal server.Journal
	var history handlers.RunHistory
	if cfg.Status.DatabasePath != "" {
		j, err := database.OpenJournal(cfg.Status.DatabasePath)
		if err != nil {
			log.Printf("Warning: run journal disabled: %v", err)
		} else {
			defer j.Close()
			if n, err := j.CloseInterruptedRuns(time.Now()); err != nil {
				log.Printf("Warning: %v", err)
			} else if n > 0 {
				log.Printf("[Journal] Marked %d unfinished run(s) as interrupted", n)
			}
			journal = j
			history = j
		}
	}

	status := server.NewStatusTracker(runID, journal)

	if cfg.Status.Addr != "" {
		router := api.SetupRouter(status, history, cfg.Logging.Level)
		api.NewServer(cfg.Status.Addr, router).Start(observeCtx)
	}

	restart.Start(observeCtx)
	defer restart.Stop()

	supervisor := server.NewSupervisor(cfg, status, logger)
	supervisor.Restart = restart.C()
	return supervisor.Run(ctx)
}
