package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/winegame-supervisor/internal/command"
	"github.com/yourusername/winegame-supervisor/internal/config"
	"github.com/yourusername/winegame-supervisor/internal/display"
	"github.com/yourusername/winegame-supervisor/internal/gameconfig"
	"github.com/yourusername/winegame-supervisor/internal/installer"
	"github.com/yourusername/winegame-supervisor/internal/logging"
	"github.com/yourusername/winegame-supervisor/internal/metrics"
	"github.com/yourusername/winegame-supervisor/internal/prefix"
	"github.com/yourusername/winegame-supervisor/internal/toolpath"
)

// ErrPermissionViolation means the supervisor was started as root.
var ErrPermissionViolation = errors.New("refusing to run as root")

// ExitError carries the game server's own non-zero exit code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("game server exited with code %d", e.Code)
}

// Supervisor takes the container from cold start to a running game server
// and back to a clean exit.
type Supervisor struct {
	Config  *config.Config
	Status  *StatusTracker
	Prober  toolpath.Prober
	Runner  command.Runner
	Logger  *slog.Logger
	Restart <-chan time.Time

	// Geteuid and NewProcess are replaced in tests.
	Geteuid    func() int
	NewProcess func() ProcessManager

	display *display.Provisioner
}

// NewSupervisor wires a supervisor with the host implementations.
func NewSupervisor(cfg *config.Config, status *StatusTracker, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		Config:     cfg,
		Status:     status,
		Prober:     toolpath.OSProber{},
		Runner:     command.NewLocalRunner(logger),
		Logger:     logger,
		Geteuid:    os.Geteuid,
		NewProcess: func() ProcessManager { return NewGroupProcess(logging.LineWriter("game")) },
	}
}

// Run executes one supervisor lifetime. It returns nil after a signal or
// scheduled shutdown, *ExitError when the game exits on its own with a
// non-zero code, and a wrapped sentinel for fatal startup failures.
//
// Cancelling ctx requests shutdown. A running startup step is not
// interrupted, but no further step runs and the game is never launched.
func (s *Supervisor) Run(ctx context.Context) error {
	cfg := s.Config
	startCtx := context.WithoutCancel(ctx)

	s.Status.Enter(PhasePreparingEnv, "")
	if s.Geteuid() == 0 {
		return s.fatal(fmt.Errorf("%w: run the supervisor as an unprivileged user", ErrPermissionViolation))
	}

	env, err := toolpath.ResolveEnvironment(cfg, s.Prober, s.Logger)
	if err != nil {
		return s.fatal(fmt.Errorf("failed to resolve runtime environment: %w", err))
	}

	s.display = &display.Provisioner{
		XvfbPath:     env.DisplayServerPath,
		Geometry:     cfg.Display.Geometry,
		StartTimeout: cfg.Display.StartTimeout,
		Output:       logging.LineWriter("xvfb"),
		Logger:       s.Logger,
	}
	if err := s.display.Ensure(startCtx, env.DisplayIdentifier); err != nil {
		log.Printf("[Lifecycle] Warning: continuing without a virtual display: %v", err)
		s.Status.SetDisplay(false)
	} else {
		s.Status.SetDisplay(true)
	}

	preparer := &prefix.Preparer{
		Path:           env.PrefixPath,
		WinePath:       env.CompatRuntime,
		WineServerPath: env.WineServerPath,
		WineDebug:      cfg.Prefix.WineDebug,
		Display:        env.DisplayIdentifier,
		Attempts:       cfg.Prefix.InitAttempts,
		FS:             prefix.OSFS{},
		Runner:         s.Runner,
		Logger:         s.Logger,
	}
	report := preparer.Prepare(startCtx, cfg.Prefix.ForceReset)
	if report.Err != nil {
		metrics.PrefixInitFailures.Inc()
		log.Printf("[Lifecycle] Warning: %v (state %s); the game launch will tell", report.Err, report.State)
	}
	if ctx.Err() != nil {
		return s.abort()
	}

	s.Status.Enter(PhaseUpdating, "")
	inst := &installer.Installer{
		SteamCmdPath:       env.FetcherPath,
		MinExecutableBytes: cfg.Update.MinExecutableBytes,
		Runner:             s.Runner,
		Logger:             s.Logger,
	}
	started := time.Now()
	outcome, err := inst.Sync(startCtx, installer.Request{
		Enabled:    cfg.Update.Enabled,
		AppID:      cfg.Game.AppID,
		InstallDir: env.InstallDir,
		Executable: cfg.Game.Executable,
	})
	if err != nil {
		return s.fatal(err)
	}
	if ctx.Err() != nil {
		return s.abort()
	}
	if !outcome.Skipped {
		metrics.UpdateDurationSeconds.Set(time.Since(started).Seconds())
	}
	if encoded, err := json.Marshal(env); err == nil {
		s.Status.SetEnvironment(string(encoded), outcome.Skipped)
	}

	s.Status.Enter(PhaseStarting, "")
	if _, err := MaterializeConfig(cfg, s.Logger); err != nil {
		return s.fatal(err)
	}
	if ctx.Err() != nil {
		return s.abort()
	}

	proc := s.NewProcess()
	launch := command.Command{
		Path: env.CompatRuntime,
		Args: []string{cfg.ExecutablePath()},
		Env:  preparer.Env(),
		Dir:  env.InstallDir,
	}
	log.Printf("[Lifecycle] Launching game server: %s", launch.String())
	if err := proc.Start(launch); err != nil {
		return s.fatal(fmt.Errorf("failed to launch game server: %w", err))
	}

	s.Status.SetPID(proc.PID())
	s.Status.Enter(PhaseRunning, fmt.Sprintf("pid %d", proc.PID()))
	log.Printf("[Lifecycle] Game server running (pid %d)", proc.PID())

	reason := s.wait(ctx, proc)
	return s.shutdown(proc, reason)
}

func (s *Supervisor) wait(ctx context.Context, proc ProcessManager) string {
	select {
	case <-ctx.Done():
		log.Printf("[Lifecycle] Termination requested")
		return ReasonSignal
	case <-s.Restart:
		log.Printf("[Lifecycle] Scheduled restart")
		return ReasonSchedule
	case <-proc.Exited():
		log.Printf("[Lifecycle] Game server exited with code %d", proc.ExitCode())
		return ReasonGameExit
	}
}

func (s *Supervisor) shutdown(proc ProcessManager, reason string) error {
	s.Status.Enter(PhaseShuttingDown, reason)

	if reason != ReasonGameExit {
		if stopProcess(proc, s.Config.Shutdown.Timeout, log.Printf) {
			metrics.ShutdownEscalations.Inc()
		}
	}
	s.Status.SetPID(0)
	s.stopDisplay()

	code := 0
	if reason == ReasonGameExit {
		code = proc.ExitCode()
		if code < 0 {
			code = 1
		}
	}

	s.Status.Enter(PhaseStopped, reason)
	s.Status.Finish(reason, code)
	log.Printf("[Lifecycle] Supervisor stopped (reason: %s, exit code: %d)", reason, code)

	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// MaterializeConfig writes the canonical game config into the config
// directory, applies the operator overrides, and seeds the install directory
// copy the game reads. It returns the canonical path.
func MaterializeConfig(cfg *config.Config, logger *slog.Logger) (string, error) {
	materializer := gameconfig.NewMaterializer(logger)

	canonical := cfg.ConfigFilePath()
	result, err := materializer.EnsureConfig(canonical, gameconfig.Overrides{
		Name:        cfg.Game.Name,
		Password:    cfg.Game.Password,
		GamePort:    cfg.Game.GamePort,
		QueryPort:   cfg.Game.QueryPort,
		SlotCount:   cfg.Game.SlotCount,
		BindAddress: cfg.Game.BindAddress,
	}, gameconfig.Options{
		ForceRewrite: cfg.Game.ForceRewrite,
		RunAsUser:    cfg.Game.RunAsUser,
	})
	if err != nil {
		return "", fmt.Errorf("failed to materialize %s: %w", canonical, err)
	}
	if result.Changed() {
		log.Printf("[Lifecycle] Game configuration written (created: %v, updated: %v)", result.Created, result.Updated)
	}

	installed := filepath.Join(cfg.Paths.InstallDir, cfg.Game.ConfigFileName)
	copied, err := materializer.CopyIfMissing(canonical, installed, cfg.Game.RunAsUser)
	if err != nil {
		return "", fmt.Errorf("failed to seed %s: %w", installed, err)
	}
	if copied {
		log.Printf("[Lifecycle] Seeded %s from %s", installed, canonical)
	}
	return canonical, nil
}

// abort ends a startup that was asked to stop before the game was launched.
func (s *Supervisor) abort() error {
	log.Printf("[Lifecycle] Termination requested during %s; skipping launch", s.Status.Snapshot().Phase)
	s.Status.Enter(PhaseShuttingDown, ReasonSignal)
	s.stopDisplay()
	s.Status.Enter(PhaseStopped, ReasonSignal)
	s.Status.Finish(ReasonSignal, 0)
	log.Printf("[Lifecycle] Supervisor stopped (reason: %s, exit code: 0)", ReasonSignal)
	return nil
}

func (s *Supervisor) fatal(err error) error {
	s.Logger.Error("Supervisor startup failed", "error", err)
	s.Status.Fail(err)
	s.Status.Enter(PhaseShuttingDown, ReasonFatal)
	s.stopDisplay()
	s.Status.Enter(PhaseStopped, ReasonFatal)
	s.Status.Finish(ReasonFatal, 1)
	return err
}

func (s *Supervisor) stopDisplay() {
	if s.display == nil {
		return
	}
	if err := s.display.Stop(s.Config.Shutdown.Timeout); err != nil {
		log.Printf("[Lifecycle] Warning: %v", err)
	}
}
