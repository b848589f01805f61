package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/winegame-supervisor/internal/config"
	"github.com/yourusername/winegame-supervisor/internal/installer"
	"github.com/yourusername/winegame-supervisor/internal/prefix"
	"github.com/yourusername/winegame-supervisor/internal/toolpath"
)

// sandboxProber only sees executables below root, hiding any Wine or Xvfb
// installed on the host.
type sandboxProber struct {
	toolpath.OSProber
	root string
}

func (p sandboxProber) IsExecutable(path string) bool {
	if !strings.HasPrefix(path, p.root+string(filepath.Separator)) {
		return false
	}
	return p.OSProber.IsExecutable(path)
}

func (p sandboxProber) LookPath(name string) (string, error) {
	return "", errors.New("not found")
}

func (p sandboxProber) Find(root string, maxDepth int, match func(path string) bool) (string, bool) {
	return "", false
}

type journalCall struct {
	method string
	phase  string
	reason string
	code   int
}

type fakeJournal struct {
	mu    sync.Mutex
	calls []journalCall
}

func (j *fakeJournal) record(c journalCall) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, c)
	return nil
}

func (j *fakeJournal) StartRun(runID, phase string, at time.Time) error {
	return j.record(journalCall{method: "start", phase: phase})
}

func (j *fakeJournal) RecordPhase(runID, phase, detail string, at time.Time) error {
	return j.record(journalCall{method: "phase", phase: phase})
}

func (j *fakeJournal) SetPID(runID string, pid int) error {
	return j.record(journalCall{method: "pid"})
}

func (j *fakeJournal) SetEnvironment(runID, environment string, updateSkipped bool) error {
	return j.record(journalCall{method: "environment"})
}

func (j *fakeJournal) FinishRun(runID, reason string, exitCode int, errMsg string, at time.Time) error {
	return j.record(journalCall{method: "finish", reason: reason, code: exitCode})
}

func (j *fakeJournal) phases() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, c := range j.calls {
		if c.method == "start" || c.method == "phase" {
			out = append(out, c.phase)
		}
	}
	return out
}

func (j *fakeJournal) finish() (journalCall, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range j.calls {
		if c.method == "finish" {
			return c, true
		}
	}
	return journalCall{}, false
}

func (j *fakeJournal) launched() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range j.calls {
		if c.method == "pid" {
			return true
		}
	}
	return false
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

const fakeSteamCmd = `printf 'MZfake' > "$4/enshrouded_server.exe"`

func fakeWine(game string) string {
	return `if [ "$1" = "wineboot" ]; then
  mkdir -p "$WINEPREFIX" && : > "$WINEPREFIX/system.reg"
  exit 0
fi
pwd > "$WINEPREFIX/launch_dir"
` + game
}

type harness struct {
	cfg     *config.Config
	journal *fakeJournal
	sup     *Supervisor
}

func newHarness(t *testing.T, steamcmd, wine string) *harness {
	t.Helper()
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	if err := os.MkdirAll(bin, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeScript(t, filepath.Join(bin, "steamcmd"), steamcmd)
	writeScript(t, filepath.Join(bin, "wine"), wine)
	writeScript(t, filepath.Join(bin, "wineserver"), "exit 0")

	cfg := config.Default()
	cfg.Paths.InstallDir = filepath.Join(root, "install")
	cfg.Paths.ConfigDir = filepath.Join(root, "config")
	cfg.Prefix.Path = filepath.Join(root, "prefix")
	cfg.Tools.SteamCmdPath = filepath.Join(bin, "steamcmd")
	cfg.Tools.WinePath = filepath.Join(bin, "wine")
	cfg.Tools.SearchRoot = root
	cfg.Game.RunAsUser = ""
	cfg.Game.Name = "Harness"
	cfg.Update.MinExecutableBytes = 1
	cfg.Shutdown.Timeout = 2 * time.Second

	journal := &fakeJournal{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sup := NewSupervisor(cfg, NewStatusTracker("run-test", journal), logger)
	sup.Prober = sandboxProber{root: root}
	sup.Geteuid = func() int { return 1000 }

	return &harness{cfg: cfg, journal: journal, sup: sup}
}

func waitForPhase(t *testing.T, status *StatusTracker, phase Phase, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if status.Snapshot().Phase == phase {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %s, still %s", phase, status.Snapshot().Phase)
}

func TestSupervisorSignalShutdown(t *testing.T) {
	h := newHarness(t, fakeSteamCmd, fakeWine("exec sleep 30"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()

	waitForPhase(t, h.sup.Status, PhaseRunning, 10*time.Second)

	snap := h.sup.Status.Snapshot()
	if !snap.Healthy() {
		t.Fatalf("expected healthy snapshot while running, got %+v", snap)
	}
	if snap.DisplayAvailable {
		t.Fatalf("expected degraded display mode without Xvfb")
	}

	if _, err := os.Stat(h.cfg.ConfigFilePath()); err != nil {
		t.Fatalf("expected canonical config: %v", err)
	}
	installed := filepath.Join(h.cfg.Paths.InstallDir, h.cfg.Game.ConfigFileName)
	data, err := os.ReadFile(installed)
	if err != nil {
		t.Fatalf("expected config seeded into install dir: %v", err)
	}
	if !strings.Contains(string(data), `"name": "Harness"`) {
		t.Fatalf("expected override in seeded config, got %s", data)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Prefix.Path, prefix.MarkerName)); err != nil {
		t.Fatalf("expected prefix marker: %v", err)
	}

	cancelled := time.Now()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(h.cfg.Shutdown.Timeout + 5*time.Second):
		t.Fatalf("supervisor did not stop within the shutdown bound")
	}
	if elapsed := time.Since(cancelled); elapsed > h.cfg.Shutdown.Timeout+time.Second {
		t.Fatalf("shutdown took %v", elapsed)
	}

	launchDir, err := os.ReadFile(filepath.Join(h.cfg.Prefix.Path, "launch_dir"))
	if err != nil {
		t.Fatalf("expected launch dir record: %v", err)
	}
	if got := strings.TrimSpace(string(launchDir)); got != h.cfg.Paths.InstallDir {
		t.Fatalf("expected game to run in %s, got %s", h.cfg.Paths.InstallDir, got)
	}

	want := []string{"booting", "preparing_env", "updating", "starting", "running", "shutting_down", "stopped"}
	if got := h.journal.phases(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected phases: %v", got)
	}
	finish, ok := h.journal.finish()
	if !ok || finish.reason != ReasonSignal || finish.code != 0 {
		t.Fatalf("unexpected finish record: %+v", finish)
	}
	if snap := h.sup.Status.Snapshot(); snap.PID != 0 || snap.Phase != PhaseStopped {
		t.Fatalf("unexpected final snapshot: %+v", snap)
	}
}

func TestSupervisorGameExitPropagatesCode(t *testing.T) {
	h := newHarness(t, fakeSteamCmd, fakeWine("exit 7"))

	err := h.sup.Run(context.Background())
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 7 {
		t.Fatalf("expected exit code 7, got %v", err)
	}
	finish, _ := h.journal.finish()
	if finish.reason != ReasonGameExit || finish.code != 7 {
		t.Fatalf("unexpected finish record: %+v", finish)
	}
}

func TestSupervisorCleanGameExit(t *testing.T) {
	h := newHarness(t, fakeSteamCmd, fakeWine("exit 0"))

	if err := h.sup.Run(context.Background()); err != nil {
		t.Fatalf("expected nil error for a clean game exit, got %v", err)
	}
}

func TestSupervisorScheduledRestart(t *testing.T) {
	h := newHarness(t, fakeSteamCmd, fakeWine("exec sleep 30"))
	restart := make(chan time.Time, 1)
	h.sup.Restart = restart

	done := make(chan error, 1)
	go func() { done <- h.sup.Run(context.Background()) }()

	waitForPhase(t, h.sup.Status, PhaseRunning, 10*time.Second)
	restart <- time.Now()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("supervisor did not stop after scheduled restart")
	}
	finish, _ := h.journal.finish()
	if finish.reason != ReasonSchedule {
		t.Fatalf("expected schedule reason, got %+v", finish)
	}
}

func TestSupervisorRefusesRoot(t *testing.T) {
	h := newHarness(t, fakeSteamCmd, fakeWine("exec sleep 30"))
	h.sup.Geteuid = func() int { return 0 }

	err := h.sup.Run(context.Background())
	if !errors.Is(err, ErrPermissionViolation) {
		t.Fatalf("expected permission violation, got %v", err)
	}
	finish, _ := h.journal.finish()
	if finish.reason != ReasonFatal || finish.code != 1 {
		t.Fatalf("unexpected finish record: %+v", finish)
	}
	if _, err := os.Stat(h.cfg.Paths.InstallDir); !os.IsNotExist(err) {
		t.Fatalf("expected no install work before the root check")
	}
}

func TestSupervisorUpdateFailureIsFatal(t *testing.T) {
	h := newHarness(t, "exit 5", fakeWine("exec sleep 30"))

	err := h.sup.Run(context.Background())
	if !errors.Is(err, installer.ErrUpdateFailed) {
		t.Fatalf("expected update failure, got %v", err)
	}
	if snap := h.sup.Status.Snapshot(); snap.LastError == "" || snap.Phase != PhaseStopped || snap.PID != 0 {
		t.Fatalf("unexpected snapshot after fatal error: %+v", snap)
	}
	if h.journal.launched() {
		t.Fatalf("game server was launched after a failed update")
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Prefix.Path, "launch_dir")); !os.IsNotExist(err) {
		t.Fatalf("expected wine never to run the game, stat err %v", err)
	}
}

func TestSupervisorCancelledBeforeLaunch(t *testing.T) {
	h := newHarness(t, fakeSteamCmd, fakeWine("exec sleep 30"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.sup.Run(ctx); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
	if h.journal.launched() {
		t.Fatalf("game server was launched although shutdown was requested first")
	}
	if _, err := os.Stat(h.cfg.ExecutablePath()); !os.IsNotExist(err) {
		t.Fatalf("expected steamcmd not to run, stat err %v", err)
	}

	want := []string{"booting", "preparing_env", "shutting_down", "stopped"}
	if got := h.journal.phases(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected phases: %v", got)
	}
	finish, ok := h.journal.finish()
	if !ok || finish.reason != ReasonSignal || finish.code != 0 {
		t.Fatalf("unexpected finish record: %+v", finish)
	}
}

func TestSupervisorCancelledDuringUpdate(t *testing.T) {
	h := newHarness(t, "sleep 1\n"+fakeSteamCmd, fakeWine("exec sleep 30"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()

	waitForPhase(t, h.sup.Status, PhaseUpdating, 10*time.Second)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("supervisor did not stop after cancellation")
	}
	if h.journal.launched() {
		t.Fatalf("game server was launched although shutdown was requested during the update")
	}
	want := []string{"booting", "preparing_env", "updating", "shutting_down", "stopped"}
	if got := h.journal.phases(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected phases: %v", got)
	}
}

func TestSupervisorSkipsUpdateWhenDisabled(t *testing.T) {
	h := newHarness(t, "exit 5", fakeWine("exit 0"))
	h.cfg.Update.Enabled = false
	if err := os.MkdirAll(h.cfg.Paths.InstallDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(h.cfg.ExecutablePath(), []byte("MZ"), 0644); err != nil {
		t.Fatalf("write exe: %v", err)
	}

	if err := h.sup.Run(context.Background()); err != nil {
		t.Fatalf("expected steamcmd to be skipped, got %v", err)
	}
	if !h.sup.Status.Snapshot().UpdateSkipped {
		t.Fatalf("expected update to be reported as skipped")
	}
}

func TestSupervisorMissingWineIsFatal(t *testing.T) {
	h := newHarness(t, fakeSteamCmd, fakeWine("exit 0"))
	h.cfg.Tools.WinePath = filepath.Join(t.TempDir(), "missing-wine")

	err := h.sup.Run(context.Background())
	if !errors.Is(err, toolpath.ErrToolNotFound) {
		t.Fatalf("expected tool not found, got %v", err)
	}
}
