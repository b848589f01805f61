package prefix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/winegame-supervisor/internal/command"
)

// ErrPrefixInitFailed is reported when wineboot could not initialize the prefix.
// It is never fatal: the game launch is the final check.
var ErrPrefixInitFailed = errors.New("wine prefix initialization failed")

// State of a Wine prefix, derived from the marker file.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

const (
	// MarkerName is written inside the prefix once initialization completed.
	MarkerName = ".supervisor-prefix-ready"
	// systemRegistry exists in every prefix wineboot finished populating.
	systemRegistry = "system.reg"
)

// FS is the filesystem capability the preparer needs.
type FS interface {
	Exists(path string) bool
	MkdirAll(path string) error
	RemoveAll(path string) error
	WriteFile(path string, data []byte) error
}

// OSFS implements FS on the real filesystem.
type OSFS struct{}

func (OSFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSFS) MkdirAll(path string) error { return os.MkdirAll(path, 0755) }

func (OSFS) RemoveAll(path string) error { return os.RemoveAll(path) }

func (OSFS) WriteFile(path string, data []byte) error { return os.WriteFile(path, data, 0644) }

// Preparer drives a Wine prefix from Uninitialized to Ready exactly once.
type Preparer struct {
	Path           string
	WinePath       string
	WineServerPath string
	WineDebug      string
	Display        string
	Attempts       int

	FS     FS
	Runner command.Runner
	Now    func() time.Time
	Logger *slog.Logger

	state State
}

// Report describes what Prepare did.
type Report struct {
	State    State
	Reset    bool
	Attempts int
	// Err wraps ErrPrefixInitFailed when initialization did not succeed.
	Err error
}

// MarkerPath returns the location of the readiness marker.
func (p *Preparer) MarkerPath() string {
	return filepath.Join(p.Path, MarkerName)
}

// Probe reads the current state from disk.
func (p *Preparer) Probe() State {
	if p.FS.Exists(p.MarkerPath()) {
		p.state = Ready
	} else {
		p.state = Uninitialized
	}
	return p.state
}

// State returns the last observed state.
func (p *Preparer) State() State {
	return p.state
}

// Prepare ensures the prefix is Ready. With forceReset the prefix directory is
// deleted and recreated empty first. Initialization failures are returned in
// the report, never as a hard error.
func (p *Preparer) Prepare(ctx context.Context, forceReset bool) Report {
	logger := p.logger()
	report := Report{}

	if forceReset {
		logger.Warn("Resetting wine prefix", "prefix", p.Path)
		if err := p.reset(); err != nil {
			report.State = p.Probe()
			report.Err = fmt.Errorf("%w: reset: %v", ErrPrefixInitFailed, err)
			return report
		}
		report.Reset = true
	}

	if p.Probe() == Ready {
		logger.Info("Wine prefix already initialized", "prefix", p.Path)
		report.State = Ready
		return report
	}

	if err := p.FS.MkdirAll(p.Path); err != nil {
		report.State = p.state
		report.Err = fmt.Errorf("%w: create prefix: %v", ErrPrefixInitFailed, err)
		return report
	}

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	p.state = Initializing
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		report.Attempts = attempt
		logger.Info("Initializing wine prefix", "prefix", p.Path, "attempt", attempt, "max_attempts", attempts)

		lastErr = p.initialize(ctx)
		if lastErr == nil {
			break
		}
		logger.Warn("Wine prefix initialization attempt failed", "attempt", attempt, "error", lastErr)
	}

	if lastErr != nil {
		p.state = Uninitialized
		report.State = Uninitialized
		report.Err = fmt.Errorf("%w after %d attempts: %v", ErrPrefixInitFailed, report.Attempts, lastErr)
		return report
	}

	stamp := fmt.Sprintf("initialized_at=%s\n", p.now().UTC().Format(time.RFC3339))
	if err := p.FS.WriteFile(p.MarkerPath(), []byte(stamp)); err != nil {
		p.state = Uninitialized
		report.State = Uninitialized
		report.Err = fmt.Errorf("%w: write marker: %v", ErrPrefixInitFailed, err)
		return report
	}

	p.state = Ready
	report.State = Ready
	logger.Info("Wine prefix ready", "prefix", p.Path)
	return report
}

// initialize runs one Uninitialized -> Ready attempt. wineboot returns
// non-zero in benign cases, so a populated registry also counts as success.
func (p *Preparer) initialize(ctx context.Context) error {
	env := p.Env()

	if p.WineServerPath != "" {
		// A stray wineserver from an earlier boot would hold the prefix.
		if _, err := p.Runner.Run(ctx, command.Command{Path: p.WineServerPath, Args: []string{"-k"}, Env: env}); err != nil {
			p.logger().Debug("No stray wineserver to terminate", "error", err)
		}
	}

	_, bootErr := p.Runner.Run(ctx, command.Command{Path: p.WinePath, Args: []string{"wineboot", "--init"}, Env: env})

	if p.WineServerPath != "" {
		if _, err := p.Runner.Run(ctx, command.Command{Path: p.WineServerPath, Args: []string{"-w"}, Env: env}); err != nil {
			p.logger().Warn("wineserver did not quiesce cleanly", "error", err)
		}
	}

	if bootErr == nil {
		return nil
	}
	if p.FS.Exists(filepath.Join(p.Path, systemRegistry)) {
		p.logger().Warn("wineboot exited non-zero but prefix is populated", "error", bootErr)
		return nil
	}
	return bootErr
}

func (p *Preparer) reset() error {
	if err := p.FS.RemoveAll(p.Path); err != nil {
		return err
	}
	if err := p.FS.MkdirAll(p.Path); err != nil {
		return err
	}
	p.state = Uninitialized
	return nil
}

// Env returns the variables every Wine invocation against this prefix needs.
func (p *Preparer) Env() []string {
	env := []string{
		"WINEPREFIX=" + p.Path,
		// Skip the interactive Mono and Gecko installers during wineboot.
		"WINEDLLOVERRIDES=mscoree,mshtml=",
	}
	if p.WineDebug != "" {
		env = append(env, "WINEDEBUG="+p.WineDebug)
	}
	if p.Display != "" {
		env = append(env, "DISPLAY="+p.Display)
	}
	return env
}

func (p *Preparer) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Preparer) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
