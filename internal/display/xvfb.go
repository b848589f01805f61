package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrDisplayUnavailable means the supervisor continues without a virtual display.
var ErrDisplayUnavailable = errors.New("virtual display unavailable")

const pollInterval = 100 * time.Millisecond

// Provisioner starts and stops an Xvfb instance for the Wine runtime.
type Provisioner struct {
	XvfbPath     string
	Geometry     string
	StartTimeout time.Duration
	// SocketDir and LockDir default to the X11 locations under /tmp.
	SocketDir string
	LockDir   string
	Output    io.Writer
	Logger    *slog.Logger

	cmd    *exec.Cmd
	exited chan struct{}
}

// Number extracts the display number from identifiers like ":0" or "host:1.0".
func Number(identifier string) (int, error) {
	idx := strings.LastIndex(identifier, ":")
	if idx < 0 {
		return 0, fmt.Errorf("invalid display identifier %q", identifier)
	}
	rest := identifier[idx+1:]
	if dot := strings.Index(rest, "."); dot >= 0 {
		rest = rest[:dot]
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid display identifier %q", identifier)
	}
	return n, nil
}

// Ensure makes a display available on identifier. Errors wrap
// ErrDisplayUnavailable and are never fatal to the caller.
func (p *Provisioner) Ensure(ctx context.Context, identifier string) error {
	logger := p.logger()

	if p.XvfbPath == "" {
		logger.Warn("Xvfb not found, continuing without a virtual display")
		return fmt.Errorf("%w: Xvfb binary not found", ErrDisplayUnavailable)
	}

	number, err := Number(identifier)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisplayUnavailable, err)
	}

	if p.isServing(number) {
		logger.Info("X display already active, reusing it", "display", identifier)
		return nil
	}

	geometry := p.Geometry
	if geometry == "" {
		geometry = "1024x768x16"
	}
	cmd := exec.Command(p.XvfbPath, identifier, "-screen", "0", geometry, "-nolisten", "tcp")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if p.Output != nil {
		cmd.Stdout = p.Output
		cmd.Stderr = p.Output
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start Xvfb: %v", ErrDisplayUnavailable, err)
	}
	p.cmd = cmd
	p.exited = make(chan struct{})
	go func(done chan struct{}) {
		_ = cmd.Wait()
		close(done)
	}(p.exited)

	logger.Info("Started Xvfb", "display", identifier, "pid", cmd.Process.Pid, "geometry", geometry)

	timeout := p.StartTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.exited:
			p.cmd = nil
			return fmt.Errorf("%w: Xvfb exited during startup", ErrDisplayUnavailable)
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			if p.alive() {
				logger.Info("Xvfb running", "display", identifier)
				return nil
			}
			return fmt.Errorf("%w: Xvfb not running after %v", ErrDisplayUnavailable, timeout)
		case <-ticker.C:
			if p.socketExists(number) && p.alive() {
				logger.Info("Xvfb ready", "display", identifier)
				return nil
			}
		}
	}
}

// Spawned reports whether this provisioner owns a running Xvfb.
func (p *Provisioner) Spawned() bool {
	return p.cmd != nil && p.alive()
}

// PID returns the spawned Xvfb process id, or 0.
func (p *Provisioner) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stop terminates the Xvfb this provisioner started. A display that was
// already running before Ensure is left alone.
func (p *Provisioner) Stop(timeout time.Duration) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	defer func() { p.cmd = nil }()

	if !p.alive() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal Xvfb: %w", err)
	}

	select {
	case <-p.exited:
		p.logger().Info("Xvfb stopped")
		return nil
	case <-time.After(timeout):
	}

	p.logger().Warn("Xvfb did not exit, killing it")
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill Xvfb: %w", err)
	}
	<-p.exited
	return nil
}

func (p *Provisioner) alive() bool {
	if p.exited == nil {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
	}
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// isServing checks the lock file and socket an X server keeps for its
// display. A lock left behind by a dead server is removed so Xvfb can start.
func (p *Provisioner) isServing(number int) bool {
	lockPath := filepath.Join(p.lockDir(), fmt.Sprintf(".X%d-lock", number))
	data, err := os.ReadFile(lockPath)
	if err != nil {
		// A socket without a lock is typically mounted in from the host.
		return p.socketExists(number)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && isProcessRunning(pid) {
		return true
	}

	p.logger().Warn("Removing stale X lock", "lock", lockPath)
	_ = os.Remove(lockPath)
	_ = os.Remove(p.socketPath(number))
	return false
}

func (p *Provisioner) socketExists(number int) bool {
	_, err := os.Stat(p.socketPath(number))
	return err == nil
}

func (p *Provisioner) socketPath(number int) string {
	dir := p.SocketDir
	if dir == "" {
		dir = "/tmp/.X11-unix"
	}
	return filepath.Join(dir, fmt.Sprintf("X%d", number))
}

func (p *Provisioner) lockDir() string {
	if p.LockDir == "" {
		return "/tmp"
	}
	return p.LockDir
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
