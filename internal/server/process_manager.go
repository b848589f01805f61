package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/yourusername/winegame-supervisor/internal/command"
)

// ProcessManager owns the game server process for the lifetime of one run.
type ProcessManager interface {
	// Start launches the process in its own process group.
	Start(cmd command.Command) error

	// PID returns the process ID, 0 before Start.
	PID() int

	// Exited is closed once the process has been reaped.
	Exited() <-chan struct{}

	// ExitCode is valid after Exited is closed. -1 means killed by a signal.
	ExitCode() int

	// Terminate asks the whole process group to exit.
	Terminate() error

	// Kill forcefully kills the whole process group.
	Kill() error
}

// GroupProcess runs a command as the leader of a new process group so that
// Wine helpers spawned by the game are signalled together with it.
type GroupProcess struct {
	Stdout io.Writer
	Stderr io.Writer

	mu       sync.Mutex
	cmd      *exec.Cmd
	exited   chan struct{}
	exitCode int
}

// NewGroupProcess creates a process manager writing child output to out.
func NewGroupProcess(out io.Writer) *GroupProcess {
	return &GroupProcess{Stdout: out, Stderr: out, exited: make(chan struct{})}
}

// Start launches cmd and reaps it in the background.
func (p *GroupProcess) Start(c command.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("process already started")
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", c.Path, err)
	}
	p.cmd = cmd

	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
		}
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		close(p.exited)
	}()

	return nil
}

func (p *GroupProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *GroupProcess) Exited() <-chan struct{} {
	return p.exited
}

func (p *GroupProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *GroupProcess) Terminate() error {
	return p.signalGroup(syscall.SIGTERM)
}

func (p *GroupProcess) Kill() error {
	return p.signalGroup(syscall.SIGKILL)
}

func (p *GroupProcess) signalGroup(sig syscall.Signal) error {
	pid := p.PID()
	if pid == 0 {
		return fmt.Errorf("process not started")
	}
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to send %s to process group %d: %w", sig, pid, err)
	}
	return nil
}

// stopProcess sends SIGTERM, waits up to timeout, then escalates to SIGKILL.
// It reports whether escalation was needed.
func stopProcess(p ProcessManager, timeout time.Duration, logf func(string, ...any)) bool {
	select {
	case <-p.Exited():
		return false
	default:
	}

	logf("[Lifecycle] Sending SIGTERM to game server (pid %d, timeout: %v)", p.PID(), timeout)
	if err := p.Terminate(); err != nil {
		logf("[Lifecycle] Warning: %v", err)
	}
	if waitForExit(p, timeout) {
		logf("[Lifecycle] Game server stopped gracefully")
		return false
	}

	logf("[Lifecycle] Graceful shutdown timeout, sending SIGKILL")
	if err := p.Kill(); err != nil {
		logf("[Lifecycle] Warning: %v", err)
	}
	if !waitForExit(p, 5*time.Second) {
		logf("[Lifecycle] Warning: game server did not exit after SIGKILL")
	}
	return true
}

func waitForExit(p ProcessManager, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.Exited():
		return true
	case <-timer.C:
		return false
	}
}
