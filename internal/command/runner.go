package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Command describes one external tool invocation.
type Command struct {
	Path string
	Args []string
	// Env entries are appended to the supervisor's own environment.
	Env []string
	Dir string
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of a finished command.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Runner abstracts synchronous tool execution.
type Runner interface {
	// Run blocks until the command exits. A non-zero exit status is returned
	// as an error together with the populated Result.
	Run(ctx context.Context, cmd Command) (Result, error)
}

// LocalRunner executes commands on the local host and streams their output
// into the structured log line by line.
type LocalRunner struct {
	Logger *slog.Logger
	// WaitDelay bounds how long Run keeps reading output after the process
	// exits. Background helpers that inherit stdout would otherwise block Run.
	WaitDelay time.Duration
}

// NewLocalRunner creates a runner that logs through logger.
func NewLocalRunner(logger *slog.Logger) *LocalRunner {
	return &LocalRunner{Logger: logger, WaitDelay: 5 * time.Second}
}

func (r *LocalRunner) Run(ctx context.Context, c Command) (Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	source := filepath.Base(c.Path)
	logger.Info("Running command", "command", c.String())

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	stdout := newLineWriter(func(line string) { logger.Info(line, "source", source) })
	stderr := newLineWriter(func(line string) { logger.Warn(line, "source", source, "stream", "stderr") })
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.WaitDelay

	start := time.Now()
	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()

	result := Result{ExitCode: exitCode(err), Duration: time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result, fmt.Errorf("%s exited with code %d: %w", source, result.ExitCode, err)
		}
		if errors.Is(err, exec.ErrWaitDelay) {
			return result, nil
		}
		return result, fmt.Errorf("failed to run %s: %w", source, err)
	}
	return result, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return 1
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return 0
	}
	return -1
}

const maxLineBytes = 1024 * 1024

// lineWriter splits written bytes on newline or carriage return. SteamCMD
// redraws progress lines with a bare carriage return.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		w.emitLocked(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.emitLocked(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emitLocked(w.buf)
	w.buf = nil
}

func (w *lineWriter) emitLocked(line []byte) {
	text := strings.TrimSpace(string(line))
	if text != "" {
		w.emit(text)
	}
}

// MockRunner for testing
type MockRunner struct {
	MockResult Result
	MockError  error
	// Handlers are matched against the command line by prefix.
	Handlers map[string]func(cmd Command) (Result, error)

	mu    sync.Mutex
	calls []Command
}

func (m *MockRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	m.mu.Unlock()

	line := cmd.String()
	if m.Handlers != nil {
		for prefix, handler := range m.Handlers {
			if strings.HasPrefix(line, prefix) {
				return handler(cmd)
			}
		}
	}
	return m.MockResult, m.MockError
}

// Calls returns the commands run so far.
func (m *MockRunner) Calls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.calls...)
}

// CallsMatching counts commands whose command line contains substr.
func (m *MockRunner) CallsMatching(substr string) int {
	count := 0
	for _, call := range m.Calls() {
		if strings.Contains(call.String(), substr) {
			count++
		}
	}
	return count
}
