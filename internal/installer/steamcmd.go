package installer

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

var (
	// ErrUpdateFailed means SteamCMD exited non-zero; the server must not be launched.
	ErrUpdateFailed = errors.New("update failed")
	// ErrExecutableMissing means the server executable is absent after an update.
	ErrExecutableMissing = errors.New("server executable missing")
)

// Request describes one install or validate pass.
type Request struct {
	Enabled    bool
	AppID      string
	InstallDir string
	Executable string
}

// Outcome reports what Sync did.
type Outcome struct {
	Skipped    bool
	Size       int64
	Undersized bool
}

// Installer drives SteamCMD.
type Installer struct {
	SteamCmdPath string
	// MinExecutableBytes below which the executable is reported as suspicious.
	MinExecutableBytes int64
	Runner             command.Runner
	Logger             *slog.Logger
}

// Args builds the SteamCMD argument list for an anonymous Windows install.
func Args(appID, installDir string) []string {
	return []string{
		"+@sSteamCmdForcePlatformType", "windows",
		"+force_install_dir", installDir,
		"+login", "anonymous",
		"+app_update", appID, "validate",
		"+quit",
	}
}

// Sync installs or validates the app and verifies the executable. With
// updates disabled it does nothing and the binary on disk is used as is.
func (i *Installer) Sync(ctx context.Context, req Request) (Outcome, error) {
	logger := i.logger()
	if !req.Enabled {
		logger.Info("Auto update disabled, skipping SteamCMD")
		return Outcome{Skipped: true}, nil
	}
	if i.SteamCmdPath == "" {
		return Outcome{}, fmt.Errorf("%w: steamcmd not resolved", ErrUpdateFailed)
	}

	if err := os.MkdirAll(req.InstallDir, 0755); err != nil {
		return Outcome{}, fmt.Errorf("%w: failed to create install directory: %v", ErrUpdateFailed, err)
	}

	logger.Info("Updating game server", "app_id", req.AppID, "install_dir", req.InstallDir)
	result, err := i.Runner.Run(ctx, command.Command{
		Path: i.SteamCmdPath,
		Args: Args(req.AppID, req.InstallDir),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: steamcmd exit code %d: %v", ErrUpdateFailed, result.ExitCode, err)
	}
	logger.Info("SteamCMD finished", "duration", result.Duration.Round(100*time.Millisecond).String())

	return i.Verify(filepath.Join(req.InstallDir, req.Executable))
}

// Verify checks that the executable exists and has a plausible size.
// A small file only produces a warning.
func (i *Installer) Verify(path string) (Outcome, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Outcome{}, fmt.Errorf("%w: %s", ErrExecutableMissing, path)
	}

	outcome := Outcome{Size: info.Size()}
	if i.MinExecutableBytes > 0 && info.Size() < i.MinExecutableBytes {
		outcome.Undersized = true
		i.logger().Warn("Server executable is smaller than expected",
			"path", path, "size", info.Size(), "minimum", i.MinExecutableBytes)
	}
	return outcome, nil
}

func (i *Installer) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}
