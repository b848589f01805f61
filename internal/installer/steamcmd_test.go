package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourusername/winegame-supervisor/internal/command"
)

const steamcmd = "/usr/games/steamcmd"

func TestArgs(t *testing.T) {
	got := strings.Join(Args("2278520", "/home/steam/enshrouded"), " ")
	want := "+@sSteamCmdForcePlatformType windows +force_install_dir /home/steam/enshrouded +login anonymous +app_update 2278520 validate +quit"
	if got != want {
		t.Fatalf("unexpected args:\n%s\nwant:\n%s", got, want)
	}
}

func TestSyncDisabledNeverInvokesSteamCmd(t *testing.T) {
	runner := &command.MockRunner{}
	inst := &Installer{SteamCmdPath: steamcmd, Runner: runner}

	outcome, err := inst.Sync(context.Background(), Request{Enabled: false, InstallDir: "/nonexistent", Executable: "server.exe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Skipped {
		t.Fatalf("expected skipped outcome")
	}
	if len(runner.Calls()) != 0 {
		t.Fatalf("expected steamcmd not to run, got %d calls", len(runner.Calls()))
	}
}

func TestSyncFailurePropagates(t *testing.T) {
	runner := &command.MockRunner{MockResult: command.Result{ExitCode: 8}, MockError: errors.New("exit status 8")}
	inst := &Installer{SteamCmdPath: steamcmd, Runner: runner}

	_, err := inst.Sync(context.Background(), Request{Enabled: true, AppID: "2278520", InstallDir: t.TempDir(), Executable: "server.exe"})
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("expected ErrUpdateFailed, got %v", err)
	}
}

func TestSyncVerifiesExecutable(t *testing.T) {
	installDir := t.TempDir()
	runner := &command.MockRunner{
		Handlers: map[string]func(command.Command) (command.Result, error){
			steamcmd: func(cmd command.Command) (command.Result, error) {
				dir := cmd.Args[3]
				return command.Result{}, os.WriteFile(filepath.Join(dir, "server.exe"), make([]byte, 2048), 0755)
			},
		},
	}
	inst := &Installer{SteamCmdPath: steamcmd, Runner: runner, MinExecutableBytes: 1024}

	outcome, err := inst.Sync(context.Background(), Request{Enabled: true, AppID: "2278520", InstallDir: installDir, Executable: "server.exe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Size != 2048 || outcome.Undersized {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestSyncMissingExecutable(t *testing.T) {
	inst := &Installer{SteamCmdPath: steamcmd, Runner: &command.MockRunner{}}

	_, err := inst.Sync(context.Background(), Request{Enabled: true, AppID: "2278520", InstallDir: t.TempDir(), Executable: "server.exe"})
	if !errors.Is(err, ErrExecutableMissing) {
		t.Fatalf("expected ErrExecutableMissing, got %v", err)
	}
}

func TestVerifySmallExecutableIsOnlyAWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.exe")
	if err := os.WriteFile(path, []byte("MZ"), 0755); err != nil {
		t.Fatalf("failed to write executable: %v", err)
	}
	inst := &Installer{MinExecutableBytes: 1 << 20}

	outcome, err := inst.Verify(path)
	if err != nil {
		t.Fatalf("small executable must not be fatal: %v", err)
	}
	if !outcome.Undersized {
		t.Fatalf("expected undersized flag")
	}
}

func TestSyncWithoutSteamCmd(t *testing.T) {
	inst := &Installer{Runner: &command.MockRunner{}}
	if _, err := inst.Sync(context.Background(), Request{Enabled: true}); !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("expected ErrUpdateFailed, got %v", err)
	}
}
