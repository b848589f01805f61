package toolpath

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/yourusername/winegame-supervisor/internal/config"
)

var steamCmdDirs = []string{
	"/usr/games",
	"/usr/bin",
	"/usr/local/bin",
	"/home/steam/steamcmd",
	"/opt/steamcmd",
	"/steamcmd",
}

var wineDirs = []string{
	"/usr/bin",
	"/usr/local/bin",
	"/usr/lib/wine",
	"/opt/wine-stable/bin",
	"/opt/wine-staging/bin",
	"/opt/wine-devel/bin",
}

// SteamCmdSpec describes the SteamCMD search.
func SteamCmdSpec(tools config.ToolsConfig) Spec {
	names := []string{"steamcmd", "steamcmd.sh"}
	return Spec{
		Tool:         "steamcmd",
		Names:        names,
		OverridePath: tools.SteamCmdPath,
		OverrideDir:  tools.SteamCmdDir,
		Locations:    expand(names, steamCmdDirs),
		SearchRoot:   tools.SearchRoot,
		SearchDepth:  tools.SearchDepth,
	}
}

// WineSpec describes the Wine runtime search. wine64 is preferred over wine.
func WineSpec(tools config.ToolsConfig) Spec {
	names := []string{"wine64", "wine"}
	return Spec{
		Tool:         "wine",
		Names:        names,
		OverridePath: tools.WinePath,
		OverrideDir:  tools.WineDir,
		Locations:    expand(names, wineDirs),
		SearchRoot:   tools.SearchRoot,
		SearchDepth:  tools.SearchDepth,
	}
}

// WineServerSpec looks for wineserver next to the resolved Wine binary first.
func WineServerSpec(winePath string) Spec {
	names := []string{"wineserver64", "wineserver"}
	return Spec{
		Tool:        "wineserver",
		Names:       names,
		OverrideDir: filepath.Dir(winePath),
		Locations:   expand(names, wineDirs),
	}
}

// XvfbSpec describes the virtual display server search.
func XvfbSpec() Spec {
	names := []string{"Xvfb"}
	return Spec{
		Tool:      "Xvfb",
		Names:     names,
		Locations: expand(names, []string{"/usr/bin", "/usr/local/bin", "/usr/X11R6/bin"}),
	}
}

// RuntimeEnvironment is resolved once at startup and read-only afterwards.
type RuntimeEnvironment struct {
	FetcherPath       string `json:"fetcher_path"`
	CompatRuntime     string `json:"compat_runtime"`
	WineServerPath    string `json:"wineserver_path,omitempty"`
	DisplayServerPath string `json:"display_server_path,omitempty"`
	PrefixPath        string `json:"prefix_path"`
	DisplayIdentifier string `json:"display"`
	InstallDir        string `json:"install_dir"`
	ConfigDir         string `json:"config_dir"`
}

// ResolveEnvironment locates every external tool the supervisor drives.
// Wine is always required; SteamCMD only when auto update is enabled.
// Missing optional tools are logged and left empty.
func ResolveEnvironment(cfg *config.Config, probe Prober, logger *slog.Logger) (*RuntimeEnvironment, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env := &RuntimeEnvironment{
		PrefixPath:        cfg.Prefix.Path,
		DisplayIdentifier: cfg.Display.Identifier,
		InstallDir:        cfg.Paths.InstallDir,
		ConfigDir:         cfg.Paths.ConfigDir,
	}

	wine, err := Resolve(WineSpec(cfg.Tools), probe)
	if err != nil {
		return nil, err
	}
	env.CompatRuntime = wine.Path
	logger.Info("Resolved tool", "tool", "wine", "path", wine.Path, "tier", wine.Tier)

	steamcmd, err := Resolve(SteamCmdSpec(cfg.Tools), probe)
	switch {
	case err == nil:
		env.FetcherPath = steamcmd.Path
		logger.Info("Resolved tool", "tool", "steamcmd", "path", steamcmd.Path, "tier", steamcmd.Tier)
	case cfg.Update.Enabled:
		return nil, fmt.Errorf("auto update enabled: %w", err)
	default:
		logger.Warn("steamcmd not found, continuing because auto update is disabled")
	}

	if server, err := Resolve(WineServerSpec(wine.Path), probe); err == nil {
		env.WineServerPath = server.Path
	} else if errors.Is(err, ErrToolNotFound) {
		logger.Warn("wineserver not found, prefix helper control disabled")
	}

	if xvfb, err := Resolve(XvfbSpec(), probe); err == nil {
		env.DisplayServerPath = xvfb.Path
	}

	return env, nil
}
