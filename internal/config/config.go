package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/yourusername/winegame-supervisor/internal/schedule"
	"gopkg.in/yaml.v3"
)

// Config represents the supervisor configuration
type Config struct {
	Game     GameConfig     `yaml:"game" json:"game"`
	Paths    PathsConfig    `yaml:"paths" json:"paths"`
	Tools    ToolsConfig    `yaml:"tools" json:"tools"`
	Display  DisplayConfig  `yaml:"display" json:"display"`
	Prefix   PrefixConfig   `yaml:"prefix" json:"prefix"`
	Update   UpdateConfig   `yaml:"update" json:"update"`
	Shutdown ShutdownConfig `yaml:"shutdown" json:"shutdown"`
	Status   StatusConfig   `yaml:"status" json:"status"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// GameConfig identifies the game server and carries the operator overrides
// applied to its persisted configuration file. Empty override values leave
// the corresponding field untouched.
type GameConfig struct {
	AppID          string `yaml:"app_id" json:"app_id" env:"APP_ID"`
	Executable     string `yaml:"executable" json:"executable" env:"SERVER_EXECUTABLE"`
	ConfigFileName string `yaml:"config_file_name" json:"config_file_name" env:"CONFIG_FILE_NAME"`
	Name           string `yaml:"name" json:"name" env:"SERVER_NAME"`
	Password       string `yaml:"password" json:"-" env:"SERVER_PASSWORD"`
	SlotCount      string `yaml:"slot_count" json:"slot_count" env:"SERVER_SLOTS"`
	GamePort       string `yaml:"game_port" json:"game_port" env:"GAME_PORT"`
	QueryPort      string `yaml:"query_port" json:"query_port" env:"QUERY_PORT"`
	BindAddress    string `yaml:"bind_address" json:"bind_address" env:"SERVER_IP"`
	ForceRewrite   bool   `yaml:"force_rewrite" json:"force_rewrite" env:"FORCE_CONFIG_REWRITE"`
	RunAsUser      string `yaml:"run_as_user" json:"run_as_user" env:"RUN_AS_USER"`
}

// PathsConfig contains the container filesystem layout
type PathsConfig struct {
	InstallDir string `yaml:"install_dir" json:"install_dir" env:"INSTALL_DIR"`
	ConfigDir  string `yaml:"config_dir" json:"config_dir" env:"CONFIG_DIR"`
}

// ToolsConfig contains explicit tool locations and discovery bounds
type ToolsConfig struct {
	SteamCmdPath string `yaml:"steamcmd_path" json:"steamcmd_path" env:"STEAMCMD_PATH"`
	SteamCmdDir  string `yaml:"steamcmd_dir" json:"steamcmd_dir" env:"STEAMCMD_DIR"`
	WinePath     string `yaml:"wine_path" json:"wine_path" env:"WINE_PATH"`
	WineDir      string `yaml:"wine_dir" json:"wine_dir" env:"WINE_DIR"`
	SearchRoot   string `yaml:"search_root" json:"search_root" env:"SEARCH_ROOT"`
	SearchDepth  int    `yaml:"search_depth" json:"search_depth" env:"SEARCH_DEPTH"`
}

// DisplayConfig contains virtual display settings
type DisplayConfig struct {
	Identifier   string        `yaml:"identifier" json:"identifier" env:"DISPLAY"`
	Geometry     string        `yaml:"geometry" json:"geometry" env:"DISPLAY_GEOMETRY"`
	StartTimeout time.Duration `yaml:"start_timeout" json:"start_timeout" env:"DISPLAY_START_TIMEOUT"`
}

// PrefixConfig contains Wine prefix settings
type PrefixConfig struct {
	Path         string `yaml:"path" json:"path" env:"WINEPREFIX"`
	WineDebug    string `yaml:"wine_debug" json:"wine_debug" env:"WINEDEBUG"`
	ForceReset   bool   `yaml:"force_reset" json:"force_reset" env:"FORCE_PREFIX_RESET"`
	InitAttempts int    `yaml:"init_attempts" json:"init_attempts" env:"PREFIX_INIT_ATTEMPTS"`
}

// UpdateConfig contains SteamCMD update settings
type UpdateConfig struct {
	Enabled            bool  `yaml:"enabled" json:"enabled" env:"AUTO_UPDATE"`
	MinExecutableBytes int64 `yaml:"min_executable_bytes" json:"min_executable_bytes" env:"MIN_EXECUTABLE_BYTES"`
}

// ShutdownConfig contains graceful shutdown and restart settings
type ShutdownConfig struct {
	Timeout         time.Duration `yaml:"timeout" json:"timeout" env:"SHUTDOWN_TIMEOUT"`
	RestartSchedule string        `yaml:"restart_schedule" json:"restart_schedule" env:"RESTART_SCHEDULE"`
}

// StatusConfig contains the optional status API and run journal settings
type StatusConfig struct {
	Addr         string `yaml:"addr" json:"addr" env:"STATUS_ADDR"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"STATUS_DB"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" json:"format" env:"LOG_FORMAT"`
	File       string `yaml:"file" json:"file" env:"LOG_FILE"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

const (
	defaultConfigPath = "/etc/winegame-supervisor/config.yaml"
	defaultEnvFile    = ".env"
)

// Default returns the built-in configuration for the Enshrouded dedicated server.
func Default() *Config {
	return &Config{
		Game: GameConfig{
			AppID:          "2278520",
			Executable:     "enshrouded_server.exe",
			ConfigFileName: "enshrouded_server.json",
			BindAddress:    "0.0.0.0",
			RunAsUser:      "steam",
		},
		Paths: PathsConfig{
			InstallDir: "/home/steam/enshrouded",
			ConfigDir:  "/home/steam/config",
		},
		Tools: ToolsConfig{
			SearchRoot:  "/",
			SearchDepth: 8,
		},
		Display: DisplayConfig{
			Identifier:   ":0",
			Geometry:     "1024x768x16",
			StartTimeout: 2 * time.Second,
		},
		Prefix: PrefixConfig{
			Path:         "/home/steam/.wine",
			WineDebug:    "-all",
			InitAttempts: 2,
		},
		Update: UpdateConfig{
			Enabled:            true,
			MinExecutableBytes: 1 << 20,
		},
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		},
	}
}

// Load loads configuration from defaults, an optional YAML file, an optional
// .env file and the process environment, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	configPath := GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	envFile := getEnv("ENV_FILE", defaultEnvFile)
	if _, err := os.Stat(envFile); err == nil {
		// godotenv.Load never overrides variables already present in the process
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Game.AppID) == "" {
		return fmt.Errorf("APP_ID must not be empty")
	}
	if strings.TrimSpace(c.Game.Executable) == "" {
		return fmt.Errorf("SERVER_EXECUTABLE must not be empty")
	}
	if strings.ContainsAny(c.Game.Executable, "/\\") {
		return fmt.Errorf("SERVER_EXECUTABLE must be a file name, got %q", c.Game.Executable)
	}
	if strings.ContainsAny(c.Game.ConfigFileName, "/\\") || c.Game.ConfigFileName == "" {
		return fmt.Errorf("CONFIG_FILE_NAME must be a file name, got %q", c.Game.ConfigFileName)
	}
	if !isValidPath(c.Paths.InstallDir) {
		return fmt.Errorf("INSTALL_DIR must be an absolute path, got %q", c.Paths.InstallDir)
	}
	if !isValidPath(c.Paths.ConfigDir) {
		return fmt.Errorf("CONFIG_DIR must be an absolute path, got %q", c.Paths.ConfigDir)
	}
	if !isValidPath(c.Prefix.Path) {
		return fmt.Errorf("WINEPREFIX must be an absolute path, got %q", c.Prefix.Path)
	}
	if c.Shutdown.Timeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Tools.SearchDepth < 0 {
		return fmt.Errorf("SEARCH_DEPTH must not be negative")
	}
	if c.Shutdown.RestartSchedule != "" {
		if err := schedule.Validate(c.Shutdown.RestartSchedule); err != nil {
			return fmt.Errorf("RESTART_SCHEDULE: %w", err)
		}
	}
	return nil
}

// ConfigFilePath returns the canonical location of the game configuration file.
func (c *Config) ConfigFilePath() string {
	return filepath.Join(c.Paths.ConfigDir, c.Game.ConfigFileName)
}

// ExecutablePath returns the expected location of the game server executable.
func (c *Config) ExecutablePath() string {
	return filepath.Join(c.Paths.InstallDir, c.Game.Executable)
}

func (c *Config) normalize() {
	c.Paths.InstallDir = cleanPath(c.Paths.InstallDir)
	c.Paths.ConfigDir = cleanPath(c.Paths.ConfigDir)
	c.Prefix.Path = cleanPath(c.Prefix.Path)
	c.Tools.SteamCmdPath = cleanPath(c.Tools.SteamCmdPath)
	c.Tools.SteamCmdDir = cleanPath(c.Tools.SteamCmdDir)
	c.Tools.WinePath = cleanPath(c.Tools.WinePath)
	c.Tools.WineDir = cleanPath(c.Tools.WineDir)
	if c.Tools.SearchRoot == "" {
		c.Tools.SearchRoot = "/"
	}
	if c.Prefix.InitAttempts < 1 {
		c.Prefix.InitAttempts = 1
	}
	if c.Display.StartTimeout <= 0 {
		c.Display.StartTimeout = 2 * time.Second
	}
	c.Game.Executable = strings.TrimSpace(c.Game.Executable)
	c.Game.ConfigFileName = strings.TrimSpace(c.Game.ConfigFileName)
	c.Shutdown.RestartSchedule = strings.TrimSpace(c.Shutdown.RestartSchedule)
}

func cleanPath(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return filepath.Clean(trimmed)
}

func isValidPath(value string) bool {
	return value != "" && filepath.IsAbs(value) && !strings.Contains(value, "\x00")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigPath returns the resolved supervisor config file path
func GetConfigPath() string {
	return getEnv("SUPERVISOR_CONFIG", defaultConfigPath)
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
