package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all daemon configuration
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Storage       StorageConfig       `toml:"storage"`
	Reconciler    ReconcilerConfig    `toml:"reconciler"`
	Watcher       WatcherConfig       `toml:"watcher"`
	Janitor       JanitorConfig       `toml:"janitor"`
	Agents        AgentsConfig        `toml:"agents"`
	Notifications NotificationsConfig `toml:"notifications"`
	Logging       LoggingConfig       `toml:"logging"`
}

// ServerConfig holds the HTTP listen settings
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds filesystem locations
type StorageConfig struct {
	DataDir      string `toml:"data_dir"`
	WorktreeRoot string `toml:"worktree_root"`
}

// ReconcilerConfig holds merge-request polling settings
type ReconcilerConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// WatcherConfig holds worktree file-watch settings
type WatcherConfig struct {
	DebounceMS int `toml:"debounce_ms"`
}

// JanitorConfig holds the worktree sweep schedule
type JanitorConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
}

// AgentsConfig overrides how agent CLIs are launched
type AgentsConfig struct {
	ClaudePackage      string   `toml:"claude_package"`
	GeminiBinary       string   `toml:"gemini_binary"`
	GeminiContextFiles []string `toml:"gemini_context_files"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8733,
		},
		Storage: StorageConfig{
			DataDir:      defaultDataDir(),
			WorktreeRoot: filepath.Join(os.TempDir(), "workbench-worktrees"),
		},
		Reconciler: ReconcilerConfig{
			IntervalSeconds: 60,
		},
		Watcher: WatcherConfig{
			DebounceMS: 500,
		},
		Janitor: JanitorConfig{
			Enabled:  true,
			Schedule: "0 3 * * *",
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.Storage.DataDir = ExpandPath(cfg.Storage.DataDir)
	cfg.Storage.WorktreeRoot = ExpandPath(cfg.Storage.WorktreeRoot)

	return cfg, nil
}

// Save writes the configuration to a TOML file, creating parent
// directories as needed
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ListenAddr returns the host:port the HTTP server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DatabasePath returns the SQLite file location under the data dir
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "workbench.db")
}

// ReconcileInterval returns the merge-request polling interval
func (c *Config) ReconcileInterval() time.Duration {
	if c.Reconciler.IntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Reconciler.IntervalSeconds) * time.Second
}

// WatchDebounce returns the file-watch debounce window
func (c *Config) WatchDebounce() time.Duration {
	if c.Watcher.DebounceMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Watcher.DebounceMS) * time.Millisecond
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// defaultDataDir picks the platform's app-data location.
func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "agent-workbench")
	case "windows":
		if dir := os.Getenv("APPDATA"); dir != "" {
			return filepath.Join(dir, "agent-workbench")
		}
		return filepath.Join(home, "agent-workbench")
	default:
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return filepath.Join(dir, "agent-workbench")
		}
		return filepath.Join(home, ".local", "share", "agent-workbench")
	}
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "agent-workbench", "config.toml")
}
