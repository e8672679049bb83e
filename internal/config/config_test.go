package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8733 {
		t.Errorf("Server.Port = %d, want 8733", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Reconciler.IntervalSeconds != 60 {
		t.Errorf("Reconciler.IntervalSeconds = %d, want 60", cfg.Reconciler.IntervalSeconds)
	}
	if cfg.Watcher.DebounceMS != 500 {
		t.Errorf("Watcher.DebounceMS = %d, want 500", cfg.Watcher.DebounceMS)
	}
	if !cfg.Janitor.Enabled {
		t.Error("Janitor.Enabled should default to true")
	}
	if cfg.Janitor.Schedule != "0 3 * * *" {
		t.Errorf("Janitor.Schedule = %q, want daily 03:00", cfg.Janitor.Schedule)
	}
	if !cfg.Notifications.Desktop {
		t.Error("Notifications.Desktop should default to true")
	}
	if cfg.Storage.DataDir == "" || cfg.Storage.WorktreeRoot == "" {
		t.Error("storage paths should have defaults")
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[server]
port = 9000

[storage]
data_dir = "/var/lib/workbench"

[reconciler]
interval_seconds = 15

[agents]
claude_package = "@anthropic-ai/claude-code@1.2.3"
gemini_context_files = ["GEMINI.md", "AGENTS.md"]
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want default 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Storage.DataDir != "/var/lib/workbench" {
		t.Errorf("Storage.DataDir = %q, want /var/lib/workbench", cfg.Storage.DataDir)
	}
	if cfg.Reconciler.IntervalSeconds != 15 {
		t.Errorf("Reconciler.IntervalSeconds = %d, want 15", cfg.Reconciler.IntervalSeconds)
	}
	if cfg.Agents.ClaudePackage != "@anthropic-ai/claude-code@1.2.3" {
		t.Errorf("Agents.ClaudePackage = %q", cfg.Agents.ClaudePackage)
	}
	if len(cfg.Agents.GeminiContextFiles) != 2 {
		t.Errorf("GeminiContextFiles = %v, want two entries", cfg.Agents.GeminiContextFiles)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() on missing file error = %v", err)
	}
	if cfg.Server.Port != 8733 {
		t.Errorf("Server.Port = %d, want default 8733", cfg.Server.Port)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 9999
	cfg.Janitor.Schedule = "30 2 * * *"

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", loaded.Server.Port)
	}
	if loaded.Janitor.Schedule != "30 2 * * *" {
		t.Errorf("Janitor.Schedule = %q, want 30 2 * * *", loaded.Janitor.Schedule)
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	if got := cfg.ListenAddr(); got != "127.0.0.1:8733" {
		t.Errorf("ListenAddr() = %q, want 127.0.0.1:8733", got)
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = "/data"
	if got := cfg.DatabasePath(); got != filepath.Join("/data", "workbench.db") {
		t.Errorf("DatabasePath() = %q", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if got := cfg.ReconcileInterval(); got != 60*time.Second {
		t.Errorf("ReconcileInterval() = %v, want 60s", got)
	}
	if got := cfg.WatchDebounce(); got != 500*time.Millisecond {
		t.Errorf("WatchDebounce() = %v, want 500ms", got)
	}

	cfg.Reconciler.IntervalSeconds = 0
	cfg.Watcher.DebounceMS = -1
	if got := cfg.ReconcileInterval(); got != 60*time.Second {
		t.Errorf("ReconcileInterval() with zero config = %v, want fallback 60s", got)
	}
	if got := cfg.WatchDebounce(); got != 500*time.Millisecond {
		t.Errorf("WatchDebounce() with negative config = %v, want fallback 500ms", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
