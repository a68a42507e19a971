package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigYAMLRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Server.AuthToken = "s3cret"
	cfg.Claude.Model = "sonnet"
	cfg.Polling.TaskIntervalMS = 750

	if err := WriteConfig(tmpDir, cfg); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	loaded, err := ReadConfig(tmpDir)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}

	if loaded.Server.AuthToken != "s3cret" {
		t.Errorf("AuthToken: got %q, want %q", loaded.Server.AuthToken, "s3cret")
	}
	if loaded.Claude.Model != "sonnet" {
		t.Errorf("Model: got %q, want %q", loaded.Claude.Model, "sonnet")
	}
	if loaded.TaskInterval() != 750*time.Millisecond {
		t.Errorf("TaskInterval: got %v", loaded.TaskInterval())
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	partial := `server:
  addr: "0.0.0.0:9000"
`
	if err := os.MkdirAll(filepath.Join(tmpDir, ".ccgrid"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ".ccgrid", "config.yaml"), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ReadConfig(tmpDir)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr: got %q", cfg.Server.Addr)
	}
	if cfg.Polling.TranscriptIntervalMS != 3000 || cfg.Persist.DebounceMS != 500 {
		t.Errorf("defaults lost: %+v %+v", cfg.Polling, cfg.Persist)
	}
}

func TestLoadWithoutFileUsesDefaultsAndResolvesPaths(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CCGRID_TOKEN", "from-env")
	t.Setenv("CCGRID_CLAUDE_HOME", "/srv/claude")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.AuthToken != "from-env" {
		t.Errorf("AuthToken: got %q", cfg.Server.AuthToken)
	}
	if want := filepath.Join(tmpDir, ".ccgrid", "ccgrid.db"); cfg.Storage.DBPath != want {
		t.Errorf("DBPath: got %q, want %q", cfg.Storage.DBPath, want)
	}
	if cfg.Claude.Home != "/srv/claude" {
		t.Errorf("Claude.Home: got %q", cfg.Claude.Home)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".ccgrid"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ".ccgrid", "config.yaml"), []byte("server: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(tmpDir); err == nil {
		t.Error("expected a parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CCGRID_ADDR":      ":8000",
		"CCGRID_DB_PATH":   "/var/lib/ccgrid.db",
		"CCGRID_LOG_LEVEL": "debug",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Server.Addr != ":8000" || cfg.Storage.DBPath != "/var/lib/ccgrid.db" || cfg.LogLevel != "debug" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Server.AuthToken != "" {
		t.Errorf("unset variable changed AuthToken to %q", cfg.Server.AuthToken)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty addr", func(c *Config) { c.Server.Addr = " " }, true},
		{"zero task interval", func(c *Config) { c.Polling.TaskIntervalMS = 0 }, true},
		{"negative transcript interval", func(c *Config) { c.Polling.TranscriptIntervalMS = -1 }, true},
		{"zero debounce", func(c *Config) { c.Persist.DebounceMS = 0 }, true},
		{"bypass mode", func(c *Config) { c.Claude.PermissionMode = "bypass" }, false},
		{"unknown mode", func(c *Config) { c.Claude.PermissionMode = "yolo" }, true},
		{"unknown level", func(c *Config) { c.LogLevel = "loud" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
