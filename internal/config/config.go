// Package config handles reading and writing .ccgrid/config.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for .ccgrid/config.yaml.
type Config struct {
	Version  int           `yaml:"version"`
	Server   ServerConfig  `yaml:"server"`
	Storage  StorageConfig `yaml:"storage"`
	Claude   ClaudeConfig  `yaml:"claude"`
	Polling  PollingConfig `yaml:"polling"`
	Persist  PersistConfig `yaml:"persist"`
	LogLevel string        `yaml:"log_level"` // debug | info | warn | error
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// StorageConfig locates ccgrid's own files. Relative paths resolve against
// the directory holding .ccgrid/.
type StorageConfig struct {
	DBPath     string `yaml:"db_path"`
	RulesPath  string `yaml:"rules_path"`
	JournalDir string `yaml:"journal_dir"`
}

// ClaudeConfig controls the engine.
type ClaudeConfig struct {
	Binary         string `yaml:"binary"`
	Home           string `yaml:"home"` // holds teams/ and tasks/; default ~/.claude
	Model          string `yaml:"model"`
	PermissionMode string `yaml:"permission_mode"` // "default" | "bypass"
}

// PollingConfig sets the task and transcript poll intervals.
type PollingConfig struct {
	TaskIntervalMS       int `yaml:"task_interval_ms"`
	TranscriptIntervalMS int `yaml:"transcript_interval_ms"`
}

// PersistConfig sets the debounce delay for streaming writes.
type PersistConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
}

const configDir = ".ccgrid"
const configFile = "config.yaml"

// ReadConfig reads .ccgrid/config.yaml from dir. Fields missing from the
// file keep their defaults.
func ReadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configDir, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// WriteConfig writes cfg to .ccgrid/config.yaml in dir.
// Creates the .ccgrid/ directory if it does not exist.
func WriteConfig(dir string, cfg *Config) error {
	dirPath := filepath.Join(dir, configDir)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(dirPath, configFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},
		Storage: StorageConfig{
			DBPath:     filepath.Join(configDir, "ccgrid.db"),
			RulesPath:  filepath.Join(configDir, "rules.yaml"),
			JournalDir: filepath.Join(configDir, "journal"),
		},
		Claude: ClaudeConfig{
			Binary:         "claude",
			PermissionMode: "default",
		},
		Polling: PollingConfig{
			TaskIntervalMS:       2000,
			TranscriptIntervalMS: 3000,
		},
		Persist: PersistConfig{
			DebounceMS: 500,
		},
		LogLevel: "info",
	}
}

// Load reads the config in dir, falling back to defaults when no file
// exists, then applies CCGRID_* environment overrides and validates.
func Load(dir string) (*Config, error) {
	cfg, err := ReadConfig(dir)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = DefaultConfig()
	} else if err != nil {
		return nil, err
	}

	cfg.ApplyEnv(os.Getenv)
	cfg.Resolve(dir)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CCGRID_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("CCGRID_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("CCGRID_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := getenv("CCGRID_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := getenv("CCGRID_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("CCGRID_CLAUDE_HOME"); v != "" {
		c.Claude.Home = v
	}
}

// Resolve makes storage paths absolute against dir and fills the engine
// home when unset.
func (c *Config) Resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Storage.DBPath = abs(c.Storage.DBPath)
	c.Storage.RulesPath = abs(c.Storage.RulesPath)
	c.Storage.JournalDir = abs(c.Storage.JournalDir)

	if c.Claude.Home == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Claude.Home = filepath.Join(home, ".claude")
		}
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Storage.DBPath == "" {
		return errors.New("storage.db_path must not be empty")
	}
	if c.Polling.TaskIntervalMS <= 0 {
		return fmt.Errorf("polling.task_interval_ms must be positive, got %d", c.Polling.TaskIntervalMS)
	}
	if c.Polling.TranscriptIntervalMS <= 0 {
		return fmt.Errorf("polling.transcript_interval_ms must be positive, got %d", c.Polling.TranscriptIntervalMS)
	}
	if c.Persist.DebounceMS <= 0 {
		return fmt.Errorf("persist.debounce_ms must be positive, got %d", c.Persist.DebounceMS)
	}
	switch c.Claude.PermissionMode {
	case "default", "bypass":
	default:
		return fmt.Errorf("claude.permission_mode must be default or bypass, got %q", c.Claude.PermissionMode)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// TaskInterval returns the task poll interval.
func (c *Config) TaskInterval() time.Duration {
	return time.Duration(c.Polling.TaskIntervalMS) * time.Millisecond
}

// TranscriptInterval returns the transcript poll interval.
func (c *Config) TranscriptInterval() time.Duration {
	return time.Duration(c.Polling.TranscriptIntervalMS) * time.Millisecond
}

// PersistDelay returns the debounce delay for streaming writes.
func (c *Config) PersistDelay() time.Duration {
	return time.Duration(c.Persist.DebounceMS) * time.Millisecond
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
}
