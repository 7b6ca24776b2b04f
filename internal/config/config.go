// Package config loads the daemon configuration from config.yaml in the
// orchard home directory, with env overrides for the settings operators
// most often flip per-host.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/orchard/internal/otel"
)

// TelegramConfig configures the optional Telegram notifier.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// NotifyConfig selects notification backends.
type NotifyConfig struct {
	// Desktop enables native desktop notifications (osascript on macOS,
	// notify-send elsewhere). Defaults to true.
	Desktop  *bool          `yaml:"desktop"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// DesktopEnabled reports whether desktop notifications are on.
func (n NotifyConfig) DesktopEnabled() bool {
	if n.Desktop == nil {
		return true
	}
	return *n.Desktop
}

type Config struct {
	HomeDir string `yaml:"-"`

	// DefsDir holds the YAML definition files. Relative paths resolve
	// against HomeDir. Default "defs".
	DefsDir string `yaml:"defs_dir"`

	// DataDir holds the sqlite event log. Relative paths resolve against
	// HomeDir. Default "data".
	DataDir string `yaml:"data_dir"`

	LogLevel string `yaml:"log_level"`
	Quiet    bool   `yaml:"quiet"`

	// WatchDefs re-reads definition files on change. Default true.
	WatchDefs *bool `yaml:"watch_defs"`

	Notify NotifyConfig `yaml:"notify"`
	OTel   otel.Config  `yaml:"otel"`
}

// WatchDefsEnabled reports whether the definition watcher should run.
func (c Config) WatchDefsEnabled() bool {
	if c.WatchDefs == nil {
		return true
	}
	return *c.WatchDefs
}

// DefsPath returns the absolute definitions directory.
func (c Config) DefsPath() string {
	return c.resolve(c.DefsDir)
}

// EventLogPath returns the absolute path of the sqlite event log.
func (c Config) EventLogPath() string {
	return filepath.Join(c.resolve(c.DataDir), "events.db")
}

func (c Config) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.HomeDir, dir)
}

// Fingerprint returns a stable hash of the active config, logged at
// startup so operators can tell two daemons apart.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "defs=%s|data=%s|log=%s|quiet=%t|watch=%t|otel=%t",
		c.DefsDir, c.DataDir, c.LogLevel, c.Quiet, c.WatchDefsEnabled(), c.OTel.Enabled)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		DefsDir:  "defs",
		DataDir:  "data",
		LogLevel: "info",
	}
}

// HomeDir returns the orchard home directory, honoring ORCHARD_HOME.
func HomeDir() string {
	if override := os.Getenv("ORCHARD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".orchard")
}

// Load reads config.yaml from the home directory. A missing file yields
// the defaults; a malformed one is an error.
func Load(homeDir string) (Config, error) {
	cfg := defaultConfig()
	if homeDir == "" {
		homeDir = HomeDir()
	}
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create orchard home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.DefsDir) == "" {
		cfg.DefsDir = "defs"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "data"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "orchard"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("ORCHARD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("ORCHARD_DEFS_DIR"); raw != "" {
		cfg.DefsDir = raw
	}
	if raw := os.Getenv("ORCHARD_DATA_DIR"); raw != "" {
		cfg.DataDir = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Notify.Telegram.Token = raw
	}
}
