// Package config loads daemon configuration from an optional YAML file and
// overlays the environment on top. Environment variables always win so the
// daemon can run in containers with no config file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Version string         `yaml:"version"`
	Primary *PrimaryConfig `yaml:"primary"`
	Board   *BoardConfig   `yaml:"board"`
	Local   *LocalConfig   `yaml:"local"`
	Sync    *SyncConfig    `yaml:"sync"`
	Health  *HealthConfig  `yaml:"health"`
	Data    *DataConfig    `yaml:"data"`
	Logging *LoggingConfig `yaml:"logging"`
}

// PrimaryConfig holds Primary tracker settings
type PrimaryConfig struct {
	APIURL           string `yaml:"api_url"`
	Token            string `yaml:"token"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

// BoardConfig holds Board backend settings
type BoardConfig struct {
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`
}

// LocalConfig holds Local store CLI settings
type LocalConfig struct {
	CLIPath   string `yaml:"cli_path"`
	MarkerDir string `yaml:"marker_dir"`
	StacksDir string `yaml:"stacks_dir"`
}

// SyncConfig holds orchestrator settings
type SyncConfig struct {
	IntervalMS        int      `yaml:"interval_ms"`
	Incremental       bool     `yaml:"incremental"`
	Parallel          bool     `yaml:"parallel"`
	MaxWorkers        int      `yaml:"max_workers"`
	DryRun            bool     `yaml:"dry_run"`
	SkipEmptyProjects bool     `yaml:"skip_empty_projects"`
	Projects          []string `yaml:"projects"` // allow-list of Primary identifiers; empty means all
}

// HealthConfig holds the health endpoint settings
type HealthConfig struct {
	Port int `yaml:"port"`
}

// DataConfig holds state store settings
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Primary: &PrimaryConfig{
			RequestTimeoutMS: 30000,
		},
		Board: &BoardConfig{},
		Local: &LocalConfig{
			CLIPath:   "bd",
			MarkerDir: ".local",
		},
		Sync: &SyncConfig{
			IntervalMS: 30000,
			MaxWorkers: 4,
		},
		Health: &HealthConfig{
			Port: 9090,
		},
		Data: &DataConfig{
			Dir: filepath.Join(homeDir, ".stacksync", "data"),
		},
		Logging: &LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxAgeDays: 14,
			MaxBackups: 5,
		},
	}
}

// Load loads configuration from a file, then overlays environment
// variables. A missing file is not an error; env-only setups are common.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()

	config.Data.Dir = expandPath(config.Data.Dir)
	config.Local.StacksDir = expandPath(config.Local.StacksDir)

	return config, nil
}

// applyEnv overlays the well-known environment variables on the loaded file.
func (c *Config) applyEnv() {
	setString(&c.Primary.APIURL, "PRIMARY_API_URL")
	setString(&c.Primary.Token, "PRIMARY_TOKEN")
	setString(&c.Board.APIURL, "BOARD_API_URL")
	setString(&c.Board.Token, "BOARD_TOKEN")
	setString(&c.Local.CLIPath, "LOCAL_CLI_PATH")
	setString(&c.Local.StacksDir, "STACKS_DIR")
	setInt(&c.Sync.IntervalMS, "SYNC_INTERVAL_MS")
	setBool(&c.Sync.Incremental, "INCREMENTAL_SYNC")
	setBool(&c.Sync.Parallel, "PARALLEL_SYNC")
	setInt(&c.Sync.MaxWorkers, "MAX_WORKERS")
	setBool(&c.Sync.DryRun, "DRY_RUN")
	setBool(&c.Sync.SkipEmptyProjects, "SKIP_EMPTY_PROJECTS")
	setInt(&c.Health.Port, "HEALTH_PORT")
	setString(&c.Data.Dir, "STACKSYNC_DATA_DIR")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.File, "LOG_FILE")
}

// RequestTimeout is the per-adapter-call timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Primary.RequestTimeoutMS) * time.Millisecond
}

// CycleDeadline bounds a full sync cycle.
func (c *Config) CycleDeadline() time.Duration {
	return 10 * c.RequestTimeout()
}

// Interval is the scheduler tick period.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Sync.IntervalMS) * time.Millisecond
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Primary.APIURL == "" {
		return fmt.Errorf("primary api_url is required (PRIMARY_API_URL)")
	}
	if c.Primary.Token == "" {
		return fmt.Errorf("primary token is required (PRIMARY_TOKEN)")
	}
	if c.Board.APIURL == "" {
		return fmt.Errorf("board api_url is required (BOARD_API_URL)")
	}
	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", c.Health.Port)
	}
	if c.Sync.IntervalMS < 1000 {
		return fmt.Errorf("sync interval must be at least 1000ms, got %d", c.Sync.IntervalMS)
	}
	if c.Sync.Parallel && c.Sync.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be positive when parallel sync is on, got %d", c.Sync.MaxWorkers)
	}
	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".stacksync", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}
