// Package config handles configuration loading and defaults for the
// task engine: data file location, backup rotation, persistence mode,
// and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

// Default values.
const (
	DefaultDataFile   = "tasks.json"
	DefaultBackupDir  = ".taskdeps-backups"
	DefaultBackupKeep = 10
	DefaultLogLevel   = "warn"
)

// Config holds the full engine configuration.
type Config struct {
	// Paths
	DataFile  string `toml:"data_file"`
	BackupDir string `toml:"backup_dir"`

	// Persistence
	BackupKeep  int  `toml:"backup_keep"`
	AutoPersist bool `toml:"auto_persist"`

	// Logging
	LogLevel string `toml:"log_level"`
}

// Load builds configuration in priority order: defaults, project config
// file (taskdeps.toml or .taskdeps.toml in dir), environment variables.
func Load(dir string) (*Config, error) {
	cfg := &Config{
		DataFile:    DefaultDataFile,
		BackupDir:   DefaultBackupDir,
		BackupKeep:  DefaultBackupKeep,
		AutoPersist: true,
		LogLevel:    DefaultLogLevel,
	}

	if path := findConfigFile(dir); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	loadFromEnv(cfg)

	cfg.DataFile = expandHome(cfg.DataFile)
	cfg.BackupDir = expandHome(cfg.BackupDir)
	if !filepath.IsAbs(cfg.DataFile) {
		cfg.DataFile = filepath.Join(dir, cfg.DataFile)
	}
	if !filepath.IsAbs(cfg.BackupDir) {
		cfg.BackupDir = filepath.Join(dir, cfg.BackupDir)
	}
	if cfg.BackupKeep <= 0 {
		cfg.BackupKeep = DefaultBackupKeep
	}
	return cfg, nil
}

func findConfigFile(dir string) string {
	for _, name := range []string{"taskdeps.toml", ".taskdeps.toml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("TASKDEPS_DATA_FILE"); v != "" {
		cfg.DataFile = v
	}
	if v := os.Getenv("TASKDEPS_BACKUP_DIR"); v != "" {
		cfg.BackupDir = v
	}
	if v := os.Getenv("TASKDEPS_BACKUP_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BackupKeep = n
		}
	}
	if v := os.Getenv("TASKDEPS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Logger builds the engine logger from the configured level.
func (c *Config) Logger() *log.Logger {
	level, err := log.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = log.WarnLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:  level,
		Prefix: "taskdeps",
	})
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~"+string(os.PathSeparator)) || path == "~" {
		home, _ := os.UserHomeDir()
		if home != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
