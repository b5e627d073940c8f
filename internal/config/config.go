// SPDX-License-Identifier: AGPL-3.0-only

// Package config loads the service configuration in layers: compiled-in
// defaults, then environment variables, then command-line flags — mirroring
// the teacher's DefaultConfig/FromEnv/flag-overlay pattern in cmd/mcp-cron.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ServerConfig controls the MCP transport.
type ServerConfig struct {
	Name          string
	Version       string
	TransportMode string // "stdio" or "sse"
	Address       string
	Port          int
}

// SchedulerConfig controls fire behavior.
type SchedulerConfig struct {
	SamplingTimeout time.Duration
	Timezone        string // IANA name, "" = host zone
}

// StorageConfig controls the durable store.
type StorageConfig struct {
	DBPath         string
	LegacyFilePath string // "" = tasks.json next to DBPath
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	Level    string
	FilePath string
}

// Config is the full, validated process configuration.
type Config struct {
	Server    ServerConfig
	Scheduler SchedulerConfig
	Storage   StorageConfig
	Logging   LoggingConfig
}

const defaultSamplingTimeout = 180_000 * time.Millisecond

// DefaultConfig returns the compiled-in baseline.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return &Config{
		Server: ServerConfig{
			Name:          "schedule-task-mcp",
			Version:       "dev",
			TransportMode: "stdio",
			Address:       "127.0.0.1",
			Port:          8090,
		},
		Scheduler: SchedulerConfig{
			SamplingTimeout: defaultSamplingTimeout,
			Timezone:        "",
		},
		Storage: StorageConfig{
			DBPath:         filepath.Join(home, ".schedule-task-mcp", "tasks.db"),
			LegacyFilePath: "",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// FromEnv overlays environment variables onto cfg, matching the
// SCHEDULE_TASK_* surface documented in the external-interfaces section.
func FromEnv(cfg *Config) {
	if v := os.Getenv("SCHEDULE_TASK_DB_PATH"); v != "" {
		cfg.Storage.DBPath = NormalizeDBPath(v)
	}
	if v := os.Getenv("SCHEDULE_TASK_TIMEZONE"); v != "" {
		cfg.Scheduler.Timezone = v
	}
	if v := os.Getenv("SCHEDULE_TASK_SAMPLING_TIMEOUT"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Scheduler.SamplingTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SCHEDULE_TASK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SCHEDULE_TASK_TRANSPORT"); v != "" {
		cfg.Server.TransportMode = v
	}
	if v := os.Getenv("SCHEDULE_TASK_LEGACY_FILE_PATH"); v != "" {
		cfg.Storage.LegacyFilePath = v
	}
}

// NormalizeDBPath enforces the ".db" suffix rule from §6: a ".json" path is
// rewritten to ".db"; an extensionless path gets ".db" appended.
func NormalizeDBPath(path string) string {
	ext := filepath.Ext(path)
	switch ext {
	case ".db":
		return path
	case ".json":
		return strings.TrimSuffix(path, ext) + ".db"
	case "":
		return path + ".db"
	default:
		return path
	}
}

// LegacyPath returns the resolved legacy free-form file path for migration
// rule 2: the configured override, or tasks.json alongside the database.
func (c *Config) LegacyPath() string {
	if c.Storage.LegacyFilePath != "" {
		return c.Storage.LegacyFilePath
	}
	return filepath.Join(filepath.Dir(c.Storage.DBPath), "tasks.json")
}

// Validate rejects an unusable configuration. Called once at startup;
// failure is fatal, per the error-handling design's "store errors at
// startup are fatal" rule extended to configuration.
func (c *Config) Validate() error {
	switch c.Server.TransportMode {
	case "stdio", "sse":
	default:
		return fmt.Errorf("unsupported transport mode: %s", c.Server.TransportMode)
	}
	if c.Scheduler.SamplingTimeout <= 0 {
		return fmt.Errorf("sampling timeout must be positive, got %s", c.Scheduler.SamplingTimeout)
	}
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return fmt.Errorf("db path must not be empty")
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Scheduler.Timezone, err)
		}
	}
	return nil
}
