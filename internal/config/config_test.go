// SPDX-License-Identifier: AGPL-3.0-only
package config

import (
	"testing"
	"time"
)

func TestNormalizeDBPath(t *testing.T) {
	cases := map[string]string{
		"/x/tasks.json": "/x/tasks.db",
		"/x/tasks.db":   "/x/tasks.db",
		"/x/tasks":      "/x/tasks.db",
	}
	for in, want := range cases {
		if got := NormalizeDBPath(in); got != want {
			t.Errorf("NormalizeDBPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SCHEDULE_TASK_DB_PATH", "/tmp/custom.json")
	t.Setenv("SCHEDULE_TASK_TIMEZONE", "Asia/Shanghai")
	t.Setenv("SCHEDULE_TASK_SAMPLING_TIMEOUT", "5000")
	t.Setenv("SCHEDULE_TASK_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	FromEnv(cfg)

	if cfg.Storage.DBPath != "/tmp/custom.db" {
		t.Errorf("DBPath = %q, want /tmp/custom.db", cfg.Storage.DBPath)
	}
	if cfg.Scheduler.Timezone != "Asia/Shanghai" {
		t.Errorf("Timezone = %q", cfg.Scheduler.Timezone)
	}
	if cfg.Scheduler.SamplingTimeout != 5*time.Second {
		t.Errorf("SamplingTimeout = %s, want 5s", cfg.Scheduler.SamplingTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadTransport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.TransportMode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.Timezone = "Nowhere/Place"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad timezone")
	}
}

func TestLegacyPathDefaultsAlongsideDB(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DBPath = "/data/tasks.db"
	if got, want := cfg.LegacyPath(), "/data/tasks.json"; got != want {
		t.Errorf("LegacyPath() = %q, want %q", got, want)
	}
}
