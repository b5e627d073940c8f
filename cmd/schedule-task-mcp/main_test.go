// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"os"
	"testing"

	"github.com/scheduletask/mcp-server/internal/config"
)

func TestApplyFlagsOverridesDefaults(t *testing.T) {
	cfg := config.DefaultConfig()

	tmp := t.TempDir()
	testDBPath := tmp + "/tasks"
	testAddress := "192.168.1.1"
	testPort := 9090
	testTransport := "stdio"
	testLogLevel := "debug"
	testTimezone := "UTC"

	dbPath = &testDBPath
	address = &testAddress
	port = &testPort
	transportMode = &testTransport
	logLevel = &testLogLevel
	timezone = &testTimezone

	applyFlags(cfg)

	if cfg.Storage.DBPath != testDBPath+".db" {
		t.Errorf("expected db path %s.db, got %s", testDBPath, cfg.Storage.DBPath)
	}
	if cfg.Server.Address != testAddress {
		t.Errorf("expected address %s, got %s", testAddress, cfg.Server.Address)
	}
	if cfg.Server.Port != testPort {
		t.Errorf("expected port %d, got %d", testPort, cfg.Server.Port)
	}
	if cfg.Server.TransportMode != testTransport {
		t.Errorf("expected transport mode %s, got %s", testTransport, cfg.Server.TransportMode)
	}
	if cfg.Logging.Level != testLogLevel {
		t.Errorf("expected log level %s, got %s", testLogLevel, cfg.Logging.Level)
	}
	if cfg.Scheduler.Timezone != testTimezone {
		t.Errorf("expected timezone %s, got %s", testTimezone, cfg.Scheduler.Timezone)
	}
}

func TestLoadConfigAppliesEnvThenFlags(t *testing.T) {
	os.Setenv("SCHEDULE_TASK_LOG_LEVEL", "warn")
	defer os.Unsetenv("SCHEDULE_TASK_LOG_LEVEL")

	tmp := t.TempDir()
	testDBPath := tmp + "/tasks.db"
	testTransport := "stdio"
	testLogLevel := "debug"

	dbPath = &testDBPath
	transportMode = &testTransport
	logLevel = &testLogLevel

	cfg := loadConfig()

	if cfg.Storage.DBPath != testDBPath {
		t.Errorf("expected db path %s, got %s", testDBPath, cfg.Storage.DBPath)
	}
	if cfg.Logging.Level != testLogLevel {
		t.Errorf("expected flag to win over env, got %s", cfg.Logging.Level)
	}
	if cfg.Server.TransportMode != testTransport {
		t.Errorf("expected transport mode %s, got %s", testTransport, cfg.Server.TransportMode)
	}
}

func TestCreateAppWiresSchedulerAsSampler(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.DBPath = tmp + "/tasks.db"
	cfg.Server.TransportMode = "stdio"

	app, err := createApp(cfg, nil)
	if err != nil {
		t.Fatalf("createApp: %v", err)
	}
	defer app.store.Close()

	if app.sched == nil || app.rpc == nil || app.store == nil {
		t.Fatal("expected all components to be wired")
	}
}
