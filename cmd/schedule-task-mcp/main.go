// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scheduletask/mcp-server/internal/config"
	"github.com/scheduletask/mcp-server/internal/logging"
	"github.com/scheduletask/mcp-server/internal/rpcserver"
	"github.com/scheduletask/mcp-server/internal/scheduler"
	"github.com/scheduletask/mcp-server/internal/storage"
)

var (
	buildVersion   = "dev"
	dbPath         = flag.String("db-path", "", "Path to the SQLite database file (default: ~/.schedule-task-mcp/tasks.db)")
	legacyPath     = flag.String("legacy-file-path", "", "Path to a legacy free-form JSON task file to import once")
	address        = flag.String("address", "", "Address to bind the sse transport to")
	port           = flag.Int("port", 0, "Port to bind the sse transport to")
	transportMode  = flag.String("transport", "", "Transport mode: stdio or sse")
	logLevel       = flag.String("log-level", "", "Logging level: debug, info, warn, error, fatal")
	timezone       = flag.String("timezone", "", "IANA timezone used for cron evaluation and local timestamps")
	samplingMillis = flag.Int("sampling-timeout-ms", 0, "Timeout in milliseconds for the sampling reverse-RPC")
	showVersion    = flag.Bool("version", false, "Show version information and exit")
)

func main() {
	flag.Parse()

	cfg := loadConfig()
	if buildVersion != "" {
		cfg.Server.Version = buildVersion
	}

	if *showVersion {
		log.Printf("%s version %s", cfg.Server.Name, cfg.Server.Version)
		os.Exit(0)
	}

	logWriter := os.Stderr
	if cfg.Server.TransportMode == "stdio" {
		// stdout is the wire; diagnostic logging goes to the configured log
		// file, or to stderr when no log file is configured.
		if logPath := cfg.Logging.FilePath; logPath != "" {
			f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				log.Fatalf("failed to open log file: %v", err)
			}
			defer f.Close()
			logging.SetDefaultLogger(logging.New(logging.Options{Level: logging.ParseLevel(cfg.Logging.Level), Writer: f}))
		} else {
			logging.SetDefaultLogger(logging.New(logging.Options{Level: logging.ParseLevel(cfg.Logging.Level), Writer: logWriter}))
		}
	} else {
		logging.SetDefaultLogger(logging.New(logging.Options{Level: logging.ParseLevel(cfg.Logging.Level), Writer: logWriter}))
	}
	logger := logging.GetDefaultLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := createApp(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to create application: %v", err)
	}

	if err := app.Start(ctx); err != nil {
		logger.Fatalf("failed to start application: %v", err)
	}

	waitForSignal(cancel, app)
}

func loadConfig() *config.Config {
	cfg := config.DefaultConfig()
	config.FromEnv(cfg)
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

func applyFlags(cfg *config.Config) {
	if *dbPath != "" {
		cfg.Storage.DBPath = config.NormalizeDBPath(*dbPath)
	}
	if *legacyPath != "" {
		cfg.Storage.LegacyFilePath = *legacyPath
	}
	if *address != "" {
		cfg.Server.Address = *address
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *transportMode != "" {
		cfg.Server.TransportMode = *transportMode
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *timezone != "" {
		cfg.Scheduler.Timezone = *timezone
	}
	if *samplingMillis > 0 {
		cfg.Scheduler.SamplingTimeout = time.Duration(*samplingMillis) * time.Millisecond
	}
}

// Application wires storage, the scheduler core, and the RPC surface
// together, per the startup/shutdown ordering in the service's process
// wiring: open store, construct scheduler, initialize (hydrate + arm),
// construct RPC surface, wire it back as the scheduler's sampling peer,
// then serve. Shutdown reverses the order.
type Application struct {
	store  *storage.SQLiteStore
	sched  *scheduler.Scheduler
	rpc    *rpcserver.Server
	logger *logging.Logger
}

func createApp(cfg *config.Config, logger *logging.Logger) (*Application, error) {
	store, err := storage.Open(cfg.Storage.DBPath, cfg.LegacyPath(), logger)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(store, &cfg.Scheduler, logger)

	rpc, err := rpcserver.New(cfg, sched, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched.SetSampler(rpc)

	return &Application{store: store, sched: sched, rpc: rpc, logger: logger}, nil
}

// Start hydrates and arms the scheduler, then begins serving the transport.
// Run blocks, so it happens on its own goroutine.
func (a *Application) Start(ctx context.Context) error {
	if err := a.sched.Initialize(ctx); err != nil {
		return err
	}
	a.logger.Infof("scheduler initialized")

	go func() {
		if err := a.rpc.Run(); err != nil {
			a.logger.Errorf("rpc server stopped: %v", err)
		}
	}()
	a.logger.Infof("rpc server started")
	return nil
}

// Stop tears down in the reverse of startup order: stop accepting RPCs,
// disarm every timer, then close the store.
func (a *Application) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.rpc.Shutdown(shutdownCtx); err != nil {
		a.logger.Errorf("error shutting down rpc server: %v", err)
	}
	if err := a.sched.Shutdown(shutdownCtx); err != nil {
		a.logger.Errorf("error shutting down scheduler: %v", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Errorf("error closing store: %v", err)
		return err
	}
	return nil
}

func waitForSignal(cancel context.CancelFunc, app *Application) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	<-signalCh
	app.logger.Infof("received termination signal, shutting down")
	cancel()

	shutdownDone := make(chan struct{})
	go func() {
		if err := app.Stop(); err != nil {
			app.logger.Errorf("error during shutdown: %v", err)
		}
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		app.logger.Infof("graceful shutdown completed")
	case <-time.After(5 * time.Second):
		app.logger.Warnf("shutdown timed out")
	}
}
