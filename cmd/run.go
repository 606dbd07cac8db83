// Copyright 2026 Warden Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warden-systems/warden-core/internal/pprof"
	"github.com/warden-systems/warden-core/pkg/api"
	"github.com/warden-systems/warden-core/pkg/backup"
	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/control"
	"github.com/warden-systems/warden-core/pkg/eventlog"
	"github.com/warden-systems/warden-core/pkg/fsm"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/metrics"
	"github.com/warden-systems/warden-core/pkg/models"
	"github.com/warden-systems/warden-core/pkg/registry"
	"github.com/warden-systems/warden-core/pkg/sentry"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
	"github.com/warden-systems/warden-core/pkg/service/hostmonitor"
	"github.com/warden-systems/warden-core/pkg/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervision agent",
	Long: `Starts the agent: loads and validates the configuration, then runs the
control loop, the HTTP API, and the metrics endpoint until SIGINT or
SIGTERM. Shutdown takes a final backup before stopping the services in
reverse dependency order.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	// Initialize the global logger first thing
	logger.Initialize()

	sentry.InitSentry(version.GetAppVersion(), true)

	log := logger.For(logger.ComponentCore)
	log.Info("Starting warden-core...")

	// Start the pprof server (if enabled)
	pprof.StartPprofServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configManager, err := config.NewFileConfigManagerWithBackoff()
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create config manager: %s", err)

		return fmt.Errorf("creating config manager: %w", err)
	}

	// Load or create the configuration with environment variable overrides
	// applied and persisted back to the file.
	configData, err := config.LoadConfigWithEnvOverrides(ctx, configManager, log)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %s", err)

		return fmt.Errorf("loading config: %w", err)
	}

	// Nothing starts on a broken dependency graph.
	reg, err := registry.Validate(configData.Services)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Invalid service configuration: %s", err)

		return err
	}
	if order := reg.StartOrder(); len(order) > 0 {
		log.Infof("Supervising %d service(s), start order: %s", len(order), strings.Join(order, ", "))
	}

	// Start the metrics server
	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", configData.Agent.MetricsPort))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %s", err)
		}
	}()

	journal := eventlog.NewJournal(eventlog.DefaultCapacity)

	backupManager := backup.NewManager(filesystem.NewDefaultService(),
		backup.WithDataDir(configData.Agent.DataDir),
		backup.WithMaxBackups(configData.Backup.MaxBackups),
	)
	backupWorker := backup.NewWorker(backupManager, journal)

	controlLoop := control.NewControlLoop(configManager, backupWorker, journal)

	// Start the HTTP API
	apiServer := api.NewServer(controlLoop, controlLoop, backupWorker,
		api.WithHostMonitor(hostmonitor.NewHostMonitorService()),
		api.WithJournal(journal),
	)
	httpServer := apiServer.Start(fmt.Sprintf(":%d", configData.Agent.APIPort))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown API server: %s", err)
		}
	}()

	journal.Record(models.EventTypeSystem, models.EventSeverityInfo, logger.ComponentCore,
		"agent started, version %s, %d service(s) configured", version.GetAppVersion(), len(configData.Services))

	go handleShutdownSignals(ctx, cancel, controlLoop, journal, log)
	go snapshotLogger(ctx, controlLoop)

	if err := controlLoop.Execute(ctx); err != nil {
		log.Errorf("Control loop failed: %s", err)
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Control loop failed: %s", err)

		return fmt.Errorf("control loop: %w", err)
	}

	log.Info("warden-core completed")

	return nil
}

// handleShutdownSignals runs the shutdown sequence on the first SIGINT or
// SIGTERM: final backup, then services down in reverse dependency order,
// then cancel the loop. The loop must keep ticking while Stop runs, the
// stop actions ride on live ticks. A second signal forces an exit.
func handleShutdownSignals(ctx context.Context, cancel context.CancelFunc, controlLoop *control.ControlLoop, journal *eventlog.Journal, log *zap.SugaredLogger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		return
	case sig := <-sigCh:
		log.Infof("Received %s, starting shutdown sequence", sig)
		journal.Record(models.EventTypeSystem, models.EventSeverityInfo, logger.ComponentCore,
			"shutdown requested (%s)", sig)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := controlLoop.Stop(context.Background()); err != nil {
			log.Errorf("Shutdown sequence finished with errors: %s", err)
		}
		cancel()
	}()

	select {
	case <-done:
	case <-sigCh:
		log.Warn("Second signal received, forcing exit")
		os.Exit(1)
	}
}

// snapshotLogger writes a periodic one-line view of the fleet, the terse
// operational summary for anyone tailing the agent log.
func snapshotLogger(ctx context.Context, controlLoop *control.ControlLoop) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	log := logger.For(logger.ComponentCore)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := controlLoop.GetSystemSnapshot()
			if snapshot == nil {
				continue
			}

			mgr, ok := fsm.FindManager(*snapshot, fsm.SupervisorManagerName)
			if !ok {
				continue
			}

			instances := mgr.GetInstances()
			if len(instances) == 0 {
				log.Infof("Tick %d: no services", snapshot.Tick)

				continue
			}

			parts := make([]string, 0, len(instances))
			for name, inst := range instances {
				parts = append(parts, fmt.Sprintf("%s=%s", name, inst.CurrentState))
			}
			sort.Strings(parts)

			log.Infof("Tick %d: %s", snapshot.Tick, strings.Join(parts, " "))
		}
	}
}
