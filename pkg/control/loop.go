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

// Package control runs the agent's single reconciliation loop.
//
// One ticker drives everything: each tick fetches the configuration,
// reconciles the supervised-service manager against the previous tick's
// snapshot, publishes a fresh snapshot for the API and CLI, and evaluates
// the backup cadence. The loop also owns the two orchestration surfaces
// that need the whole fleet at once: suspending every service around a
// restore and the shutdown sequence with its final backup.
package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warden-systems/warden-core/pkg/backoff"
	"github.com/warden-systems/warden-core/pkg/backup"
	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/ctxutil"
	"github.com/warden-systems/warden-core/pkg/eventlog"
	"github.com/warden-systems/warden-core/pkg/fsm"
	"github.com/warden-systems/warden-core/pkg/fsm/supervised"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/metrics"
	"github.com/warden-systems/warden-core/pkg/models"
	"github.com/warden-systems/warden-core/pkg/registry"
	"github.com/warden-systems/warden-core/pkg/schedule"
	"github.com/warden-systems/warden-core/pkg/sentry"
	"github.com/warden-systems/warden-core/pkg/serviceregistry"
	"github.com/warden-systems/warden-core/pkg/starvationchecker"
)

// ControlLoop is the agent's central orchestration component. It drives the
// supervised-service fleet toward the configured state one bounded tick at
// a time and shares what it learns through a thread-safe snapshot.
//
// The loop follows the desired-state pattern:
//  1. Configuration defines what the fleet should look like
//  2. The manager reconciles actual state toward it every tick
//  3. Changes settle over successive ticks until the system stabilizes
//
// Reconcile always hands the managers the previous tick's snapshot together
// with the current configuration, so every instance decision is based on
// one consistent view of the fleet.
type ControlLoop struct {
	tickerTime        time.Duration
	managers          []fsm.FSMManager[any]
	configManager     config.ConfigManager
	logger            *zap.SugaredLogger
	starvationChecker *starvationchecker.StarvationChecker
	currentTick       uint64
	snapshotManager   *fsm.SnapshotManager
	managerTimes      map[string]time.Duration
	managerTimesMutex sync.RWMutex
	services          *serviceregistry.Registry
	journal           *eventlog.Journal

	backupWorker *backup.Worker
	// planner is loop-owned; only evaluateBackupCadence touches it.
	planner       *schedule.Planner
	plannerConfig config.BackupConfig

	// suspended forces every service's desired state to stopped. Engaged
	// around worker-run restores and during the shutdown sequence.
	suspended atomic.Bool
}

// NewControlLoop assembles the loop with its production manager set. The
// journal is shared with the supervisor manager so service lifecycle events
// and backup events land in one place. A nil backup worker disables the
// cadence and the shutdown backup; tests use that.
func NewControlLoop(configManager config.ConfigManager, backupWorker *backup.Worker, journal *eventlog.Journal) *ControlLoop {
	log := logger.For(logger.ComponentControlLoop)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	// The registry carries the ambient services (filesystem, port manager)
	// that every instance reconcile receives.
	servicesRegistry := serviceregistry.NewRegistry()

	managers := []fsm.FSMManager[any]{
		supervised.NewSupervisorManager(constants.DefaultManagerName, journal),
	}

	starvationChecker := starvationchecker.NewStarvationChecker(constants.StarvationThreshold)

	snapshotManager := fsm.NewSnapshotManager()

	metrics.InitErrorCounter(metrics.ComponentControlLoop, "main")

	return &ControlLoop{
		managers:          managers,
		tickerTime:        constants.DefaultTickerTime,
		configManager:     configManager,
		logger:            log,
		starvationChecker: starvationChecker,
		snapshotManager:   snapshotManager,
		managerTimes:      make(map[string]time.Duration),
		services:          servicesRegistry,
		journal:           journal,
		backupWorker:      backupWorker,
	}
}

// Execute runs the loop until the context is cancelled. Each tick gets a
// deadline of one ticker interval; ticks that overrun drop beats instead of
// queueing.
//
// Error handling per tick:
//   - deadline exceeded: warn and keep going, the next tick gets a fresh budget
//   - context cancelled: clean shutdown, return nil
//   - anything else: abort the loop and surface the error
func (c *ControlLoop) Execute(ctx context.Context) error {
	ticker := time.NewTicker(c.tickerTime)
	defer ticker.Stop()

	c.currentTick = 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.currentTick++

			start := time.Now()

			timeoutCtx, cancel := context.WithTimeout(ctx, c.tickerTime)
			err := c.Reconcile(timeoutCtx, c.currentTick)
			cancel()

			cycleTime := time.Since(start)

			if cycleTime > c.tickerTime {
				c.logger.Warnf("Reconcile cycle took %s, longer than the %s tick: %s", cycleTime, c.tickerTime, c.formatManagerTimes())
				if cycleTime > 2*c.tickerTime {
					c.logger.Errorf("Reconcile cycle took %s, more than twice the %s tick", cycleTime, c.tickerTime)
				}
			}

			metrics.ObserveReconcileTime(metrics.ComponentControlLoop, "main", cycleTime)

			if err != nil {
				switch {
				case errors.Is(err, context.DeadlineExceeded):
					sentry.ReportIssuef(sentry.IssueTypeWarning, c.logger, "Control loop reconcile timed out: %s", err)
				case errors.Is(err, context.Canceled):
					c.logger.Infof("Control loop cancelled")

					return nil
				default:
					metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, "main", err, c.logger)
					sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Control loop error: %s", err)

					return err
				}
			}
		}
	}
}

// Reconcile performs one reconciliation cycle: fetch the configuration,
// hand the previous tick's snapshot plus the new config to the managers in
// parallel, then publish a fresh snapshot and evaluate the backup cadence.
//
// The managers run under an errgroup capped at MaxConcurrentFSMOperations
// and bounded to LoopControlLoopTimeFactor of the tick budget; the reserve
// covers snapshot publication and cadence work at the end of the tick.
// A manager error on a tick that changed nothing aborts the cycle; once any
// manager made progress the error is deferred to a later tick, which sees
// the updated snapshot.
func (c *ControlLoop) Reconcile(ctx context.Context, tick uint64) error {
	if c.configManager == nil {
		return fmt.Errorf("config manager is not set")
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// The managers reconcile against the previous tick's snapshot; only the
	// config in it is current. The deep copy keeps concurrent snapshot
	// readers unaffected by this tick's work.
	prevSnapshot := c.snapshotManager.GetSnapshot()

	var newSnapshot fsm.SystemSnapshot

	if prevSnapshot == nil {
		newSnapshot = fsm.SystemSnapshot{
			Managers:     make(map[string]fsm.ManagerSnapshot),
			SnapshotTime: time.Now(),
			Tick:         tick,
		}
	} else {
		err := deepcopy.Copy(&newSnapshot, prevSnapshot)
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Failed to deep copy snapshot: %s", err)

			return fmt.Errorf("failed to deep copy snapshot: %w", err)
		}
		newSnapshot.Tick = tick
		newSnapshot.SnapshotTime = time.Now()
	}

	// Config reads go through the backoff wrapper: transient filesystem
	// trouble skips ticks, repeated failure escalates to a permanent error
	// that stops the loop.
	cfg, err := c.configManager.GetConfig(ctx, tick)
	if err != nil {
		switch {
		case backoff.IsTemporaryBackoffError(err):
			c.logger.Debugf("Skipping reconcile cycle due to temporary config backoff: %s", err)

			return nil
		case backoff.IsPermanentFailureError(err):
			originalErr := backoff.ExtractOriginalError(err)
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Config manager has permanently failed after max retries: %s (original error: %s)", err, originalErr)
			metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, "config_permanent_failure", err, c.logger)

			return fmt.Errorf("config permanently failed, system needs intervention: %w", err)
		default:
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Config manager error: %s", err)

			return nil
		}
	}

	// Scalar fields were validated inside the config manager; the graph
	// check runs here because acting on a broken graph is a supervision
	// decision. A config edit that introduces a cycle or an unknown
	// dependency skips the tick, leaving the fleet on its previous footing
	// until the file is fixed.
	if _, err := registry.Validate(cfg.Services); err != nil {
		metrics.IncErrorCount(metrics.ComponentControlLoop, "main")
		sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Rejecting config with invalid dependency graph: %s", err)

		return nil
	}

	cfg = c.applyServiceSuspension(cfg)
	newSnapshot.CurrentConfig = cfg

	// Hand the managers a fraction of the remaining budget so the tail of
	// the tick still fits.
	deadline, ok := ctx.Deadline()
	if !ok {
		return ctxutil.ErrNoDeadline
	}
	remainingTime := time.Until(deadline)
	innerDeadline := time.Now().Add(time.Duration(float64(remainingTime) * constants.LoopControlLoopTimeFactor))
	innerCtx, cancel := context.WithDeadline(ctx, innerDeadline)
	defer cancel()

	c.managerTimesMutex.Lock()
	c.managerTimes = make(map[string]time.Duration)
	c.managerTimesMutex.Unlock()

	hasAnyReconciles := false
	hasAnyReconcilesMutex := sync.Mutex{}

	group, _ := errgroup.WithContext(innerCtx)
	group.SetLimit(constants.MaxConcurrentFSMOperations)

	// With more managers than slots, schedule a tick-rotated batch so every
	// manager gets its turn over consecutive ticks.
	startIdx := 0
	endIdx := len(c.managers)

	if len(c.managers) > constants.MaxConcurrentFSMOperations {
		totalBatches := (len(c.managers) + constants.MaxConcurrentFSMOperations - 1) / constants.MaxConcurrentFSMOperations
		currentBatch := int(tick % uint64(totalBatches))

		startIdx = currentBatch * constants.MaxConcurrentFSMOperations
		endIdx = startIdx + constants.MaxConcurrentFSMOperations
		if endIdx > len(c.managers) {
			endIdx = len(c.managers)
		}

		c.logger.Debugf("Scheduling manager batch %d/%d: managers %d-%d (tick %d)",
			currentBatch+1, totalBatches, startIdx, endIdx-1, tick)
	}

	for i := startIdx; i < endIdx; i++ {
		capturedManager := c.managers[i]

		started := group.TryGo(func() error {
			// TryGo can admit a goroutine after the budget is already gone.
			if innerCtx.Err() != nil {
				c.logger.Debugf("Context is already cancelled, skipping manager %s", capturedManager.GetManagerName())

				return nil
			}

			reconciled, err := c.reconcileManager(innerCtx, capturedManager, newSnapshot)
			if err != nil {
				return err
			}
			if reconciled {
				hasAnyReconcilesMutex.Lock()
				hasAnyReconciles = true
				hasAnyReconcilesMutex.Unlock()
			}

			return nil
		})
		if !started {
			c.logger.Debugf("Too many running managers, skipping remaining")

			break
		}
	}

	waitErrorChannel := make(chan error, 1)
	go func() {
		waitErrorChannel <- group.Wait()
	}()

	select {
	case wgErr := <-waitErrorChannel:
		err = wgErr
	case <-innerCtx.Done():
		err = innerCtx.Err()
	}

	// The loop completed a cycle, busy or not; stamp the watchdog.
	if c.starvationChecker == nil {
		return fmt.Errorf("starvation checker is not set")
	}
	if starvationErr, _ := c.starvationChecker.Reconcile(ctx, cfg); starvationErr != nil {
		return fmt.Errorf("starvation checker reconciliation failed: %w", starvationErr)
	}

	hasAnyReconcilesMutex.Lock()
	anyReconciled := hasAnyReconciles
	hasAnyReconcilesMutex.Unlock()

	if !anyReconciled && err != nil {
		return err
	}

	c.updateSystemSnapshot(cfg, tick)
	c.evaluateBackupCadence(cfg)

	return nil
}

// reconcileManager runs one manager inside the errgroup, recording its
// execution time for the overrun breakdown.
func (c *ControlLoop) reconcileManager(ctx context.Context, manager fsm.FSMManager[any], newSnapshot fsm.SystemSnapshot) (bool, error) {
	managerName := manager.GetManagerName()

	managerStart := time.Now()
	err, reconciled := manager.Reconcile(ctx, newSnapshot, c.services)
	executionTime := time.Since(managerStart)

	c.managerTimesMutex.Lock()
	c.managerTimes[managerName] = executionTime
	c.managerTimesMutex.Unlock()

	if err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, managerName, err, c.logger)

		return false, fmt.Errorf("manager %s reconciliation failed: %w", managerName, err)
	}

	return reconciled, nil
}

// formatManagerTimes renders the per-manager execution times of the last
// cycle, sorted by name for stable output.
func (c *ControlLoop) formatManagerTimes() string {
	c.managerTimesMutex.RLock()
	defer c.managerTimesMutex.RUnlock()

	if len(c.managerTimes) == 0 {
		return "no managers ran"
	}

	parts := make([]string, 0, len(c.managerTimes))
	for name, d := range c.managerTimes {
		parts = append(parts, fmt.Sprintf("%s=%s", name, d))
	}
	sort.Strings(parts)

	return strings.Join(parts, " ")
}

// evaluateBackupCadence drives scheduled backups from the tick. The planner
// is rebuilt whenever the backup section of the configuration changes, so
// interval and quiet-hours edits take effect without a restart. A due run
// inside quiet hours is suppressed and journaled; a due run that finds the
// worker busy is skipped silently and the cadence tries again after the
// next interval.
func (c *ControlLoop) evaluateBackupCadence(cfg config.FullConfig) {
	// A nonpositive interval means the cadence is disabled. Config
	// defaulting fills in a real interval, so this only happens on configs
	// that bypassed it.
	if c.backupWorker == nil || cfg.Backup.IntervalMinutes <= 0 {
		return
	}

	now := time.Now()

	if c.planner == nil || c.plannerConfig != cfg.Backup {
		window, err := schedule.ParseWindow(cfg.Backup.QuietHours.Start, cfg.Backup.QuietHours.End)
		if err != nil {
			// Validation rejects malformed windows, so only a bypassed
			// config path can get here. Keep the previous cadence.
			sentry.ReportIssuef(sentry.IssueTypeWarning, c.logger, "Invalid quiet hours in config: %s", err)

			return
		}

		c.planner = schedule.NewPlanner(time.Duration(cfg.Backup.IntervalMinutes)*time.Minute, window, now)
		c.plannerConfig = cfg.Backup
		c.logger.Infof("Backup cadence: every %d minutes, quiet hours %q", cfg.Backup.IntervalMinutes, window)
	}

	switch c.planner.Evaluate(now) {
	case schedule.DecisionRun:
		c.backupWorker.TriggerScheduled()
	case schedule.DecisionSuppressed:
		until := time.Until(c.planner.NextRun()).Round(time.Second)
		c.logger.Infof("Scheduled backup suppressed by quiet hours %s, next attempt in %s", c.planner.Window(), until)
		if c.journal != nil {
			c.journal.Record(models.EventTypeBackup, models.EventSeverityInfo, logger.ComponentScheduler, "scheduled backup suppressed by quiet hours, next attempt in %s", until)
		}
	}

	c.backupWorker.SetNextScheduled(c.planner.NextRun())
}

// updateSystemSnapshot publishes a fresh snapshot of every manager for
// concurrent readers.
func (c *ControlLoop) updateSystemSnapshot(cfg config.FullConfig, tick uint64) {
	if c.logger == nil {
		c.logger = logger.For(logger.ComponentControlLoop)
	}

	if c.snapshotManager == nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, c.logger, "Cannot create system snapshot: snapshot manager is not set")

		return
	}

	snapshot, err := fsm.GetManagerSnapshots(c.managers, tick, cfg)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Failed to create system snapshot: %s", err)

		return
	}

	c.snapshotManager.UpdateSnapshot(snapshot)
	c.logger.Debugf("Updated system snapshot at tick %d", tick)
}

// GetSystemSnapshot returns the current snapshot of the system state.
// Thread-safe; the API and CLI status paths read through this.
func (c *ControlLoop) GetSystemSnapshot() *fsm.SystemSnapshot {
	if c.logger == nil {
		c.logger = logger.For(logger.ComponentControlLoop)
	}

	if c.snapshotManager == nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, c.logger, "Cannot get system snapshot: snapshot manager is not set")

		return nil
	}

	return c.snapshotManager.GetSnapshot()
}

// GetConfigManager returns the config manager for components that need
// direct access to the current configuration.
func (c *ControlLoop) GetConfigManager() config.ConfigManager {
	return c.configManager
}

// GetSnapshotManager returns the snapshot manager.
func (c *ControlLoop) GetSnapshotManager() *fsm.SnapshotManager {
	return c.snapshotManager
}

// StopAllServices overrides every service's desired state to stopped and
// waits until nothing can still have a process up. The configuration on
// disk keeps the operator's desired states; the override lives only inside
// the loop and ends with ResumeAllServices.
//
// The manager refuses to stop a service whose dependents are still up, so
// the fleet winds down in reverse dependency order on its own. Execute must
// be ticking for the wait to converge.
func (c *ControlLoop) StopAllServices(ctx context.Context) error {
	c.suspended.Store(true)
	c.logger.Infof("Service suspension engaged, waiting for the fleet to stop")

	if err := c.waitAllServicesSettled(ctx); err != nil {
		return err
	}

	c.logger.Infof("All services stopped")

	return nil
}

// ResumeAllServices lifts the suspension. Services restart over the
// following ticks according to their configured desired states, dependency
// order included.
func (c *ControlLoop) ResumeAllServices() {
	c.suspended.Store(false)
	c.logger.Infof("Service suspension lifted")
}

// applyServiceSuspension rewrites the desired state of every service to
// stopped while the suspension is engaged. Works on a copied slice so the
// config manager's cache stays untouched.
func (c *ControlLoop) applyServiceSuspension(cfg config.FullConfig) config.FullConfig {
	if !c.suspended.Load() {
		return cfg
	}

	services := make([]config.ServiceConfig, len(cfg.Services))
	copy(services, cfg.Services)
	for i := range services {
		services[i].DesiredFSMState = config.DesiredStateStopped
	}
	cfg.Services = services

	return cfg
}

// waitAllServicesSettled polls the published snapshot once per tick until
// no instance remains in a state that can own a process.
func (c *ControlLoop) waitAllServicesSettled(ctx context.Context) error {
	ticker := time.NewTicker(c.tickerTime)
	defer ticker.Stop()

	for {
		if c.allServicesSettled() {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for services to stop: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// allServicesSettled reports whether every supervised instance is out of
// the states that may own a process. Stopped, failed and not-yet-created
// instances all count as settled.
func (c *ControlLoop) allServicesSettled() bool {
	snap := c.snapshotManager.GetSnapshot()
	if snap == nil {
		return false
	}

	mgr, ok := fsm.FindManager(*snap, fsm.SupervisorManagerName)
	if !ok {
		// No supervisor snapshot means no instance was ever reconciled.
		return true
	}

	for _, inst := range mgr.GetInstances() {
		switch inst.CurrentState {
		case supervised.OperationalStateStarting,
			supervised.OperationalStateRunning,
			supervised.OperationalStateRestarting,
			supervised.OperationalStateStopping:
			return false
		}
	}

	return true
}

// Stop runs the shutdown sequence. Execute must still be ticking when Stop
// is called: the final state capture and the reverse-order service stop
// both ride on live ticks. Cancel Execute's context only after Stop
// returns.
//
// The backup runs before the services stop so the captured state reflects
// the fleet as it was running, and a stuck stop cannot eat the backup's
// budget. The shutdown reason bypasses quiet hours and waits out any
// in-flight backup or restore. The whole sequence is bounded by
// ShutdownSequenceTimeout.
func (c *ControlLoop) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.ShutdownSequenceTimeout)
	defer cancel()

	var errs []error

	if c.backupWorker != nil {
		c.logger.Infof("Taking shutdown backup")
		if err := c.backupWorker.RunShutdown(ctx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Shutdown backup failed: %s", err)
			errs = append(errs, fmt.Errorf("shutdown backup: %w", err))
		}
	}

	c.logger.Infof("Stopping all services")
	if err := c.StopAllServices(ctx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, c.logger, "Shutdown left services running: %s", err)
		errs = append(errs, err)
	}

	if c.starvationChecker != nil {
		c.starvationChecker.Stop()
	}

	return errors.Join(errs...)
}
