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

package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/fsm"
	"github.com/warden-systems/warden-core/pkg/fsm/supervised"
	"github.com/warden-systems/warden-core/pkg/health"
	"github.com/warden-systems/warden-core/pkg/models"
	"github.com/warden-systems/warden-core/pkg/schedule"
	"github.com/warden-systems/warden-core/pkg/version"
)

// BuildSystemStatus folds the published snapshot and the backup worker's
// cache into the status payload. Pure over its inputs apart from the
// timestamps, so the conversion is testable without a running loop.
func BuildSystemStatus(snap *fsm.SystemSnapshot, backups models.BackupStatus, host *models.Host, events []models.Event, now time.Time) models.SystemStatus {
	status := models.SystemStatus{
		OverallHealth: models.OverallHealthy,
		Services:      []models.ServiceStatus{},
		Backups:       backups,
		Host:          host,
		Events:        events,
		Release: models.Release{
			Version: version.GetAppVersion(),
			Channel: version.GetChannel(),
		},
		CollectedAt: now,
	}

	if snap == nil {
		return status
	}

	status.Backups.InQuietHours = inQuietHours(snap.CurrentConfig.Backup, now)

	instances := map[string]*fsm.FSMInstanceSnapshot{}
	if mgr, ok := fsm.FindManager(*snap, fsm.SupervisorManagerName); ok {
		instances = mgr.GetInstances()
	}

	conditions := make([]health.Condition, 0, len(instances))

	// Configured services first, in declaration order. Instances the config
	// no longer names (mid removal) follow, sorted for stable output.
	seen := make(map[string]bool, len(instances))
	for _, svc := range snap.CurrentConfig.Services {
		seen[svc.Name] = true

		inst, ok := instances[svc.Name]
		if !ok {
			// Configured but not yet reconciled into existence, typical for
			// the first ticks after startup or a config addition.
			status.Services = append(status.Services, pendingServiceStatus(svc))
			conditions = append(conditions, health.Condition{Settling: true})

			continue
		}

		status.Services = append(status.Services, serviceStatusFromSnapshot(inst))
		conditions = append(conditions, conditionFromSnapshot(inst))
	}

	leftovers := make([]string, 0)
	for name := range instances {
		if !seen[name] {
			leftovers = append(leftovers, name)
		}
	}
	sort.Strings(leftovers)
	for _, name := range leftovers {
		status.Services = append(status.Services, serviceStatusFromSnapshot(instances[name]))
		conditions = append(conditions, conditionFromSnapshot(instances[name]))
	}

	status.OverallHealth = health.Aggregate(conditions)

	return status
}

// serviceStatusFromSnapshot maps one instance snapshot into the status
// payload's per-service block.
func serviceStatusFromSnapshot(inst *fsm.FSMInstanceSnapshot) models.ServiceStatus {
	out := models.ServiceStatus{
		Name: inst.ID,
		Health: &models.Health{
			Message:       serviceHealthMessage(inst.CurrentState, nil),
			ObservedState: inst.CurrentState,
			DesiredState:  inst.DesiredState,
			Category:      serviceHealthCategory(inst.CurrentState, false),
		},
	}

	observed, ok := inst.LastObservedState.(*supervised.ServiceObservedStateSnapshot)
	if !ok || observed == nil {
		return out
	}

	out.Health.Message = serviceHealthMessage(inst.CurrentState, observed)
	out.Health.Category = serviceHealthCategory(inst.CurrentState, observed.Unhealthy)
	out.DependsOn = observed.Config.DependsOn
	out.RestartAttempts = observed.RestartAttempts
	out.ProbeFailures = observed.ProbeFailures

	if !observed.LastProbe.At.IsZero() {
		at := observed.LastProbe.At
		out.LastProbeAt = &at
	}
	if observed.ServiceInfo.Pid > 0 {
		out.Pid = observed.ServiceInfo.Pid
	}
	if observed.ServiceInfo.Uptime > 0 {
		out.UptimeSeconds = observed.ServiceInfo.Uptime
	}

	return out
}

// pendingServiceStatus covers a configured service the supervisor has not
// materialized yet.
func pendingServiceStatus(svc config.ServiceConfig) models.ServiceStatus {
	return models.ServiceStatus{
		Name: svc.Name,
		Health: &models.Health{
			Message:       "Service not yet created",
			ObservedState: "pending",
			DesiredState:  svc.DesiredFSMState,
			Category:      models.Neutral,
		},
		DependsOn: svc.DependsOn,
	}
}

// conditionFromSnapshot derives the aggregate-health input for one instance.
func conditionFromSnapshot(inst *fsm.FSMInstanceSnapshot) health.Condition {
	cond := health.Condition{
		Failed:   inst.CurrentState == supervised.OperationalStateFailed,
		Settling: supervised.IsSettlingState(inst.CurrentState),
	}

	if observed, ok := inst.LastObservedState.(*supervised.ServiceObservedStateSnapshot); ok && observed != nil {
		if supervised.IsRunningState(inst.CurrentState) {
			cond.Unhealthy = observed.Unhealthy
			cond.Debouncing = !observed.Unhealthy && observed.ProbeFailures > 0
		}
	}

	return cond
}

func serviceHealthCategory(state string, unhealthy bool) models.HealthCategory {
	switch state {
	case supervised.OperationalStateRunning:
		if unhealthy {
			return models.Degraded
		}

		return models.Active
	case supervised.OperationalStateStarting,
		supervised.OperationalStateRestarting,
		supervised.OperationalStateStopping,
		supervised.OperationalStateFailed:
		return models.Degraded
	default:
		// stopped and the lifecycle states
		return models.Neutral
	}
}

func serviceHealthMessage(state string, observed *supervised.ServiceObservedStateSnapshot) string {
	switch state {
	case supervised.OperationalStateRunning:
		if observed != nil && observed.Unhealthy {
			return "Service failing probes"
		}
		if observed != nil && observed.ProbeFailures > 0 {
			return fmt.Sprintf("Service running, %d consecutive probe failure(s)", observed.ProbeFailures)
		}

		return "Service running"
	case supervised.OperationalStateStarting:
		if observed != nil && observed.BlockingDependency != "" {
			return fmt.Sprintf("Waiting for dependency %s", observed.BlockingDependency)
		}

		return "Service starting"
	case supervised.OperationalStateRestarting:
		if observed != nil && !observed.NextRestartAt.IsZero() {
			return fmt.Sprintf("Restart attempt %d pending", observed.RestartAttempts+1)
		}

		return "Service restarting"
	case supervised.OperationalStateStopping:
		return "Service stopping"
	case supervised.OperationalStateStopped:
		return "Service stopped"
	case supervised.OperationalStateFailed:
		return "Restart budget exhausted, operator intervention required"
	default:
		return "Service state unknown"
	}
}

// inQuietHours reports whether now falls inside the configured window.
// Malformed windows are rejected at config validation, so a parse failure
// here only happens for configs that bypassed it and reads as "no window".
func inQuietHours(cfg config.BackupConfig, now time.Time) bool {
	window, err := schedule.ParseWindow(cfg.QuietHours.Start, cfg.QuietHours.End)
	if err != nil {
		return false
	}

	return window.In(now)
}
