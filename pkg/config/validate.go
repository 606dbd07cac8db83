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

package config

import (
	"fmt"
	"net/url"

	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/schedule"
)

// ApplyDefaults fills every unset field with its default from pkg/constants.
// Quiet hours are left alone: an empty window means backups may run at any
// time, which is a valid choice, not a missing value.
func (c *FullConfig) ApplyDefaults() {
	if c.Agent.MetricsPort == 0 {
		c.Agent.MetricsPort = constants.DefaultMetricsPort
	}

	if c.Agent.APIPort == 0 {
		c.Agent.APIPort = constants.DefaultAPIPort
	}

	if c.Agent.DataDir == "" {
		c.Agent.DataDir = constants.DefaultDataDir
	}

	if c.Backup.IntervalMinutes == 0 {
		c.Backup.IntervalMinutes = constants.DefaultBackupIntervalMinutes
	}

	if c.Backup.MaxBackups == 0 {
		c.Backup.MaxBackups = constants.DefaultMaxBackups
	}

	for i := range c.Services {
		applyServiceDefaults(&c.Services[i])
	}
}

func applyServiceDefaults(svc *ServiceConfig) {
	if svc.DesiredFSMState == "" {
		svc.DesiredFSMState = DesiredStateRunning
	}

	if svc.Probe.Type == "" {
		svc.Probe.Type = ProbeTypeProcess
	}

	if svc.Probe.Interval == 0 {
		svc.Probe.Interval = Duration(constants.DefaultProbeInterval)
	}

	if svc.Probe.Timeout == 0 {
		svc.Probe.Timeout = Duration(constants.DefaultProbeTimeout)
	}

	if svc.Restart.MaxAttempts == 0 {
		svc.Restart.MaxAttempts = constants.DefaultMaxRestartAttempts
	}

	if svc.Restart.BackoffBase == 0 {
		svc.Restart.BackoffBase = Duration(constants.DefaultRestartBackoffBase)
	}

	if svc.Restart.BackoffCap == 0 {
		svc.Restart.BackoffCap = Duration(constants.DefaultRestartBackoffCap)
	}

	if svc.StartupTimeout == 0 {
		svc.StartupTimeout = Duration(constants.DefaultStartupTimeout)
	}

	if svc.ShutdownGrace == 0 {
		svc.ShutdownGrace = Duration(constants.DefaultShutdownGracePeriod)
	}
}

// Validate checks all scalar fields of a config that already has its
// defaults applied. Graph-level checks on dependsOn (unknown names, cycles)
// live in pkg/registry, next to the ordering algorithm that needs the same
// graph.
func Validate(c FullConfig) error {
	if c.Agent.MetricsPort <= 0 || c.Agent.MetricsPort > 65535 {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("metricsPort %d is out of range", c.Agent.MetricsPort))
	}

	if c.Agent.APIPort <= 0 || c.Agent.APIPort > 65535 {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("apiPort %d is out of range", c.Agent.APIPort))
	}

	seen := make(map[string]struct{}, len(c.Services))

	for i := range c.Services {
		svc := c.Services[i]
		if svc.Name == "" {
			return NewConfigError(KindInvalidValue, fmt.Sprintf("service at index %d has no name", i))
		}

		if _, dup := seen[svc.Name]; dup {
			return NewConfigError(KindInvalidValue, "duplicate service name", svc.Name)
		}

		seen[svc.Name] = struct{}{}

		if err := validateService(svc); err != nil {
			return err
		}
	}

	if c.Backup.IntervalMinutes < 1 {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("backup intervalMinutes must be at least 1, got %d", c.Backup.IntervalMinutes))
	}

	if c.Backup.MaxBackups < 1 {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("backup maxBackups must be at least 1, got %d", c.Backup.MaxBackups))
	}

	if _, err := schedule.ParseWindow(c.Backup.QuietHours.Start, c.Backup.QuietHours.End); err != nil {
		return NewConfigError(KindMalformedQuietHours, err.Error())
	}

	return nil
}

func validateService(svc ServiceConfig) error {
	if svc.DesiredFSMState != DesiredStateRunning && svc.DesiredFSMState != DesiredStateStopped {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("desiredState %q is not %q or %q", svc.DesiredFSMState, DesiredStateRunning, DesiredStateStopped), svc.Name)
	}

	if svc.Command == "" {
		return NewConfigError(KindInvalidValue, "command must not be empty", svc.Name)
	}

	if svc.StartupTimeout <= 0 {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("startupTimeout %s must be positive", svc.StartupTimeout), svc.Name)
	}

	if svc.ShutdownGrace <= 0 {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("shutdownGrace %s must be positive", svc.ShutdownGrace), svc.Name)
	}

	if svc.Restart.MaxAttempts < 1 {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("restart maxAttempts must be at least 1, got %d", svc.Restart.MaxAttempts), svc.Name)
	}

	if svc.Restart.BackoffBase <= 0 {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("restart backoffBase %s must be positive", svc.Restart.BackoffBase), svc.Name)
	}

	if svc.Restart.BackoffCap < svc.Restart.BackoffBase {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("restart backoffCap %s is below backoffBase %s", svc.Restart.BackoffCap, svc.Restart.BackoffBase), svc.Name)
	}

	return validateProbe(svc)
}

func validateProbe(svc ServiceConfig) error {
	probe := svc.Probe

	switch probe.Type {
	case ProbeTypeProcess:
		// Liveness only, nothing to reach out to.

	case ProbeTypeHTTP, ProbeTypeMetrics:
		if probe.Endpoint == "" {
			return NewConfigError(KindInvalidValue, fmt.Sprintf("%s probe needs an endpoint", probe.Type), svc.Name)
		}

		parsed, err := url.Parse(probe.Endpoint)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return NewConfigError(KindInvalidValue, fmt.Sprintf("probe endpoint %q is not a valid URL", probe.Endpoint), svc.Name)
		}

	case ProbeTypeTCP:
		if probe.Address == "" {
			return NewConfigError(KindInvalidValue, "tcp probe needs an address", svc.Name)
		}

	default:
		return NewConfigError(KindInvalidValue, fmt.Sprintf("unknown probe type %q", probe.Type), svc.Name)
	}

	if probe.Interval <= 0 {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("probe interval %s must be positive", probe.Interval), svc.Name)
	}

	if probe.Timeout <= 0 {
		return NewConfigError(KindInvalidValue, fmt.Sprintf("probe timeout %s must be positive", probe.Timeout), svc.Name)
	}

	return nil
}
