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

package constants

import "time"

// Restart policy defaults. All three are per-service configurable through the
// restart block of the service definition.
const (
	// DefaultMaxRestartAttempts is the number of consecutive failed restarts
	// tolerated before a service is declared failed and left alone.
	DefaultMaxRestartAttempts = 3

	// DefaultRestartBackoffBase is the delay before the first restart attempt.
	// Subsequent attempts double it: base, 2*base, 4*base, ...
	DefaultRestartBackoffBase = time.Second

	// DefaultRestartBackoffCap bounds the exponential restart delay.
	DefaultRestartBackoffCap = 30 * time.Second
)

const (
	// DefaultStartupTimeout is how long a service may sit in starting before
	// the attempt counts as failed.
	DefaultStartupTimeout = 10 * time.Second

	// DefaultShutdownGracePeriod is the time between SIGTERM and SIGKILL when
	// stopping a service process group.
	DefaultShutdownGracePeriod = 5 * time.Second

	// ShutdownSequenceTimeout bounds the whole reverse-order shutdown,
	// including the final backup.
	ShutdownSequenceTimeout = 2 * time.Minute

	// StopCompletionMargin is the time allowed beyond the grace period for
	// the SIGKILL escalation and reaping before a stop attempt is considered
	// stuck and reissued.
	StopCompletionMargin = 10 * time.Second
)

// Reconcile budgets for the supervised machine.
const (
	// SupervisedExpectedMaxP95ExecutionTimePerInstance budgets one supervised
	// instance's reconcile: a status read, probe bookkeeping and at most one
	// state transition. Process launches stay within this because Start does
	// not wait for the child and probes run on their own goroutine.
	SupervisedExpectedMaxP95ExecutionTimePerInstance = 30 * time.Millisecond

	// SupervisedUpdateObservedStateTimeout bounds the observation step of one
	// reconcile. Everything it touches is in memory or a small file read.
	SupervisedUpdateObservedStateTimeout = 20 * time.Millisecond
)

// Probe defaults.
const (
	// DefaultProbeInterval is how often a running service is probed.
	DefaultProbeInterval = 5 * time.Second

	// DefaultProbeTimeout bounds a single probe execution.
	DefaultProbeTimeout = 2 * time.Second

	// DefaultProbeFailureThreshold is the number of consecutive probe
	// failures before a running service is considered unhealthy.
	// A single success resets the count.
	DefaultProbeFailureThreshold = 3

	// HealthAlertThrottle suppresses repeated unhealthy alerts for the same
	// service within this window. The state change itself is always logged.
	HealthAlertThrottle = 10 * time.Minute
)
