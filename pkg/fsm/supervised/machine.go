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

package supervised

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	internalfsm "github.com/warden-systems/warden-core/internal/fsm"
	"github.com/warden-systems/warden-core/pkg/backoff"
	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/eventlog"
	"github.com/warden-systems/warden-core/pkg/health"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/metrics"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
	"github.com/warden-systems/warden-core/pkg/service/httpclient"
	"github.com/warden-systems/warden-core/pkg/service/process"
)

// NewServiceInstance creates a ServiceInstance with its own process service
// and a prober matching the configured probe type.
func NewServiceInstance(cfg config.ServiceConfig, journal *eventlog.Journal) *ServiceInstance {
	procService := process.NewDefaultService()
	fsService := filesystem.NewDefaultService()
	prober := health.NewProber(cfg.Name, cfg.Probe.Type, procService, httpclient.NewDefaultHTTPClient(), fsService)

	return NewServiceInstanceWithServices(cfg, procService, prober,
		health.NewDebouncer(constants.DefaultProbeFailureThreshold),
		health.NewThrottle(constants.HealthAlertThrottle),
		journal)
}

// NewServiceInstanceWithServices creates a ServiceInstance with fully
// injected collaborators. The manager uses it to share the process service,
// debouncer and throttle across its instances; tests use it to script them.
func NewServiceInstanceWithServices(
	cfg config.ServiceConfig,
	procService process.Service,
	prober health.Prober,
	debouncer *health.Debouncer,
	throttle *health.Throttle,
	journal *eventlog.Journal,
) *ServiceInstance {
	baseCfg := internalfsm.BaseFSMInstanceConfig{
		ID:                                 cfg.Name,
		DesiredFSMState:                    initialDesiredState(cfg),
		OperationalStateAfterCreate:        OperationalStateStopped,
		OperationalStateBeforeRemove:       OperationalStateStopped,
		OperationalStateBeforeBeforeRemove: OperationalStateStopping,
		OperationalTransitions: []fsm.EventDesc{
			{Name: EventStart, Src: []string{OperationalStateStopped}, Dst: OperationalStateStarting},
			{Name: EventStartDone, Src: []string{OperationalStateStarting}, Dst: OperationalStateRunning},
			{Name: EventStartFailed, Src: []string{OperationalStateStarting}, Dst: OperationalStateRestarting},
			{Name: EventProbeFailed, Src: []string{OperationalStateRunning}, Dst: OperationalStateRestarting},
			{Name: EventRestart, Src: []string{OperationalStateRestarting}, Dst: OperationalStateStarting},
			{Name: EventFail, Src: []string{OperationalStateStarting, OperationalStateRestarting}, Dst: OperationalStateFailed},
			{Name: EventStop, Src: []string{OperationalStateStarting, OperationalStateRunning, OperationalStateRestarting, OperationalStateFailed}, Dst: OperationalStateStopping},
			{Name: EventStopDone, Src: []string{OperationalStateStopping}, Dst: OperationalStateStopped},
		},
		UpdateObservedStateTimeout: constants.SupervisedUpdateObservedStateTimeout,
	}

	log := logger.For(cfg.Name)
	backoffConfig := backoff.DefaultConfig(cfg.Name, log)

	instance := &ServiceInstance{
		baseFSMInstance: internalfsm.NewBaseFSMInstance(baseCfg, backoffConfig, log),
		service:         procService,
		prober:          prober,
		debouncer:       debouncer,
		throttle:        throttle,
		journal:         journal,
		config:          cfg,
		now:             time.Now,
	}

	instance.registerCallbacks()
	metrics.InitErrorCounter(metrics.ComponentServiceInstance, cfg.Name)

	return instance
}

// initialDesiredState maps an absent desired state to running, which is what
// a service declared in the config wants unless it says otherwise.
func initialDesiredState(cfg config.ServiceConfig) string {
	if cfg.DesiredFSMState == "" {
		return config.DesiredStateRunning
	}

	return cfg.DesiredFSMState
}

// SetDesiredFSMState sets the desired state of the instance.
// Only running and stopped can be requested from the outside.
func (s *ServiceInstance) SetDesiredFSMState(state string) error {
	if state != config.DesiredStateRunning && state != config.DesiredStateStopped {
		return fmt.Errorf("invalid desired state: %s (only %s and %s are allowed)",
			state, config.DesiredStateRunning, config.DesiredStateStopped)
	}

	s.baseFSMInstance.SetDesiredFSMState(state)

	return nil
}

// GetCurrentFSMState returns the current state of the instance.
func (s *ServiceInstance) GetCurrentFSMState() string {
	return s.baseFSMInstance.GetCurrentFSMState()
}

// GetDesiredFSMState returns the desired state of the instance.
func (s *ServiceInstance) GetDesiredFSMState() string {
	return s.baseFSMInstance.GetDesiredFSMState()
}

// Remove starts the removal of the instance. The actual removal happens
// asynchronously: the instance is stopped first and disappears once it
// reaches the removed lifecycle state.
func (s *ServiceInstance) Remove(ctx context.Context) error {
	return s.baseFSMInstance.Remove(ctx)
}

// IsRemoved reports whether the instance has been removed.
func (s *ServiceInstance) IsRemoved() bool {
	return s.baseFSMInstance.IsRemoved()
}

// IsRemoving reports whether the instance is being removed.
func (s *ServiceInstance) IsRemoving() bool {
	return s.baseFSMInstance.IsRemoving()
}

// IsStopping reports whether the instance is in the stopping state.
func (s *ServiceInstance) IsStopping() bool {
	return s.baseFSMInstance.GetCurrentFSMState() == OperationalStateStopping
}

// IsStopped reports whether the instance is in the stopped state.
func (s *ServiceInstance) IsStopped() bool {
	return s.baseFSMInstance.GetCurrentFSMState() == OperationalStateStopped
}

// IsFailed reports whether the instance has exhausted its restart budget.
func (s *ServiceInstance) IsFailed() bool {
	return s.baseFSMInstance.GetCurrentFSMState() == OperationalStateFailed
}

// WantsToBeStopped reports whether the desired state is stopped.
func (s *ServiceInstance) WantsToBeStopped() bool {
	return s.baseFSMInstance.GetDesiredFSMState() == config.DesiredStateStopped
}

// IsProcessUp reports whether the last observation saw the process alive.
func (s *ServiceInstance) IsProcessUp() bool {
	return s.ObservedState.ServiceInfo.Status == process.ServiceUp
}

// IsProcessDown reports whether the last observation saw the process down.
func (s *ServiceInstance) IsProcessDown() bool {
	return s.ObservedState.ServiceInfo.Status == process.ServiceDown
}

// PrintState logs the current state of the instance for debugging.
func (s *ServiceInstance) PrintState() {
	s.baseFSMInstance.GetLogger().Debugf("Current state: %s, Desired state: %s, Process: %s, Probe failures: %d, Restart attempts: %d",
		s.baseFSMInstance.GetCurrentFSMState(), s.baseFSMInstance.GetDesiredFSMState(),
		s.ObservedState.ServiceInfo.Status, s.ObservedState.ProbeFailures, s.restartAttempts)
}

// GetExpectedMaxP95ExecutionTimePerInstance returns the expected max p95
// execution time of the instance.
func (s *ServiceInstance) GetExpectedMaxP95ExecutionTimePerInstance() time.Duration {
	return constants.SupervisedExpectedMaxP95ExecutionTimePerInstance
}

// The effective* helpers apply the pkg/constants defaults wherever the
// service definition leaves a policy knob unset.

func (s *ServiceInstance) effectiveMaxAttempts() int {
	if s.config.Restart.MaxAttempts > 0 {
		return s.config.Restart.MaxAttempts
	}

	return constants.DefaultMaxRestartAttempts
}

func (s *ServiceInstance) effectiveBackoffBase() time.Duration {
	if d := s.config.Restart.BackoffBase.AsDuration(); d > 0 {
		return d
	}

	return constants.DefaultRestartBackoffBase
}

func (s *ServiceInstance) effectiveBackoffCap() time.Duration {
	if d := s.config.Restart.BackoffCap.AsDuration(); d > 0 {
		return d
	}

	return constants.DefaultRestartBackoffCap
}

func (s *ServiceInstance) effectiveStartupTimeout() time.Duration {
	if d := s.config.StartupTimeout.AsDuration(); d > 0 {
		return d
	}

	return constants.DefaultStartupTimeout
}

func (s *ServiceInstance) effectiveShutdownGrace() time.Duration {
	if d := s.config.ShutdownGrace.AsDuration(); d > 0 {
		return d
	}

	return constants.DefaultShutdownGracePeriod
}

func (s *ServiceInstance) effectiveProbeInterval() time.Duration {
	if d := s.config.Probe.Interval.AsDuration(); d > 0 {
		return d
	}

	return constants.DefaultProbeInterval
}

// restartDelay computes the backoff delay before the given attempt:
// min(base * 2^attempts, cap).
func (s *ServiceInstance) restartDelay(attempts int) time.Duration {
	base := s.effectiveBackoffBase()
	ceiling := s.effectiveBackoffCap()

	delay := base
	for range attempts {
		delay *= 2
		// delay < 0 catches overflow on large attempt counts
		if delay >= ceiling || delay < 0 {
			return ceiling
		}
	}

	if delay > ceiling {
		return ceiling
	}

	return delay
}
