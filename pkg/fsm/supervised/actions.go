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
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/constants"
	publicfsm "github.com/warden-systems/warden-core/pkg/fsm"
	"github.com/warden-systems/warden-core/pkg/health"
	"github.com/warden-systems/warden-core/pkg/metrics"
	"github.com/warden-systems/warden-core/pkg/models"
	"github.com/warden-systems/warden-core/pkg/sentry"
	"github.com/warden-systems/warden-core/pkg/service/process"
	"github.com/warden-systems/warden-core/pkg/serviceregistry"
)

// The functions in this file define the heavier, possibly fail-prone
// operations the supervised FSM performs against the process layer. They are
// called from Reconcile.
//
// IMPORTANT:
//   - Each action must be idempotent, since it may be retried after
//     transient failures.
//   - Each action takes a context.Context and returns an error if the
//     operation fails; Reconcile handles backoff and retry.

// CreateInstance registers the service with the process layer.
func (s *ServiceInstance) CreateInstance(ctx context.Context, services serviceregistry.Provider) error {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentServiceInstance, s.baseFSMInstance.GetID()+".createInstance", time.Since(start))
	}()

	name := s.baseFSMInstance.GetID()
	s.baseFSMInstance.GetLogger().Debugf("Starting Action: Creating service %s ...", name)

	if !s.service.ServiceExists(ctx, name) {
		if err := s.service.Create(ctx, name, services.GetFileSystem()); err != nil {
			return fmt.Errorf("failed to register service %s: %w", name, err)
		}
	}

	s.baseFSMInstance.GetLogger().Debugf("Service %s registered", name)

	return nil
}

// RemoveInstance deregisters the service from the process layer and releases
// its port claim. The process must be down before removal.
func (s *ServiceInstance) RemoveInstance(ctx context.Context, services serviceregistry.Provider) error {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentServiceInstance, s.baseFSMInstance.GetID()+".removeInstance", time.Since(start))
	}()

	name := s.baseFSMInstance.GetID()
	s.baseFSMInstance.GetLogger().Debugf("Starting Action: Removing service %s ...", name)

	if s.IsProcessUp() {
		return fmt.Errorf("service %s cannot be removed while running", name)
	}

	if err := s.service.Remove(ctx, name, services.GetFileSystem()); err != nil {
		if !errors.Is(err, process.ErrServiceNotExist) {
			return fmt.Errorf("failed to remove service %s: %w", name, err)
		}
		s.baseFSMInstance.GetLogger().Debugf("Service %s already removed", name)
	}

	s.releasePort(services)
	s.baseFSMInstance.GetLogger().Debugf("Service %s removed", name)

	return nil
}

// StartInstance launches the service process. The service's probe port is
// claimed first so two definitions fighting over one port fail here instead
// of at bind time inside the service.
func (s *ServiceInstance) StartInstance(ctx context.Context, services serviceregistry.Provider) error {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentServiceInstance, s.baseFSMInstance.GetID()+".startInstance", time.Since(start))
	}()

	name := s.baseFSMInstance.GetID()
	s.baseFSMInstance.GetLogger().Debugf("Starting Action: Starting service %s ...", name)

	if port, ok := probePort(s.config.Probe); ok {
		if err := services.GetPortManager().ReservePort(ctx, name, port); err != nil {
			return fmt.Errorf("failed to reserve port %d for %s: %w", port, name, err)
		}
	}

	spec := process.Spec{
		Command: s.config.Command,
		Args:    s.config.Args,
		Env:     s.config.Env,
		Dir:     s.config.Dir,
	}
	if err := s.service.Start(ctx, name, spec, services.GetFileSystem()); err != nil {
		return fmt.Errorf("failed to start service %s: %w", name, err)
	}

	s.beginStartWindow(s.now())
	s.baseFSMInstance.GetLogger().Debugf("Service %s start command executed", name)

	return nil
}

// StopInstance initiates the stop sequence for the service process group.
// The sequence itself (SIGTERM, grace wait, SIGKILL) outlives any reconcile
// budget, so it runs on its own goroutine and the machine polls the process
// status from the stopping state.
func (s *ServiceInstance) StopInstance(ctx context.Context, services serviceregistry.Provider) error {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentServiceInstance, s.baseFSMInstance.GetID()+".stopInstance", time.Since(start))
	}()

	name := s.baseFSMInstance.GetID()
	s.baseFSMInstance.GetLogger().Debugf("Starting Action: Stopping service %s ...", name)

	grace := s.effectiveShutdownGrace()
	fsService := services.GetFileSystem()
	log := s.baseFSMInstance.GetLogger()
	svc := s.service

	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), grace+constants.StopCompletionMargin)
		defer cancel()

		if err := svc.Stop(stopCtx, name, grace, fsService); err != nil && !errors.Is(err, process.ErrServiceNotExist) {
			log.Warnf("Stop sequence for %s did not complete: %v", name, err)
		}
	}()

	s.stopInitiatedAt = s.now()
	s.baseFSMInstance.GetLogger().Debugf("Service %s stop initiated", name)

	return nil
}

// ForceRemoveInstance kills the process without grace and deregisters the
// service. It is the last resort after repeated reconcile failures.
func (s *ServiceInstance) ForceRemoveInstance(ctx context.Context, services serviceregistry.Provider) error {
	name := s.baseFSMInstance.GetID()
	s.baseFSMInstance.GetLogger().Warnf("Force removing service %s", name)

	if err := s.service.Stop(ctx, name, 0, services.GetFileSystem()); err != nil && !errors.Is(err, process.ErrServiceNotExist) {
		s.baseFSMInstance.GetLogger().Warnf("Force stop of %s failed: %v", name, err)
	}

	if err := s.service.Remove(ctx, name, services.GetFileSystem()); err != nil && !errors.Is(err, process.ErrServiceNotExist) {
		return fmt.Errorf("failed to force remove service %s: %w", name, err)
	}

	s.releasePort(services)

	return nil
}

// UpdateObservedStateOfInstance refreshes the instance's view of the world:
// the raw process status, the dependency picture from the system snapshot,
// and the latest completed probe. It also launches the next probe when one
// is due.
func (s *ServiceInstance) UpdateObservedStateOfInstance(ctx context.Context, services serviceregistry.Provider, snapshot publicfsm.SystemSnapshot) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	name := s.baseFSMInstance.GetID()

	info, err := s.service.Status(ctx, name, services.GetFileSystem())
	if err != nil {
		s.ObservedState.ServiceInfo.Status = process.ServiceUnknown

		if errors.Is(err, process.ErrServiceNotExist) {
			// Expected while the instance is still being created.
			return process.ErrServiceNotExist
		}

		s.baseFSMInstance.GetLogger().Errorf("error updating observed state for %s: %s", name, err)

		return err
	}
	s.ObservedState.ServiceInfo = info

	if s.ObservedState.LastStateChange == 0 {
		s.ObservedState.LastStateChange = s.now().Unix()
	}

	s.refreshDependencyView(snapshot)
	s.collectProbe()
	s.maybeLaunchProbe()

	s.ObservedState.RestartAttempts = s.restartAttempts
	s.ObservedState.NextRestartAt = s.nextRestartAt
	s.ObservedState.StartingSince = s.startingSince

	return nil
}

// refreshDependencyView recomputes the dependency gates from the system
// snapshot. The snapshot describes the previous tick, so both gates converge
// over ticks rather than within one.
func (s *ServiceInstance) refreshDependencyView(snapshot publicfsm.SystemSnapshot) {
	ready, blockingDep := true, ""
	for _, dep := range s.config.DependsOn {
		inst, ok := findSibling(snapshot, dep)
		if !ok || inst.CurrentState != OperationalStateRunning {
			ready, blockingDep = false, dep

			break
		}
	}
	s.ObservedState.DependenciesReady = ready
	s.ObservedState.BlockingDependency = blockingDep

	quiesced, blockingDependent := true, ""
	name := s.baseFSMInstance.GetID()
	for _, svc := range snapshot.CurrentConfig.Services {
		if !slices.Contains(svc.DependsOn, name) {
			continue
		}
		inst, ok := findSibling(snapshot, svc.Name)
		if !ok {
			// A dependent that never came up has nothing running on top
			// of this service.
			continue
		}
		switch inst.CurrentState {
		case OperationalStateStarting, OperationalStateRunning, OperationalStateRestarting, OperationalStateStopping:
			quiesced, blockingDependent = false, svc.Name
		}
		if !quiesced {
			break
		}
	}
	s.ObservedState.DependentsQuiesced = quiesced
	s.ObservedState.BlockingDependent = blockingDependent
}

// findSibling looks up another supervised service in the snapshot. The
// default manager name is tried first; managers registered under other
// names (tests) are scanned as a fallback.
func findSibling(snapshot publicfsm.SystemSnapshot, name string) (*publicfsm.FSMInstanceSnapshot, bool) {
	if inst, ok := publicfsm.FindInstance(snapshot, publicfsm.SupervisorManagerName, name); ok && inst != nil {
		return inst, true
	}

	for _, mgr := range snapshot.Managers {
		if mgr == nil {
			continue
		}
		if inst, ok := mgr.GetInstances()[name]; ok && inst != nil {
			return inst, true
		}
	}

	return nil, false
}

// collectProbe drains the probe goroutine's result slot into the observed
// state and feeds the debouncer.
func (s *ServiceInstance) collectProbe() {
	s.probeMu.Lock()
	result := s.pendingProbe
	s.pendingProbe = nil
	s.probeMu.Unlock()

	if result == nil {
		return
	}

	name := s.baseFSMInstance.GetID()
	metrics.RecordProbeResult(name, string(result.Verdict), result.Latency)

	crossed := s.debouncer.Observe(name, result.Verdict)
	s.ObservedState.LastProbe = *result
	s.ObservedState.ProbeFailures = s.debouncer.Failures(name)

	if result.Verdict == health.Healthy {
		s.ObservedState.Unhealthy = false
	} else if crossed {
		s.ObservedState.Unhealthy = true
	}
}

// maybeLaunchProbe starts the next probe execution when the service is in a
// probed state, the previous probe has finished, and the interval has
// elapsed. The probe bounds itself with the spec's timeout, so the goroutine
// never outlives it by much.
func (s *ServiceInstance) maybeLaunchProbe() {
	current := s.baseFSMInstance.GetCurrentFSMState()
	if current != OperationalStateStarting && current != OperationalStateRunning {
		return
	}

	now := s.now()

	s.probeMu.Lock()
	defer s.probeMu.Unlock()

	if s.probeInFlight {
		return
	}
	if !s.lastProbeStarted.IsZero() && now.Sub(s.lastProbeStarted) < s.effectiveProbeInterval() {
		return
	}

	s.probeInFlight = true
	s.lastProbeStarted = now

	prober := s.prober
	spec := s.config.Probe

	go func() {
		result := prober.Probe(context.Background(), spec)

		s.probeMu.Lock()
		s.pendingProbe = &result
		s.probeInFlight = false
		s.probeMu.Unlock()
	}()
}

// beginStartWindow resets the per-attempt bookkeeping: the readiness clock,
// the debounce counter and the probe schedule. The zeroed probe schedule
// makes the first probe of the new attempt fire on the next observation.
func (s *ServiceInstance) beginStartWindow(now time.Time) {
	s.startingSince = now
	s.terminalAlerted = false
	s.debouncer.Reset(s.baseFSMInstance.GetID())
	s.ObservedState.Unhealthy = false
	s.ObservedState.ProbeFailures = 0

	s.probeMu.Lock()
	s.pendingProbe = nil
	s.lastProbeStarted = time.Time{}
	s.probeMu.Unlock()
}

// resetRestartBookkeeping clears the attempt counter and pending restart
// schedule. Called when the service reaches running or is deliberately
// stopped.
func (s *ServiceInstance) resetRestartBookkeeping() {
	s.restartAttempts = 0
	s.nextRestartAt = time.Time{}
}

// releasePort gives up the instance's port claim if it holds one.
func (s *ServiceInstance) releasePort(services serviceregistry.Provider) {
	name := s.baseFSMInstance.GetID()
	if _, ok := services.GetPortManager().GetPort(name); ok {
		if err := services.GetPortManager().ReleasePort(name); err != nil {
			s.baseFSMInstance.GetLogger().Warnf("Failed to release port for %s: %v", name, err)
		}
	}
}

// raiseUnhealthyAlert records an operator-visible unhealthy event, throttled
// per service so a flapping probe cannot flood the journal.
func (s *ServiceInstance) raiseUnhealthyAlert(detail string) {
	name := s.baseFSMInstance.GetID()
	if !s.throttle.Allow(name) {
		return
	}

	s.baseFSMInstance.GetLogger().Warnf("Service %s is unhealthy: %s", name, detail)
	if s.journal != nil {
		s.journal.Record(models.EventTypeHealth, models.EventSeverityWarning, name, "service unhealthy: %s", detail)
	}
}

// raiseTerminalFailure records the one alert a service gets when its restart
// budget runs out.
func (s *ServiceInstance) raiseTerminalFailure() {
	if s.terminalAlerted {
		return
	}
	s.terminalAlerted = true

	name := s.baseFSMInstance.GetID()
	sentry.ReportServiceErrorf(s.baseFSMInstance.GetLogger(), name, "supervised", "restart_budget_exhausted",
		"service %s exhausted %d restart attempts and will not be retried", name, s.restartAttempts)
	if s.journal != nil {
		s.journal.Record(models.EventTypeService, models.EventSeverityCritical, name,
			"restart budget exhausted after %d attempts, service marked failed", s.restartAttempts)
	}
}

// probePort extracts the service's listen port from its probe definition.
// Only explicit ports are claimed; an http endpoint without one is left to
// the service.
func probePort(probe config.ProbeConfig) (uint16, bool) {
	var portStr string

	switch probe.Type {
	case config.ProbeTypeHTTP, config.ProbeTypeMetrics:
		u, err := url.Parse(probe.Endpoint)
		if err != nil {
			return 0, false
		}
		portStr = u.Port()
	case config.ProbeTypeTCP:
		_, p, err := net.SplitHostPort(probe.Address)
		if err != nil {
			return 0, false
		}
		portStr = p
	default:
		return 0, false
	}

	if portStr == "" {
		return 0, false
	}

	n, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || n == 0 {
		return 0, false
	}

	return uint16(n), true
}
