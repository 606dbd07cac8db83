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

package fsm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	internalfsm "github.com/warden-systems/warden-core/internal/fsm"
	"github.com/warden-systems/warden-core/pkg/backoff"
	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/ctxutil"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/metrics"
	"github.com/warden-systems/warden-core/pkg/sentry"
	"github.com/warden-systems/warden-core/pkg/serviceregistry"
)

// Rate limiting constants. After a structural change (instance added,
// updated, or removed) the manager waits this many of its own ticks before
// the next change of the same kind, so a fresh instance can settle before
// more work is piled on. Each manager counts its own ticks, so several
// managers never throttle each other.
const (
	TicksBeforeNextAdd    = 10
	TicksBeforeNextUpdate = 10
	TicksBeforeNextRemove = 10
	TicksBeforeNextState  = 10
)

// BaseFSMManager is the generic reconciliation engine behind every concrete
// manager. The type parameter C is the per-instance configuration type; the
// concrete manager injects the type-specific operations as callbacks and
// embeds the base through composition.
//
// Reconcile drives three phases on every tick: align the instance set with
// the configuration (create, update config, update desired state), remove
// instances that left the configuration through their lifecycle, and then
// reconcile each remaining instance toward its desired state. Structural
// changes are paced to one per tick.
type BaseFSMManager[C any] struct {
	instances   map[string]FSMInstance
	logger      *zap.SugaredLogger
	managerName string

	// Manager-specific tick counter, incremented once per Reconcile call.
	managerTick uint64

	// Ticks of the most recent structural changes, for rate limiting.
	lastAddTick     uint64
	lastUpdateTick  uint64
	lastRemoveTick  uint64
	lastStateChange uint64

	// These operations are implemented by each concrete manager.
	extractConfigs                            func(config config.FullConfig) ([]C, error)
	getName                                   func(C) (string, error)
	getDesiredState                           func(C) (string, error)
	createInstance                            func(C) (FSMInstance, error)
	compareConfig                             func(FSMInstance, C) (bool, error)
	setConfig                                 func(FSMInstance, C) error
	getExpectedMaxP95ExecutionTimePerInstance func(FSMInstance) (time.Duration, error)
}

// NewBaseFSMManager creates a base manager with the type-specific operations
// injected as functions.
func NewBaseFSMManager[C any](
	managerName string,
	extractConfigs func(config config.FullConfig) ([]C, error),
	getName func(C) (string, error),
	getDesiredState func(C) (string, error),
	createInstance func(C) (FSMInstance, error),
	compareConfig func(FSMInstance, C) (bool, error),
	setConfig func(FSMInstance, C) error,
	getExpectedMaxP95ExecutionTimePerInstance func(FSMInstance) (time.Duration, error),
) *BaseFSMManager[C] {
	metrics.InitErrorCounter(metrics.ComponentBaseFSMManager, managerName)

	return &BaseFSMManager[C]{
		instances:       make(map[string]FSMInstance),
		logger:          logger.For(managerName),
		managerName:     managerName,
		extractConfigs:  extractConfigs,
		getName:         getName,
		getDesiredState: getDesiredState,
		createInstance:  createInstance,
		compareConfig:   compareConfig,
		setConfig:       setConfig,
		getExpectedMaxP95ExecutionTimePerInstance: getExpectedMaxP95ExecutionTimePerInstance,
	}
}

// GetInstances returns all instances managed by the manager.
func (m *BaseFSMManager[C]) GetInstances() map[string]FSMInstance {
	return m.instances
}

// GetInstance returns an instance by name.
func (m *BaseFSMManager[C]) GetInstance(name string) (FSMInstance, bool) {
	instance, ok := m.instances[name]

	return instance, ok
}

// AddInstanceForTest adds an instance to the manager, bypassing the
// configuration path. Tests only.
func (m *BaseFSMManager[C]) AddInstanceForTest(name string, instance FSMInstance) {
	m.instances[name] = instance
}

// GetManagerName returns the name of the manager, used to key metrics and
// snapshots.
func (m *BaseFSMManager[C]) GetManagerName() string {
	return m.managerName
}

// GetManagerTick returns the current manager-specific tick count.
func (m *BaseFSMManager[C]) GetManagerTick() uint64 {
	return m.managerTick
}

// Reconcile aligns the managed instances with the configuration carried in
// the snapshot and then reconciles each instance toward its desired state.
//
// The boolean result reports whether anything changed this tick. The control
// loop stops after the first manager that reports a change, so every
// structural mutation gets a full tick to settle before the next one.
func (m *BaseFSMManager[C]) Reconcile(
	ctx context.Context,
	snapshot SystemSnapshot,
	services serviceregistry.Provider,
) (error, bool) {
	m.managerTick++

	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentBaseFSMManager, m.managerName, time.Since(start))
	}()

	if ctx.Err() != nil {
		return ctx.Err(), false
	}

	extractStart := time.Now()
	desiredState, err := m.extractConfigs(snapshot.CurrentConfig)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

		return fmt.Errorf("failed to extract configs: %w", err), false
	}
	metrics.ObserveReconcileTime(metrics.ComponentBaseFSMManager, m.managerName+".extract_configs", time.Since(extractStart))

	if err, reconciled := m.reconcileInstanceSet(ctx, desiredState); err != nil || reconciled {
		return err, reconciled
	}

	return m.reconcileInstances(ctx, snapshot, services)
}

// reconcileInstanceSet creates missing instances, applies configuration and
// desired-state changes, and runs the removal lifecycle for instances that
// are no longer configured. At most one structural change happens per call.
func (m *BaseFSMManager[C]) reconcileInstanceSet(ctx context.Context, desiredState []C) (error, bool) {
	for _, cfg := range desiredState {
		name, err := m.getName(cfg)
		if err != nil {
			metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

			return fmt.Errorf("failed to get name: %w", err), false
		}

		if _, ok := m.instances[name]; !ok {
			if m.lastAddTick > 0 && m.managerTick-m.lastAddTick < TicksBeforeNextAdd {
				m.logger.Debugf("Rate limiting: skipping creation of instance %s (waiting %d more ticks)",
					name, TicksBeforeNextAdd-(m.managerTick-m.lastAddTick))

				continue
			}

			createStart := time.Now()
			instance, err := m.createInstance(cfg)
			if err != nil || instance == nil {
				metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

				return fmt.Errorf("failed to create instance: %w", err), false
			}
			metrics.ObserveReconcileTime(metrics.ComponentBaseFSMManager, m.managerName+".create_instance", time.Since(createStart))

			desired, err := m.getDesiredState(cfg)
			if err != nil {
				metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

				return fmt.Errorf("failed to get desired state: %w", err), false
			}
			if err := instance.SetDesiredFSMState(desired); err != nil {
				metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

				return fmt.Errorf("failed to set desired state: %w", err), false
			}
			m.instances[name] = instance

			m.lastAddTick = m.managerTick

			return nil, true
		}

		compareStart := time.Now()
		equal, err := m.compareConfig(m.instances[name], cfg)
		if err != nil {
			metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

			return fmt.Errorf("failed to compare config: %w", err), false
		}
		metrics.ObserveReconcileTime(metrics.ComponentBaseFSMManager, m.managerName+".compare_config", time.Since(compareStart))

		if !equal {
			if m.lastUpdateTick > 0 && m.managerTick-m.lastUpdateTick < TicksBeforeNextUpdate {
				m.logger.Debugf("Rate limiting: skipping update of instance %s (waiting %d more ticks)",
					name, TicksBeforeNextUpdate-(m.managerTick-m.lastUpdateTick))

				continue
			}

			if err := m.setConfig(m.instances[name], cfg); err != nil {
				metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

				return fmt.Errorf("failed to set config: %w", err), false
			}

			m.logger.Infof("Updated config of instance %s", name)
			m.lastUpdateTick = m.managerTick

			return nil, true
		}

		desired, err := m.getDesiredState(cfg)
		if err != nil {
			metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

			return fmt.Errorf("failed to get desired state: %w", err), false
		}
		if m.instances[name].GetDesiredFSMState() != desired {
			if m.lastStateChange > 0 && m.managerTick-m.lastStateChange < TicksBeforeNextState {
				m.logger.Debugf("Rate limiting: skipping state change of instance %s (waiting %d more ticks)",
					name, TicksBeforeNextState-(m.managerTick-m.lastStateChange))

				continue
			}

			m.logger.Infof("Updated desired state of instance %s from %s to %s",
				name, m.instances[name].GetDesiredFSMState(), desired)
			if err := m.instances[name].SetDesiredFSMState(desired); err != nil {
				metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

				return fmt.Errorf("failed to set desired state: %w", err), false
			}

			m.lastStateChange = m.managerTick

			return nil, true
		}
	}

	return m.removeUnconfigured(ctx, desiredState)
}

// removeUnconfigured walks instances that are not in the configuration any
// more and drives them through the removal lifecycle: graceful stop, then
// removing, then removed, and only then deletion from the manager.
func (m *BaseFSMManager[C]) removeUnconfigured(ctx context.Context, desiredState []C) (error, bool) {
	instancesToDelete := make([]string, 0)

	for instanceName, instance := range m.instances {
		found := false
		for _, desired := range desiredState {
			name, err := m.getName(desired)
			if err != nil {
				metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

				return fmt.Errorf("failed to get name: %w", err), false
			}
			if name == instanceName {
				found = true

				break
			}
		}

		if instance == nil {
			instancesToDelete = append(instancesToDelete, instanceName)

			continue
		}

		switch instance.GetCurrentFSMState() {
		case internalfsm.LifecycleStateRemoving:
			m.logger.Debugf("instance %s is already in removing state, waiting until it is removed", instanceName)

			continue
		case internalfsm.LifecycleStateRemoved:
			m.logger.Debugf("instance %s is in removed state, will be deleted from the manager", instanceName)
			instancesToDelete = append(instancesToDelete, instanceName)

			continue
		default:
			if found {
				continue
			}

			if m.managerTick-m.lastRemoveTick < TicksBeforeNextRemove {
				m.logger.Debugf("Rate limiting: skipping removal of instance %s (waiting %d more ticks)",
					instanceName, TicksBeforeNextRemove-(m.managerTick-m.lastRemoveTick))

				continue
			}

			m.logger.Debugf("instance %s is in state %s, starting the removing process", instanceName, instance.GetCurrentFSMState())
			if err := instance.Remove(ctx); err != nil {
				m.logger.Warnf("failed to start removal of instance %s: %s", instanceName, err)
			}

			m.lastRemoveTick = m.managerTick

			return nil, true
		}
	}

	for _, instanceName := range instancesToDelete {
		m.logger.Debugf("deleting instance %s from the manager", instanceName)
		delete(m.instances, instanceName)
	}

	return nil, false
}

// reconcileInstances reconciles each instance toward its desired state,
// guarding the loop's deadline before every instance so one slow instance
// cannot ripple into the rest of the tick.
func (m *BaseFSMManager[C]) reconcileInstances(
	ctx context.Context,
	snapshot SystemSnapshot,
	services serviceregistry.Provider,
) (error, bool) {
	for name, instance := range m.instances {
		reconcileStart := time.Now()

		expectedMaxP95ExecutionTime, err := m.getExpectedMaxP95ExecutionTimePerInstance(instance)
		if err != nil {
			metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

			return fmt.Errorf("failed to get expected max p95 execution time: %w", err), false
		}

		remaining, sufficient, err := ctxutil.HasSufficientTime(ctx, expectedMaxP95ExecutionTime)
		if err != nil {
			if errors.Is(err, ctxutil.ErrNoDeadline) {
				return fmt.Errorf("no deadline set in context"), false
			}
			metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName)

			return fmt.Errorf("deadline check error: %w", err), false
		}

		if !sufficient {
			m.logger.Warnf("not enough time left to reconcile instance %s (only %v remaining, needed %v), skipping",
				name, remaining, expectedMaxP95ExecutionTime)

			return nil, true
		}

		instanceCtx, instanceCancel := context.WithTimeout(ctx, expectedMaxP95ExecutionTime)
		defer instanceCancel()

		err, reconciled := instance.Reconcile(instanceCtx, snapshot, services)
		metrics.ObserveReconcileTime(metrics.ComponentBaseFSMManager, m.managerName+".instances."+name, time.Since(reconcileStart))

		if err != nil {
			metrics.IncErrorCount(metrics.ComponentBaseFSMManager, m.managerName+".instances."+name)

			// A permanently failed instance is dropped from the manager so
			// the configuration path can recreate it from scratch.
			if backoff.IsPermanentFailureError(err) {
				sentry.ReportFSMErrorf(
					m.logger,
					name,
					m.managerName,
					"reconcile_permanent_failure",
					"Permanent failure reconciling instance: %v",
					err,
				)

				delete(m.instances, name)

				return nil, true
			}
			sentry.ReportFSMErrorf(
				m.logger,
				name,
				m.managerName,
				"reconcile_error",
				"Error reconciling instance: %v",
				err,
			)

			return fmt.Errorf("error reconciling instance: %w", err), false
		}
		if reconciled {
			return nil, true
		}
	}

	return nil, false
}

// GetLastObservedStates returns the last known states of all instances.
func (m *BaseFSMManager[C]) GetLastObservedStates() map[string]ObservedState {
	states := make(map[string]ObservedState, len(m.instances))
	for name, instance := range m.instances {
		states[name] = instance.GetLastObservedState()
	}

	return states
}

// GetLastObservedState returns the last known state of a specific instance.
func (m *BaseFSMManager[C]) GetLastObservedState(serviceName string) (ObservedState, error) {
	if instance, exists := m.instances[serviceName]; exists {
		return instance.GetLastObservedState(), nil
	}

	return nil, fmt.Errorf("instance %s not found", serviceName)
}

// GetCurrentFSMState returns the current state of a specific instance.
func (m *BaseFSMManager[C]) GetCurrentFSMState(serviceName string) (string, error) {
	if instance, exists := m.instances[serviceName]; exists {
		return instance.GetCurrentFSMState(), nil
	}

	return "", fmt.Errorf("instance %s not found", serviceName)
}

// CreateSnapshot captures the manager and all instances into an immutable
// snapshot for the status surface.
func (m *BaseFSMManager[C]) CreateSnapshot() ManagerSnapshot {
	snapshot := &BaseManagerSnapshot{
		Name:            m.managerName,
		Instances:       make(map[string]*FSMInstanceSnapshot),
		ManagerTick:     m.managerTick,
		LastAddTick:     m.lastAddTick,
		LastUpdateTick:  m.lastUpdateTick,
		LastRemoveTick:  m.lastRemoveTick,
		LastStateChange: m.lastStateChange,
		SnapshotTime:    time.Now(),
	}

	for name, instance := range m.instances {
		instanceSnapshot := &FSMInstanceSnapshot{
			ID:           name,
			CurrentState: instance.GetCurrentFSMState(),
			DesiredState: instance.GetDesiredFSMState(),
		}

		if observedState := instance.GetLastObservedState(); observedState != nil {
			if converter, ok := instance.(ObservedStateConverter); ok {
				instanceSnapshot.LastObservedState = converter.CreateObservedStateSnapshot()
			}
		}

		snapshot.Instances[name] = instanceSnapshot
	}

	return snapshot
}
