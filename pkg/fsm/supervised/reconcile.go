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
	"time"

	internalfsm "github.com/warden-systems/warden-core/internal/fsm"
	"github.com/warden-systems/warden-core/pkg/backoff"
	"github.com/warden-systems/warden-core/pkg/constants"
	publicfsm "github.com/warden-systems/warden-core/pkg/fsm"
	"github.com/warden-systems/warden-core/pkg/health"
	"github.com/warden-systems/warden-core/pkg/metrics"
	"github.com/warden-systems/warden-core/pkg/models"
	"github.com/warden-systems/warden-core/pkg/service/process"
	"github.com/warden-systems/warden-core/pkg/serviceregistry"
	"github.com/warden-systems/warden-core/pkg/standarderrors"
)

// Reconcile examines the current and desired state and advances the machine
// by at most one transition per call. Errors are never propagated upward;
// they are recorded against the instance and retried after a backoff.
func (s *ServiceInstance) Reconcile(ctx context.Context, snapshot publicfsm.SystemSnapshot, services serviceregistry.Provider) (err error, reconciled bool) {
	start := time.Now()
	instanceName := s.baseFSMInstance.GetID()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentServiceInstance, instanceName, time.Since(start))
		if err != nil {
			s.baseFSMInstance.GetLogger().Errorf("error reconciling service instance %s: %v", instanceName, err)
			s.PrintState()
			metrics.IncErrorCount(metrics.ComponentServiceInstance, instanceName)
		}
	}()

	if ctx.Err() != nil {
		return ctx.Err(), false
	}

	// Step 1: If there's a lastError, see if we've waited enough.
	if s.baseFSMInstance.ShouldSkipReconcileBecauseOfError(snapshot.Tick) {
		backErr := s.baseFSMInstance.GetBackoffError(snapshot.Tick)
		s.baseFSMInstance.GetLogger().Debugf("Skipping reconcile for service %s: %v", instanceName, backErr)

		if backoff.IsPermanentFailureError(backErr) {
			// A permanently failing instance is taken out of service. If it
			// is already shutting down only the force path remains.
			return s.baseFSMInstance.HandlePermanentError(
				ctx,
				backErr,
				func() bool {
					return s.IsRemoved() || s.IsRemoving() || s.IsStopping() || s.IsStopped() || s.WantsToBeStopped()
				},
				func(ctx context.Context) error {
					return s.Remove(ctx)
				},
				func(ctx context.Context) error {
					return s.ForceRemoveInstance(ctx, services)
				},
			)
		}

		return nil, false
	}

	// Step 2: Detect external changes.
	if err = s.reconcileExternalChanges(ctx, services, snapshot); err != nil {
		// An unregistered service is expected before creation has finished.
		if !errors.Is(err, process.ErrServiceNotExist) {
			if errors.Is(err, context.DeadlineExceeded) {
				// The observation step ran out of budget. Mark the tick as
				// consumed and try again next tick rather than recording an
				// error.
				return nil, true
			}

			s.baseFSMInstance.SetError(err, snapshot.Tick)
			s.baseFSMInstance.GetLogger().Errorf("error reconciling external changes: %s", err)

			return nil, false
		}

		err = nil //nolint:ineffassign
	}

	// Step 3: Attempt to reconcile the state.
	currentTime := s.now()
	err, reconciled = s.reconcileStateTransition(ctx, services, currentTime)
	if err != nil {
		if errors.Is(err, standarderrors.ErrInstanceRemoved) {
			return nil, false
		}

		s.baseFSMInstance.SetError(err, snapshot.Tick)
		s.baseFSMInstance.GetLogger().Errorf("error reconciling state: %s", err)

		return nil, false
	}

	// It went all right, so clear the error
	s.baseFSMInstance.ResetState()

	return nil, reconciled
}

// reconcileExternalChanges refreshes the observed state: process status,
// dependency view and probe results. Bounded so one slow status read cannot
// eat the budget of the other instances.
func (s *ServiceInstance) reconcileExternalChanges(ctx context.Context, services serviceregistry.Provider, snapshot publicfsm.SystemSnapshot) error {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentServiceInstance, s.baseFSMInstance.GetID()+".reconcileExternalChanges", time.Since(start))
	}()

	observedStateCtx, cancel := context.WithTimeout(ctx, constants.SupervisedUpdateObservedStateTimeout)
	defer cancel()

	if err := s.UpdateObservedStateOfInstance(observedStateCtx, services, snapshot); err != nil {
		return fmt.Errorf("failed to update observed state: %w", err)
	}

	return nil
}

// reconcileStateTransition compares the current state with the desired state
// and, if necessary, sends events to advance the machine. Anything that
// fetches information is disallowed here and must happen in
// reconcileExternalChanges, so the transition logic acts purely on the
// observed state.
func (s *ServiceInstance) reconcileStateTransition(ctx context.Context, services serviceregistry.Provider, currentTime time.Time) (err error, reconciled bool) {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentServiceInstance, s.baseFSMInstance.GetID()+".reconcileStateTransition", time.Since(start))
	}()

	currentState := s.baseFSMInstance.GetCurrentFSMState()
	desiredState := s.baseFSMInstance.GetDesiredFSMState()

	// Lifecycle states take precedence over operational states.
	if internalfsm.IsLifecycleState(currentState) {
		err, reconciled := s.reconcileLifecycleStates(ctx, services, currentState)
		if err != nil {
			return err, false
		}

		return nil, reconciled
	}

	if IsOperationalState(currentState) {
		err, reconciled := s.reconcileOperationalStates(ctx, services, currentState, desiredState, currentTime)
		if err != nil {
			return err, false
		}

		return nil, reconciled
	}

	return fmt.Errorf("invalid state: %s", currentState), false
}

// reconcileLifecycleStates drives creation and removal.
func (s *ServiceInstance) reconcileLifecycleStates(ctx context.Context, services serviceregistry.Provider, currentState string) (err error, reconciled bool) {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentServiceInstance, s.baseFSMInstance.GetID()+".reconcileLifecycleStates", time.Since(start))
	}()

	switch currentState {
	case internalfsm.LifecycleStateToBeCreated:
		if err := s.CreateInstance(ctx, services); err != nil {
			return err, false
		}

		return s.baseFSMInstance.SendEvent(ctx, internalfsm.LifecycleEventCreate), true
	case internalfsm.LifecycleStateCreating:
		// Registration is synchronous, so creation completes as soon as the
		// process layer knows the service.
		if !s.service.ServiceExists(ctx, s.baseFSMInstance.GetID()) {
			return nil, false
		}

		return s.baseFSMInstance.SendEvent(ctx, internalfsm.LifecycleEventCreateDone), true
	case internalfsm.LifecycleStateRemoving:
		if err := s.RemoveInstance(ctx, services); err != nil {
			return err, false
		}

		return s.baseFSMInstance.SendEvent(ctx, internalfsm.LifecycleEventRemoveDone), true
	case internalfsm.LifecycleStateRemoved:
		return standarderrors.ErrInstanceRemoved, false
	default:
		return nil, false
	}
}

// reconcileOperationalStates dispatches on the desired state.
func (s *ServiceInstance) reconcileOperationalStates(ctx context.Context, services serviceregistry.Provider, currentState string, desiredState string, currentTime time.Time) (err error, reconciled bool) {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentServiceInstance, s.baseFSMInstance.GetID()+".reconcileOperationalStates", time.Since(start))
	}()

	metrics.UpdateServiceState(metrics.ComponentServiceInstance, s.baseFSMInstance.GetID(), currentState, desiredState)

	switch desiredState {
	case OperationalStateRunning:
		return s.reconcileTransitionToRunning(ctx, services, currentState, currentTime)
	case OperationalStateStopped:
		return s.reconcileTransitionToStopped(ctx, services, currentState, currentTime)
	default:
		return fmt.Errorf("invalid desired state: %s", desiredState), false
	}
}

// reconcileTransitionToRunning drives a service whose desired state is
// running through start, readiness, failure detection and restarts.
func (s *ServiceInstance) reconcileTransitionToRunning(ctx context.Context, services serviceregistry.Provider, currentState string, currentTime time.Time) (err error, reconciled bool) {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentServiceInstance, s.baseFSMInstance.GetID()+".reconcileTransitionToRunning", time.Since(start))
	}()

	switch currentState {
	case OperationalStateStopped:
		// A start is issued only once every dependency reports running.
		if !s.ObservedState.DependenciesReady {
			s.baseFSMInstance.GetLogger().Debugf("Service %s waiting for dependency %s",
				s.baseFSMInstance.GetID(), s.ObservedState.BlockingDependency)

			return nil, false
		}

		if err := s.StartInstance(ctx, services); err != nil {
			return err, true
		}

		return s.baseFSMInstance.SendEvent(ctx, EventStart), true

	case OperationalStateStarting:
		return s.reconcileStartingState(ctx, currentTime)

	case OperationalStateRunning:
		return s.reconcileRunningState(ctx, currentTime)

	case OperationalStateRestarting:
		return s.reconcileRestartingState(ctx, services, currentTime)

	default:
		// failed is terminal under a running desire; stopping resolves
		// through the stopped branch once the desire flips.
		return nil, false
	}
}

// reconcileStartingState waits for readiness, bounded by the startup
// timeout. An early exit or a timeout consumes a restart attempt.
func (s *ServiceInstance) reconcileStartingState(ctx context.Context, currentTime time.Time) (err error, reconciled bool) {
	if s.isReady() {
		s.resetRestartBookkeeping()

		return s.baseFSMInstance.SendEvent(ctx, EventStartDone), true
	}

	if s.hasExitedEarly() {
		s.baseFSMInstance.GetLogger().Warnf("Service %s exited during startup", s.baseFSMInstance.GetID())

		return s.failStartAttempt(ctx)
	}

	if currentTime.Sub(s.startingSince) > s.effectiveStartupTimeout() {
		s.baseFSMInstance.GetLogger().Warnf("Service %s did not become ready within %s",
			s.baseFSMInstance.GetID(), s.effectiveStartupTimeout())

		return s.failStartAttempt(ctx)
	}

	return nil, false
}

// failStartAttempt routes a failed start into the restart policy: into
// restarting while attempts remain, terminal failed otherwise.
func (s *ServiceInstance) failStartAttempt(ctx context.Context) (err error, reconciled bool) {
	if s.restartAttempts >= s.effectiveMaxAttempts() {
		s.raiseTerminalFailure()

		return s.baseFSMInstance.SendEvent(ctx, EventFail), true
	}

	return s.baseFSMInstance.SendEvent(ctx, EventStartFailed), true
}

// reconcileRunningState watches a ready service for process exits and
// debounced probe failures.
func (s *ServiceInstance) reconcileRunningState(ctx context.Context, currentTime time.Time) (err error, reconciled bool) {
	if s.IsProcessDown() {
		s.baseFSMInstance.GetLogger().Warnf("Service %s process exited unexpectedly", s.baseFSMInstance.GetID())
		s.raiseUnhealthyAlert("process exited unexpectedly")

		return s.baseFSMInstance.SendEvent(ctx, EventProbeFailed), true
	}

	if s.ObservedState.Unhealthy {
		s.raiseUnhealthyAlert(s.ObservedState.LastProbe.Detail)

		return s.baseFSMInstance.SendEvent(ctx, EventProbeFailed), true
	}

	return nil, false
}

// reconcileRestartingState runs the backoff schedule: it checks the attempt
// budget, schedules the delay, waits for the old process to die and the
// delay to elapse, then launches the next attempt.
func (s *ServiceInstance) reconcileRestartingState(ctx context.Context, services serviceregistry.Provider, currentTime time.Time) (err error, reconciled bool) {
	if s.nextRestartAt.IsZero() {
		if s.restartAttempts >= s.effectiveMaxAttempts() {
			s.raiseTerminalFailure()

			return s.baseFSMInstance.SendEvent(ctx, EventFail), true
		}

		delay := s.restartDelay(s.restartAttempts)
		s.nextRestartAt = currentTime.Add(delay)
		s.restartAttempts++

		s.baseFSMInstance.GetLogger().Warnf("Service %s restart %d/%d scheduled in %s",
			s.baseFSMInstance.GetID(), s.restartAttempts, s.effectiveMaxAttempts(), delay)
		if s.journal != nil {
			s.journal.Record(models.EventTypeService, models.EventSeverityWarning, s.baseFSMInstance.GetID(),
				"restart %d/%d scheduled in %s", s.restartAttempts, s.effectiveMaxAttempts(), delay)
		}

		return nil, true
	}

	if s.IsProcessUp() {
		// The failed process is still up (e.g. unhealthy but alive). It
		// must be down before the next attempt.
		stuck := !s.stopInitiatedAt.IsZero() &&
			currentTime.Sub(s.stopInitiatedAt) > s.effectiveShutdownGrace()+constants.StopCompletionMargin
		if s.stopInitiatedAt.IsZero() || stuck {
			if err := s.StopInstance(ctx, services); err != nil {
				return err, true
			}
		}

		return nil, false
	}

	if currentTime.Before(s.nextRestartAt) {
		return nil, false
	}

	if err := s.StartInstance(ctx, services); err != nil {
		return err, true
	}

	s.nextRestartAt = time.Time{}
	s.stopInitiatedAt = time.Time{}
	metrics.IncServiceRestart(s.baseFSMInstance.GetID())

	return s.baseFSMInstance.SendEvent(ctx, EventRestart), true
}

// reconcileTransitionToStopped drives a service whose desired state is
// stopped down, waiting for its dependents to quiesce first.
func (s *ServiceInstance) reconcileTransitionToStopped(ctx context.Context, services serviceregistry.Provider, currentState string, currentTime time.Time) (err error, reconciled bool) {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentServiceInstance, s.baseFSMInstance.GetID()+".reconcileTransitionToStopped", time.Since(start))
	}()

	switch currentState {
	case OperationalStateStopped:
		return nil, false

	case OperationalStateStopping:
		if s.IsProcessDown() || s.ObservedState.ServiceInfo.Status == process.ServiceUnknown {
			s.stopInitiatedAt = time.Time{}
			s.resetRestartBookkeeping()

			return s.baseFSMInstance.SendEvent(ctx, EventStopDone), true
		}

		// Reissue the stop if the sequence appears stuck.
		if !s.stopInitiatedAt.IsZero() &&
			currentTime.Sub(s.stopInitiatedAt) > s.effectiveShutdownGrace()+constants.StopCompletionMargin {
			s.baseFSMInstance.GetLogger().Warnf("Service %s stop sequence stalled, reissuing", s.baseFSMInstance.GetID())

			if err := s.StopInstance(ctx, services); err != nil {
				return err, true
			}

			return nil, true
		}

		return nil, false

	default:
		// starting, running, restarting and failed all funnel through
		// stopping. Dependents are stopped before their dependencies.
		if !s.ObservedState.DependentsQuiesced {
			s.baseFSMInstance.GetLogger().Debugf("Service %s waiting for dependent %s to stop",
				s.baseFSMInstance.GetID(), s.ObservedState.BlockingDependent)

			return nil, false
		}

		if s.IsProcessUp() {
			if err := s.StopInstance(ctx, services); err != nil {
				return err, true
			}
		}

		return s.baseFSMInstance.SendEvent(ctx, EventStop), true
	}
}

// isReady reports whether the current start attempt has produced its first
// successful probe. Probes completed before the attempt began do not count.
func (s *ServiceInstance) isReady() bool {
	probe := s.ObservedState.LastProbe

	return probe.Verdict == health.Healthy && !probe.At.Before(s.startingSince) && !s.startingSince.IsZero()
}

// hasExitedEarly reports whether the process died during the current start
// attempt.
func (s *ServiceInstance) hasExitedEarly() bool {
	if !s.IsProcessDown() {
		return false
	}
	last := s.ObservedState.ServiceInfo.LastExit

	return last != nil && !last.Timestamp.Before(s.startingSince)
}
