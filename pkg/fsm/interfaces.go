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
	"time"

	"github.com/warden-systems/warden-core/pkg/serviceregistry"
)

// ObservedState is the marker interface for the cached observation an
// instance gathered during its last reconcile cycle.
type ObservedState interface {
	// IsObservedState is a marker method to ensure type safety
	IsObservedState()
}

// FSMInstance is a single finite state machine: one current state, one
// desired state, and a Reconcile that moves the former toward the latter.
type FSMInstance interface {
	// GetCurrentFSMState returns the current state of the instance
	GetCurrentFSMState() string
	// GetDesiredFSMState returns the desired state of the instance
	GetDesiredFSMState() string
	// SetDesiredFSMState sets the desired state of the instance
	SetDesiredFSMState(desiredState string) error
	// Reconcile moves the instance one step toward its desired state.
	// The snapshot carries the configuration and the global tick observed at
	// the start of the loop cycle, so every instance acts on the same view.
	// The services registry provides shared access to the filesystem and
	// port manager, so expensive observations are made once per cycle and
	// not once per instance.
	// Returns an error if reconciliation fails, and a boolean indicating
	// whether a change was made to the instance's state.
	Reconcile(ctx context.Context, snapshot SystemSnapshot, services serviceregistry.Provider) (error, bool)
	// Remove initiates the removal process for this instance
	Remove(ctx context.Context) error
	// GetLastObservedState returns the cached observation from the last
	// reconciliation cycle
	GetLastObservedState() ObservedState
	// GetExpectedMaxP95ExecutionTimePerInstance returns the expected max p95
	// execution time of the instance, used to budget the reconcile deadline
	GetExpectedMaxP95ExecutionTimePerInstance() time.Duration
}

// FSMManager is a collection of FSM instances of one kind. The control loop
// only sees this interface; BaseFSMManager provides the shared engine behind
// every concrete implementation. Managers that can package their own snapshot
// additionally implement ManagerSnapshotCreator.
type FSMManager[C any] interface {
	// GetInstances returns all instances managed by this manager
	GetInstances() map[string]FSMInstance
	// GetInstance returns an instance by name
	GetInstance(name string) (FSMInstance, bool)
	// Reconcile aligns the instance set with the configuration in the
	// snapshot and reconciles each instance. The boolean reports whether
	// anything changed this tick.
	Reconcile(ctx context.Context, snapshot SystemSnapshot, services serviceregistry.Provider) (error, bool)
	// GetManagerName returns the name of this manager for logging and metrics
	GetManagerName() string
}

// ObservedStateConverter is implemented by instances that can package their
// observed state for a snapshot.
type ObservedStateConverter interface {
	// CreateObservedStateSnapshot returns a deep-copyable representation of
	// the instance's observed state
	CreateObservedStateSnapshot() ObservedStateSnapshot
}
