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

// FSMInstanceActions defines the standard lifecycle actions that all FSM instances should implement
type FSMInstanceActions interface {
	// CreateInstance initiates the creation of a managed instance
	CreateInstance(ctx context.Context, services serviceregistry.Provider) error

	// RemoveInstance initiates the removal of a managed instance
	RemoveInstance(ctx context.Context, services serviceregistry.Provider) error

	// StartInstance initiates the starting of a managed instance
	StartInstance(ctx context.Context, services serviceregistry.Provider) error

	// StopInstance initiates the stopping of a managed instance
	StopInstance(ctx context.Context, services serviceregistry.Provider) error

	// UpdateObservedStateOfInstance updates the observed state of the instance
	UpdateObservedStateOfInstance(ctx context.Context, services serviceregistry.Provider, tick uint64, loopStartTime time.Time) error

	// ForceRemoveInstance forces the removal of a managed instance
	ForceRemoveInstance(ctx context.Context, services serviceregistry.Provider) error
}

// FSMInstanceChecks defines the standard checks that all FSM instances should implement
type FSMInstanceChecks interface {
	// IsRemoving returns true if the instance is in the removing state
	// A default implementation is provided by the baseFSMInstance
	IsRemoving() bool

	// IsRemoved returns true if the instance is in the removed state
	// A default implementation is provided by the baseFSMInstance
	IsRemoved() bool

	// IsStopping returns true if the instance is in the stopping state
	// No default implementation is provided by the baseFSMInstance
	IsStopping() bool

	// IsStopped returns true if the instance is in the stopped state
	// No default implementation is provided by the baseFSMInstance
	IsStopped() bool
}

// FSMInstanceReconcile defines the standard reconcile logics that all FSM instances should implement
type FSMInstanceReconcile interface {
	ReconcileOperationalStates(ctx context.Context, currentState string, desiredState string, services serviceregistry.Provider, currentTime time.Time) (err error, reconciled bool)
}
