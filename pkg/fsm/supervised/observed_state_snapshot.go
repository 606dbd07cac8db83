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
	"time"

	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/fsm"
	"github.com/warden-systems/warden-core/pkg/health"
	"github.com/warden-systems/warden-core/pkg/service/process"
)

// ServiceObservedStateSnapshot is a deep-copyable snapshot of ServiceObservedState
type ServiceObservedStateSnapshot struct {
	Config             config.ServiceConfig
	ServiceInfo        process.Info
	LastProbe          health.Result
	ProbeFailures      int
	Unhealthy          bool
	BlockingDependency string
	BlockingDependent  string
	RestartAttempts    int
	NextRestartAt      time.Time
	LastStateChange    int64
}

// IsObservedStateSnapshot implements the fsm.ObservedStateSnapshot interface
func (s *ServiceObservedStateSnapshot) IsObservedStateSnapshot() {
	// Marker method implementation
}

// CreateObservedStateSnapshot implements the fsm.ObservedStateConverter interface for ServiceInstance
func (s *ServiceInstance) CreateObservedStateSnapshot() fsm.ObservedStateSnapshot {
	// Create a deep copy of the observed state
	snapshot := &ServiceObservedStateSnapshot{
		ProbeFailures:   s.ObservedState.ProbeFailures,
		Unhealthy:       s.ObservedState.Unhealthy,
		RestartAttempts: s.ObservedState.RestartAttempts,
		NextRestartAt:   s.ObservedState.NextRestartAt,
		LastStateChange: s.ObservedState.LastStateChange,
	}

	// Deep copy config
	snapshot.Config = s.config

	// Deep copy service info
	snapshot.ServiceInfo = s.ObservedState.ServiceInfo

	// Deep copy probe result and dependency view
	snapshot.LastProbe = s.ObservedState.LastProbe
	snapshot.BlockingDependency = s.ObservedState.BlockingDependency
	snapshot.BlockingDependent = s.ObservedState.BlockingDependent

	return snapshot
}
