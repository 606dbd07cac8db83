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
	"fmt"
	"time"

	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/eventlog"
	public_fsm "github.com/warden-systems/warden-core/pkg/fsm"
	"github.com/warden-systems/warden-core/pkg/health"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/metrics"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
	"github.com/warden-systems/warden-core/pkg/service/httpclient"
	"github.com/warden-systems/warden-core/pkg/service/process"
)

// SupervisorManager implements FSM management for supervised services.
type SupervisorManager struct {
	*public_fsm.BaseFSMManager[config.ServiceConfig]
}

// SupervisorManagerSnapshot extends the base manager snapshot to hold any supervision-specific info
type SupervisorManagerSnapshot struct {
	*public_fsm.BaseManagerSnapshot
}

// NewSupervisorManager creates a new SupervisorManager.
// The name is used to identify the manager in logs. All instances created by
// one manager share a single process service, HTTP client, probe debouncer
// and alert throttle.
func NewSupervisorManager(name string, journal *eventlog.Journal) *SupervisorManager {
	managerName := fmt.Sprintf("%s%s", logger.ComponentSupervisorManager, name)

	procService := process.NewDefaultService()
	fsService := filesystem.NewDefaultService()
	httpClient := httpclient.NewDefaultHTTPClient()
	debouncer := health.NewDebouncer(constants.DefaultProbeFailureThreshold)
	throttle := health.NewThrottle(constants.HealthAlertThrottle)

	baseManager := public_fsm.NewBaseFSMManager[config.ServiceConfig](
		managerName,
		// Extract service configs from full config
		func(fullConfig config.FullConfig) ([]config.ServiceConfig, error) {
			return fullConfig.Services, nil
		},
		// Get name from service config
		func(cfg config.ServiceConfig) (string, error) {
			return cfg.Name, nil
		},
		// Get desired state from service config
		func(cfg config.ServiceConfig) (string, error) {
			if cfg.DesiredFSMState == "" {
				return config.DesiredStateRunning, nil
			}

			return cfg.DesiredFSMState, nil
		},
		// Create service instance from config
		func(cfg config.ServiceConfig) (public_fsm.FSMInstance, error) {
			prober := health.NewProber(cfg.Name, cfg.Probe.Type, procService, httpClient, fsService)

			return NewServiceInstanceWithServices(cfg, procService, prober, debouncer, throttle, journal), nil
		},
		// Compare service configs
		func(instance public_fsm.FSMInstance, cfg config.ServiceConfig) (bool, error) {
			serviceInstance, ok := instance.(*ServiceInstance)
			if !ok {
				return false, fmt.Errorf("instance is not a ServiceInstance")
			}

			return serviceInstance.config.Equal(cfg), nil
		},
		// Set service config
		func(instance public_fsm.FSMInstance, cfg config.ServiceConfig) error {
			serviceInstance, ok := instance.(*ServiceInstance)
			if !ok {
				return fmt.Errorf("instance is not a ServiceInstance")
			}
			serviceInstance.config = cfg
			// The probe section may have changed type or target.
			serviceInstance.prober = health.NewProber(cfg.Name, cfg.Probe.Type, procService, httpClient, fsService)

			return nil
		},
		// Get expected max p95 execution time per instance
		func(instance public_fsm.FSMInstance) (time.Duration, error) {
			serviceInstance, ok := instance.(*ServiceInstance)
			if !ok {
				return 0, fmt.Errorf("instance is not a ServiceInstance")
			}

			return serviceInstance.GetExpectedMaxP95ExecutionTimePerInstance(), nil
		},
	)

	metrics.InitErrorCounter(metrics.ComponentSupervisorManager, name)

	return &SupervisorManager{
		BaseFSMManager: baseManager,
	}
}

// CreateSnapshot overrides the base to add supervision-specific fields if desired
func (m *SupervisorManager) CreateSnapshot() public_fsm.ManagerSnapshot {
	baseSnap := m.BaseFSMManager.CreateSnapshot()
	baseSnapshot, ok := baseSnap.(*public_fsm.BaseManagerSnapshot)
	if !ok {
		logger.For(logger.ComponentSupervisorManager).Errorf("Could not convert manager snapshot to BaseManagerSnapshot.")

		return baseSnap
	}
	snap := &SupervisorManagerSnapshot{
		BaseManagerSnapshot: baseSnapshot,
	}

	return snap
}
