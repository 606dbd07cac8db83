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
	"github.com/warden-systems/warden-core/pkg/service/process"
)

// NewSupervisorManagerWithMockedServices creates a SupervisorManager whose
// instances never touch the real process table. All instances share a single
// process mock, so tests can script every service's state in one place. The
// probers are process probers over the same mock, which keeps probe verdicts
// in lockstep with the scripted process states.
func NewSupervisorManagerWithMockedServices(name string) (*SupervisorManager, *process.MockService) {
	managerName := fmt.Sprintf("%s%s", logger.ComponentSupervisorManager, name)

	// Create a single shared mock service that will be used by all instances
	mockService := process.NewMockService()

	journal := eventlog.NewJournal(0)
	debouncer := health.NewDebouncer(constants.DefaultProbeFailureThreshold)
	throttle := health.NewThrottle(constants.HealthAlertThrottle)

	baseManager := public_fsm.NewBaseFSMManager[config.ServiceConfig](
		managerName,
		// Extract service configs from full config - same as original
		func(fullConfig config.FullConfig) ([]config.ServiceConfig, error) {
			return fullConfig.Services, nil
		},
		// Get name from service config - same as original
		func(cfg config.ServiceConfig) (string, error) {
			return cfg.Name, nil
		},
		// Get desired state from service config - same as original
		func(cfg config.ServiceConfig) (string, error) {
			if cfg.DesiredFSMState == "" {
				return config.DesiredStateRunning, nil
			}

			return cfg.DesiredFSMState, nil
		},
		// Create service instance from config - with the shared mock
		func(cfg config.ServiceConfig) (public_fsm.FSMInstance, error) {
			prober := health.NewProber(cfg.Name, config.ProbeTypeProcess, mockService, nil, nil)

			return NewServiceInstanceWithServices(cfg, mockService, prober, debouncer, throttle, journal), nil
		},
		// Compare service configs - always report equal to avoid recreation
		func(instance public_fsm.FSMInstance, cfg config.ServiceConfig) (bool, error) {
			serviceInstance, ok := instance.(*ServiceInstance)
			if !ok {
				return false, fmt.Errorf("instance is not a ServiceInstance")
			}

			// For tests, just update the config instead of triggering recreation
			serviceInstance.config = cfg

			return true, nil
		},
		// Set service config
		func(instance public_fsm.FSMInstance, cfg config.ServiceConfig) error {
			serviceInstance, ok := instance.(*ServiceInstance)
			if !ok {
				return fmt.Errorf("instance is not a ServiceInstance")
			}
			serviceInstance.config = cfg

			return nil
		},
		// Get expected max p95 execution time per instance - same as original
		func(instance public_fsm.FSMInstance) (time.Duration, error) {
			return constants.SupervisedExpectedMaxP95ExecutionTimePerInstance, nil
		},
	)

	metrics.InitErrorCounter(metrics.ComponentSupervisorManager, name)

	manager := &SupervisorManager{
		BaseFSMManager: baseManager,
	}

	return manager, mockService
}
