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

// Package supervised implements the per-service lifecycle state machine.
// Each supervised service is one instance: it is started once all of its
// dependencies report running, watched through health probes while running,
// restarted with exponential backoff on failure, and parked in a terminal
// failed state once its restart budget is exhausted.
package supervised

import (
	"sync"
	"time"

	internalfsm "github.com/warden-systems/warden-core/internal/fsm"
	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/eventlog"
	publicfsm "github.com/warden-systems/warden-core/pkg/fsm"
	"github.com/warden-systems/warden-core/pkg/health"
	"github.com/warden-systems/warden-core/pkg/service/process"
)

// Operational state constants. The lifecycle states (to_be_created, creating,
// removing, removed) come from internal/fsm and bracket these.
const (
	// OperationalStateStopped is the resting state: no process, no probes.
	OperationalStateStopped = "stopped"
	// OperationalStateStarting means the process was launched and the
	// machine is waiting for the readiness signal, bounded by the startup
	// timeout.
	OperationalStateStarting = "starting"
	// OperationalStateRunning means the service reached readiness and is
	// being probed on its interval.
	OperationalStateRunning = "running"
	// OperationalStateRestarting means a failure was detected and the next
	// start attempt is pending its backoff delay.
	OperationalStateRestarting = "restarting"
	// OperationalStateStopping means the process group was signalled and the
	// machine is waiting for it to go down.
	OperationalStateStopping = "stopping"
	// OperationalStateFailed is terminal: the restart budget is exhausted
	// and the service is left alone until an operator intervenes.
	OperationalStateFailed = "failed"
)

// Operational event constants.
const (
	// EventStart fires once every dependency reports running.
	EventStart = "start"
	// EventStartDone fires on the first successful probe after a start.
	EventStartDone = "start_done"
	// EventStartFailed fires on startup timeout or early exit while restart
	// attempts remain.
	EventStartFailed = "start_failed"
	// EventProbeFailed fires on a debounced unhealthy verdict or a process
	// exit while running.
	EventProbeFailed = "probe_failed"
	// EventRestart fires once the backoff delay has elapsed.
	EventRestart = "restart"
	// EventFail fires when the restart budget is exhausted.
	EventFail = "fail"
	// EventStop fires when the desired state turns to stopped and every
	// dependent has quiesced.
	EventStop = "stop"
	// EventStopDone fires once the process group is observed down.
	EventStopDone = "stop_done"
)

// IsOperationalState reports whether the given state belongs to this machine
// rather than to the shared lifecycle.
func IsOperationalState(state string) bool {
	switch state {
	case OperationalStateStopped,
		OperationalStateStarting,
		OperationalStateRunning,
		OperationalStateRestarting,
		OperationalStateStopping,
		OperationalStateFailed:
		return true
	default:
		return false
	}
}

// IsStartingState reports whether the service is mid start attempt.
func IsStartingState(state string) bool {
	return state == OperationalStateStarting
}

// IsRunningState reports whether the service has reached readiness.
func IsRunningState(state string) bool {
	return state == OperationalStateRunning
}

// IsSettlingState reports whether the service is between stable states and
// expected to move on its own. Used for the degraded classification in the
// aggregate health.
func IsSettlingState(state string) bool {
	switch state {
	case OperationalStateStarting, OperationalStateRestarting, OperationalStateStopping:
		return true
	default:
		return false
	}
}

// ServiceObservedState is what the instance saw the last time it looked at
// the world. It is refreshed once per reconcile tick and is the only data
// the transition logic acts on.
type ServiceObservedState struct {
	// ServiceInfo is the raw process-level view from the process service.
	ServiceInfo process.Info

	// LastProbe is the most recent completed probe execution. Its At field
	// is compared against the start of the current attempt, so a probe
	// launched against a previous incarnation never counts as readiness.
	LastProbe health.Result

	// ProbeFailures is the current consecutive-failure count from the
	// debouncer. Unhealthy is latched once the count crosses the threshold
	// and cleared by the next successful probe.
	ProbeFailures int
	Unhealthy     bool

	// Dependency view, derived from the system snapshot of the previous
	// tick. BlockingDependency names the first dependency not yet running;
	// BlockingDependent names the first dependent still up when this
	// service wants to stop.
	DependenciesReady  bool
	BlockingDependency string
	DependentsQuiesced bool
	BlockingDependent  string

	// Restart bookkeeping mirrored for status consumers.
	RestartAttempts int
	NextRestartAt   time.Time
	StartingSince   time.Time

	// LastStateChange is the unix timestamp of the first observation.
	LastStateChange int64
}

// IsObservedState implements the ObservedState interface.
func (s ServiceObservedState) IsObservedState() {}

// ServiceInstance implements the FSMInstance interface for one supervised
// service.
var _ publicfsm.FSMInstance = (*ServiceInstance)(nil)

// ServiceInstance holds the state machine and runtime bookkeeping for one
// supervised service. All fields except the probe slot are touched only by
// the control loop's reconcile calls.
type ServiceInstance struct {
	baseFSMInstance *internalfsm.BaseFSMInstance

	// service is the process layer the actions go through.
	service process.Service

	// prober, debouncer and throttle implement the health pipeline. The
	// debouncer and throttle are shared across the manager's instances and
	// keyed by service name.
	prober    health.Prober
	debouncer *health.Debouncer
	throttle  *health.Throttle

	// journal receives the operator-visible events. May be nil in tests.
	journal *eventlog.Journal

	// config holds the service definition this instance enforces.
	config config.ServiceConfig

	// ObservedState is the last known state of the world.
	ObservedState ServiceObservedState

	// now is the time source. Tests replace it to drive backoff delays and
	// startup timeouts deterministically.
	now func() time.Time

	// Restart bookkeeping. restartAttempts counts starts performed since
	// the service last reached running; nextRestartAt is zero until the
	// pending restart has been scheduled.
	restartAttempts int
	nextRestartAt   time.Time
	startingSince   time.Time

	// stopInitiatedAt is zero unless a stop sequence is in flight. The stop
	// escalation runs on its own goroutine, so the machine polls the
	// process status instead of waiting.
	stopInitiatedAt time.Time

	// terminalAlerted ensures the terminal failure alert fires exactly once
	// per failed episode.
	terminalAlerted bool

	// probe bookkeeping. pendingProbe is the slot the probe goroutine
	// writes into; probeMu guards it and probeInFlight.
	probeMu          sync.Mutex
	probeInFlight    bool
	pendingProbe     *health.Result
	lastProbeStarted time.Time
}

// GetLastObservedState returns the last known state of the instance.
func (s *ServiceInstance) GetLastObservedState() publicfsm.ObservedState {
	return s.ObservedState
}

// GetConfig returns the service definition this instance enforces.
// It is used by the manager for comparison and testing.
func (s *ServiceInstance) GetConfig() config.ServiceConfig {
	return s.config
}

// GetService returns the underlying process service.
// It is a testing utility.
func (s *ServiceInstance) GetService() process.Service {
	return s.service
}

// SetService replaces the underlying process service.
// It is a testing utility.
func (s *ServiceInstance) SetService(service process.Service) {
	s.service = service
}

// SetProber replaces the prober.
// It is a testing utility.
func (s *ServiceInstance) SetProber(prober health.Prober) {
	s.prober = prober
}
