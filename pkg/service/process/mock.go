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

package process

import (
	"context"
	"sync"
	"time"

	"github.com/warden-systems/warden-core/pkg/service/filesystem"
)

// MockService is a mock implementation of the process Service interface for
// testing
type MockService struct {
	// Mutex to protect concurrent access to shared maps
	mu sync.RWMutex

	// Tracks calls to methods
	CreateCalled        bool
	RemoveCalled        bool
	StartCalled         bool
	StopCalled          bool
	StatusCalled        bool
	ExitHistoryCalled   bool
	LogsCalled          bool
	ServiceExistsCalled bool

	// Return values for each method
	CreateError      error
	RemoveError      error
	StartError       error
	StopError        error
	StatusError      error
	ExitHistoryError error
	LogsError        error

	// Results for each method
	StatusResult      Info
	ExitHistoryResult []ExitEvent
	LogsResult        []LogEntry

	// Used parameters, for assertions on how a method was called
	StartedSpecs map[string]Spec
	StopGrace    time.Duration

	// For more complex testing scenarios
	ServiceStates    map[string]Info
	ExistingServices map[string]bool
}

// NewMockService creates a new mock process service
func NewMockService() *MockService {
	return &MockService{
		StartedSpecs:     make(map[string]Spec),
		ServiceStates:    make(map[string]Info),
		ExistingServices: make(map[string]bool),
		StatusResult: Info{
			Status: ServiceUnknown,
		},
	}
}

// Create mocks registering a service
func (m *MockService) Create(ctx context.Context, name string, fsService filesystem.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalled = true
	m.ExistingServices[name] = true

	return m.CreateError
}

// Remove mocks forgetting a service
func (m *MockService) Remove(ctx context.Context, name string, fsService filesystem.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RemoveCalled = true
	delete(m.ExistingServices, name)
	delete(m.ServiceStates, name)
	delete(m.StartedSpecs, name)

	return m.RemoveError
}

// Start mocks launching a service process
func (m *MockService) Start(ctx context.Context, name string, spec Spec, fsService filesystem.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StartCalled = true

	if !m.ExistingServices[name] {
		return ErrServiceNotExist
	}

	m.StartedSpecs[name] = spec

	info := m.ServiceStates[name]
	info.Status = ServiceUp
	m.ServiceStates[name] = info

	return m.StartError
}

// Stop mocks terminating a service process
func (m *MockService) Stop(ctx context.Context, name string, grace time.Duration, fsService filesystem.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StopCalled = true
	m.StopGrace = grace

	if !m.ExistingServices[name] {
		return ErrServiceNotExist
	}

	info := m.ServiceStates[name]
	info.Status = ServiceDown
	m.ServiceStates[name] = info

	return m.StopError
}

// Status mocks reading the observed process state
func (m *MockService) Status(ctx context.Context, name string, fsService filesystem.Service) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StatusCalled = true

	if state, exists := m.ServiceStates[name]; exists {
		return state, m.StatusError
	}

	return m.StatusResult, m.StatusError
}

// ExitHistory mocks reading the recorded exits
func (m *MockService) ExitHistory(ctx context.Context, name string) ([]ExitEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExitHistoryCalled = true

	return m.ExitHistoryResult, m.ExitHistoryError
}

// Logs mocks reading the captured output
func (m *MockService) Logs(ctx context.Context, name string, fsService filesystem.Service) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LogsCalled = true

	return m.LogsResult, m.LogsError
}

// ServiceExists mocks the registration check
func (m *MockService) ServiceExists(ctx context.Context, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ServiceExistsCalled = true

	return m.ExistingServices[name]
}

// SetServiceState scripts the status a service reports.
func (m *MockService) SetServiceState(name string, info Info) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ServiceStates[name] = info
}
