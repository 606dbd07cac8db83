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

package portmanager

import (
	"context"
	"fmt"
	"sync"
)

// ErrPortInUse is returned when a port is already claimed by another service
var ErrPortInUse = fmt.Errorf("port is already in use by another service")

// MockPortManager is a mock implementation of PortManager for testing. It
// tracks claims in memory and never touches the OS.
type MockPortManager struct {
	ReservePortError  error
	ReleasePortError  error
	Ports             map[string]uint16
	PortHolders       map[uint16]string
	sync.Mutex
	ReservePortCalled bool
	ReleasePortCalled bool
	GetPortCalled     bool
}

// Ensure MockPortManager implements PortManager
var _ PortManager = (*MockPortManager)(nil)

// NewMockPortManager creates a new MockPortManager
func NewMockPortManager() *MockPortManager {
	return &MockPortManager{
		Ports:       make(map[string]uint16),
		PortHolders: make(map[uint16]string),
	}
}

// ReservePort reserves a specific port for the given service
func (m *MockPortManager) ReservePort(ctx context.Context, serviceName string, port uint16) error {
	m.Lock()
	defer m.Unlock()

	m.ReservePortCalled = true

	if m.ReservePortError != nil {
		return m.ReservePortError
	}

	if holder, ok := m.PortHolders[port]; ok && holder != serviceName {
		return ErrPortInUse
	}

	m.Ports[serviceName] = port
	m.PortHolders[port] = serviceName

	return nil
}

// ReleasePort releases the port held by the given service
func (m *MockPortManager) ReleasePort(serviceName string) error {
	m.Lock()
	defer m.Unlock()

	m.ReleasePortCalled = true

	if m.ReleasePortError != nil {
		return m.ReleasePortError
	}

	if port, ok := m.Ports[serviceName]; ok {
		delete(m.Ports, serviceName)
		delete(m.PortHolders, port)
	}

	return nil
}

// GetPort returns the port held by the given service
func (m *MockPortManager) GetPort(serviceName string) (uint16, bool) {
	m.Lock()
	defer m.Unlock()

	m.GetPortCalled = true

	port, ok := m.Ports[serviceName]

	return port, ok
}
