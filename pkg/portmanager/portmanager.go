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

// Package portmanager tracks which listen port each supervised service
// claims, so that two services configured with the same probe endpoint are
// rejected before either starts instead of flapping against each other.
package portmanager

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// PortManager hands out exclusive claims on listen ports.
type PortManager interface {
	// ReservePort claims a specific port for an instance.
	// Returns an error if the port is privileged, claimed by another
	// instance, or not bindable at reservation time.
	ReservePort(ctx context.Context, instanceName string, port uint16) error

	// ReleasePort gives up the port previously reserved by an instance.
	// Returns an error if the instance holds no port.
	ReleasePort(instanceName string) error

	// GetPort retrieves the port claimed by an instance.
	// Returns the port and true if found, 0 and false otherwise.
	GetPort(instanceName string) (uint16, bool)
}

// Supervised services run unprivileged, so ports below this are rejected.
const minServicePort = 1024

// DefaultPortManager is a thread-safe implementation of PortManager. A
// reservation is checked against the in-agent claims first and then against
// the OS with a one-shot bind, which catches ports held by processes outside
// the agent's control.
type DefaultPortManager struct {
	// instanceToPorts maps instance names to their reserved ports
	instanceToPorts map[string]uint16

	// portToInstances maps ports to instance names for reverse lookup
	portToInstances map[uint16]string

	// mutex to protect concurrent access to maps
	mutex sync.RWMutex
}

// NewDefaultPortManager creates an empty port manager.
func NewDefaultPortManager() *DefaultPortManager {
	return &DefaultPortManager{
		instanceToPorts: make(map[string]uint16),
		portToInstances: make(map[uint16]string),
	}
}

// ReservePort claims the given port for an instance. Reservations survive
// restarts of the instance; re-reserving the held port is a no-op, so the
// bind check only runs on the first claim.
func (pm *DefaultPortManager) ReservePort(ctx context.Context, instanceName string, port uint16) error {
	if port < minServicePort {
		return fmt.Errorf("invalid port %d: ports below %d are privileged", port, minServicePort)
	}

	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	if holder, exists := pm.portToInstances[port]; exists {
		if holder != instanceName {
			return fmt.Errorf("port %d is already in use by instance %s", port, holder)
		}
		// Port is already reserved for this instance, nothing to do
		return nil
	}

	if existingPort, exists := pm.instanceToPorts[instanceName]; exists {
		return fmt.Errorf("instance %s already has port %d reserved", instanceName, existingPort)
	}

	// Bind and close immediately to verify the port is actually free. The
	// service binds it for real after it starts.
	lc := &net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("port %d is not available: %w", port, err)
	}
	if err := listener.Close(); err != nil {
		return fmt.Errorf("failed to close listener for port %d: %w", port, err)
	}

	pm.instanceToPorts[instanceName] = port
	pm.portToInstances[port] = instanceName

	return nil
}

// ReleasePort releases the port previously reserved by an instance.
func (pm *DefaultPortManager) ReleasePort(instanceName string) error {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	port, exists := pm.instanceToPorts[instanceName]
	if !exists {
		return fmt.Errorf("instance %s has no reserved port", instanceName)
	}

	delete(pm.instanceToPorts, instanceName)
	delete(pm.portToInstances, port)

	return nil
}

// GetPort retrieves the port reserved by an instance.
func (pm *DefaultPortManager) GetPort(instanceName string) (uint16, bool) {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()

	port, exists := pm.instanceToPorts[instanceName]

	return port, exists
}
