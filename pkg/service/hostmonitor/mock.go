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

package hostmonitor

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/models"
)

// MockService is a mock implementation of the host monitor Service interface
type MockService struct {
	mock.Mock
}

// NewMockService creates a new mock service instance
func NewMockService() *MockService {
	return &MockService{}
}

// GetStatus is a mock implementation of Service.GetStatus
func (m *MockService) GetStatus(ctx context.Context) (*models.Host, error) {
	args := m.Called(ctx)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Host), args.Error(1)
}

// CreateDefaultHostStatus returns a host status with healthy readings for
// testing
func CreateDefaultHostStatus() *models.Host {
	active := func(resource string) *models.Health {
		return &models.Health{
			Message:       resource + " utilization normal",
			ObservedState: constants.HostStateNormal,
			DesiredState:  constants.HostStateNormal,
			Category:      models.Active,
		}
	}

	return &models.Host{
		Health: &models.Health{
			Message:       "Host is operating normally",
			ObservedState: constants.HostStateRunning,
			DesiredState:  constants.HostStateRunning,
			Category:      models.Active,
		},
		CPU: &models.CPU{
			Health:      active("CPU"),
			UsedPercent: 35.0,
			CoreCount:   4,
		},
		Memory: &models.Memory{
			Health:     active("Memory"),
			UsedBytes:  1073741824, // 1 GB
			TotalBytes: 4294967296, // 4 GB
		},
		Disk: &models.Disk{
			Health:                  active("Disk"),
			DataPartitionUsedBytes:  536870912,   // 512 MB
			DataPartitionTotalBytes: 10737418240, // 10 GB
		},
		Architecture: models.HostArchitectureAmd64,
	}
}

// CreateDegradedHostStatus returns a host status with a critical disk for
// testing
func CreateDegradedHostStatus() *models.Host {
	host := CreateDefaultHostStatus()
	host.Disk.DataPartitionUsedBytes = 10200547328 // 9.5 GB of 10 GB
	host.Disk.Health = &models.Health{
		Message:       "Disk utilization critical",
		ObservedState: constants.HostStateCritical,
		DesiredState:  constants.HostStateNormal,
		Category:      models.Degraded,
	}
	host.Health = &models.Health{
		Message:       "Disk utilization critical",
		ObservedState: constants.HostStateCritical,
		DesiredState:  constants.HostStateRunning,
		Category:      models.Degraded,
	}

	return host
}

// SetupMockForHealthyState configures the mock to return a healthy host
func (m *MockService) SetupMockForHealthyState() {
	m.On("GetStatus", mock.Anything).Return(CreateDefaultHostStatus(), nil)
}

// SetupMockForDegradedState configures the mock to return a degraded host
func (m *MockService) SetupMockForDegradedState() {
	m.On("GetStatus", mock.Anything).Return(CreateDegradedHostStatus(), nil)
}

// SetupMockForError configures the mock to return an error
func (m *MockService) SetupMockForError(err error) {
	m.On("GetStatus", mock.Anything).Return(nil, err)
}
