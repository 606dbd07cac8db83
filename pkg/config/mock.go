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

package config

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
)

// MockConfigManager is a mock implementation of ConfigManager for testing
type MockConfigManager struct {
	GetConfigCalled bool
	GetConfigCalls  int
	Config          FullConfig
	ConfigError     error
	ConfigDelay     time.Duration
	ConfigHash      string
	MockFileSystem  *filesystem.MockFileSystem

	mu     sync.Mutex
	logger *zap.SugaredLogger
}

// NewMockConfigManager creates a new MockConfigManager instance
func NewMockConfigManager() *MockConfigManager {
	return &MockConfigManager{
		MockFileSystem: filesystem.NewMockFileSystem(),
		logger:         logger.For(logger.ComponentConfigManager),
	}
}

// GetConfig implements the ConfigManager interface
func (m *MockConfigManager) GetConfig(ctx context.Context, tick uint64) (FullConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetConfigCalled = true
	m.GetConfigCalls++

	if m.ConfigDelay > 0 {
		select {
		case <-time.After(m.ConfigDelay):
			// Delay completed
		case <-ctx.Done():
			return FullConfig{}, ctx.Err()
		}
	}

	return m.Config, m.ConfigError
}

// GetLastConfigHash implements the ConfigManager interface
func (m *MockConfigManager) GetLastConfigHash() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ConfigHash
}

// GetFileSystemService returns the mock filesystem service
func (m *MockConfigManager) GetFileSystemService() filesystem.Service {
	return m.MockFileSystem
}

// WithConfig configures the mock to return the given config
func (m *MockConfigManager) WithConfig(cfg FullConfig) *MockConfigManager {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Config = cfg

	return m
}

// WithConfigError configures the mock to return the given error
func (m *MockConfigManager) WithConfigError(err error) *MockConfigManager {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConfigError = err

	return m
}

// WithConfigDelay configures the mock to delay for the given duration
func (m *MockConfigManager) WithConfigDelay(delay time.Duration) *MockConfigManager {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConfigDelay = delay

	return m
}

// WithConfigHash configures the hash returned by GetLastConfigHash
func (m *MockConfigManager) WithConfigHash(hash string) *MockConfigManager {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConfigHash = hash

	return m
}

// CallCount returns how many times GetConfig ran. Safe to poll while a
// control loop is ticking against the mock.
func (m *MockConfigManager) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.GetConfigCalls
}

// ResetCalls clears the called flags for testing multiple calls
func (m *MockConfigManager) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetConfigCalled = false
	m.GetConfigCalls = 0
}
