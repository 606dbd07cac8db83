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

package backup

import (
	"context"
	"sync"
	"time"
)

// MockService is a canned Service implementation for worker, control,
// and API tests.
type MockService struct {
	mu sync.Mutex

	// Called flags for each method
	CreateCalled  bool
	ListCalled    bool
	RestoreCalled bool

	// Errors to return from each method
	CreateError  error
	ListError    error
	RestoreError error

	// Results for each method
	CreateResult Metadata
	ListResult   []Metadata

	// Used parameters, for assertions on how a method was called
	CreatedReasons []Reason
	RestoredIDs    []string

	// CreateDelay stretches Create so tests can observe in-flight
	// conflicts. The context is honored while waiting.
	CreateDelay time.Duration
}

// NewMockService creates a mock backup service.
func NewMockService() *MockService {
	return &MockService{}
}

// Reasons returns a copy of the reasons Create was called with. Safe to
// read while a create is still in flight.
func (m *MockService) Reasons() []Reason {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Reason(nil), m.CreatedReasons...)
}

// Create mocks capturing a backup.
func (m *MockService) Create(ctx context.Context, reason Reason) (Metadata, error) {
	m.mu.Lock()
	m.CreateCalled = true
	m.CreatedReasons = append(m.CreatedReasons, reason)
	delay := m.CreateDelay
	result := m.CreateResult
	err := m.CreateError
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Metadata{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return Metadata{}, err
	}

	if result.ID == "" {
		result.ID = NewBackupID(time.Now())
		result.CreatedAt = time.Now().UTC()
		result.Reason = reason
	}

	return result, nil
}

// List mocks listing committed backups.
func (m *MockService) List(ctx context.Context) ([]Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalled = true

	return m.ListResult, m.ListError
}

// Restore mocks restoring the named backup.
func (m *MockService) Restore(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RestoreCalled = true
	m.RestoredIDs = append(m.RestoredIDs, id)

	return m.RestoreError
}
