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

package backoff

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/warden-systems/warden-core/pkg/constants"
)

const (
	// TemporaryBackoffError is the marker contained in every error returned while
	// an instance is suspended inside its backoff window.
	TemporaryBackoffError = "temporary backoff error"

	// PermanentFailureError is the marker contained in every error returned once
	// an instance has exceeded its maximum retry count.
	PermanentFailureError = "permanent failure error"
)

// BackoffConfig holds the parameters for one BackoffManager.
// Tick counts are control-loop ticks, not wall-clock time, so backoff behaves
// deterministically in tests that drive the loop manually.
type BackoffConfig struct {
	ID                  string
	InitialBackoffTicks uint64
	MaxBackoffTicks     uint64
	MaxRetries          uint64
	Logger              *zap.SugaredLogger
}

// DefaultConfig returns the config used by all FSM instances unless a caller
// needs different limits (tests mostly).
func DefaultConfig(id string, logger *zap.SugaredLogger) BackoffConfig {
	return BackoffConfig{
		ID:                  id,
		InitialBackoffTicks: constants.DefaultFSMInitialBackoffTicks,
		MaxBackoffTicks:     constants.DefaultFSMMaxBackoffTicks,
		MaxRetries:          constants.DefaultFSMMaxRetries,
		Logger:              logger,
	}
}

// NewBackoffConfig builds a config with explicit limits.
func NewBackoffConfig(id string, initialBackoffTicks uint64, maxBackoffTicks uint64, maxRetries uint64, logger *zap.SugaredLogger) BackoffConfig {
	return BackoffConfig{
		ID:                  id,
		InitialBackoffTicks: initialBackoffTicks,
		MaxBackoffTicks:     maxBackoffTicks,
		MaxRetries:          maxRetries,
		Logger:              logger,
	}
}

// BackoffManager tracks consecutive errors for a single FSM instance and
// translates them into skip windows. Each error doubles the window, capped at
// MaxBackoffTicks. Once the retry count exceeds MaxRetries the instance is
// declared permanently failed and stays suspended until Reset is called.
type BackoffManager struct {
	cfg BackoffConfig

	mu sync.RWMutex

	// lastErr is the most recent error as handed to SetError, with any backoff
	// wrapping already stripped so callers always see the root cause.
	lastErr error

	// retries counts consecutive SetError calls since the last Reset.
	retries uint64

	// suspendedUntilTick is the first tick at which operations may resume.
	suspendedUntilTick uint64

	permanentlyFailed bool
}

// NewBackoffManager creates a manager in the clean state: no error, no
// suspension.
func NewBackoffManager(cfg BackoffConfig) *BackoffManager {
	return &BackoffManager{cfg: cfg}
}

// SetError records an error at the given tick and returns true if the instance
// has now permanently failed. Errors wrapped via NewPermanentError fail
// immediately; errors wrapped via NewIgnoredError are logged and dropped.
// Everything else counts as transient and extends the backoff window.
func (m *BackoffManager) SetError(err error, tick uint64) bool {
	if err == nil {
		return false
	}

	if IsBackoffError(err) {
		err = ExtractOriginalError(err)
	}

	if IsIgnoredError(err) {
		m.cfg.Logger.Debugf("Ignoring error for %s: %v", m.cfg.ID, err)

		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastErr = err

	if IsPermanentError(err) {
		m.permanentlyFailed = true
		m.cfg.Logger.Errorf("Permanent error for %s: %v", m.cfg.ID, err)

		return true
	}

	m.retries++
	if m.retries > m.cfg.MaxRetries {
		m.permanentlyFailed = true
		m.cfg.Logger.Errorf("Max retries (%d) exceeded for %s, marking as permanently failed: %v", m.cfg.MaxRetries, m.cfg.ID, err)

		return true
	}

	window := m.windowTicks()
	m.suspendedUntilTick = tick + window
	m.cfg.Logger.Warnf("Error for %s (retry %d of %d), suspending for %d ticks: %v", m.cfg.ID, m.retries, m.cfg.MaxRetries, window, err)

	return false
}

// windowTicks computes the current exponential window. Callers must hold mu.
func (m *BackoffManager) windowTicks() uint64 {
	shift := m.retries - 1
	if shift >= 63 {
		return m.cfg.MaxBackoffTicks
	}

	window := m.cfg.InitialBackoffTicks << shift
	if window > m.cfg.MaxBackoffTicks || window < m.cfg.InitialBackoffTicks {
		return m.cfg.MaxBackoffTicks
	}

	return window
}

// ShouldSkipOperation returns true while the instance is inside its backoff
// window or has permanently failed.
func (m *BackoffManager) ShouldSkipOperation(tick uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.permanentlyFailed {
		return true
	}

	if m.lastErr == nil {
		return false
	}

	return tick < m.suspendedUntilTick
}

// IsPermanentlyFailed returns true once the retry budget is exhausted or a
// permanent error was recorded.
func (m *BackoffManager) IsPermanentlyFailed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.permanentlyFailed
}

// GetLastError returns the most recent error, or nil after a Reset.
func (m *BackoffManager) GetLastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lastErr
}

// GetBackoffError wraps the last error with the backoff marker matching the
// current state, so callers can distinguish "wait a bit" from "give up" via
// IsTemporaryBackoffError and IsPermanentFailureError. The original error stays
// reachable through errors.Unwrap.
func (m *BackoffManager) GetBackoffError(tick uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastErr == nil {
		return nil
	}

	if m.permanentlyFailed {
		return fmt.Errorf("%s: %s failed after %d retries: %w", PermanentFailureError, m.cfg.ID, m.retries, m.lastErr)
	}

	var remaining uint64
	if tick < m.suspendedUntilTick {
		remaining = m.suspendedUntilTick - tick
	}

	return fmt.Errorf("%s: %s suspended for %d more ticks (retry %d of %d): %w", TemporaryBackoffError, m.cfg.ID, remaining, m.retries, m.cfg.MaxRetries, m.lastErr)
}

// Reset clears the error state, the retry counter and any permanent failure
// flag. Called after a successful reconcile or when an operator explicitly
// revives a failed instance.
func (m *BackoffManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastErr = nil
	m.retries = 0
	m.suspendedUntilTick = 0
	m.permanentlyFailed = false
}
