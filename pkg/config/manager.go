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
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/warden-systems/warden-core/pkg/backoff"
	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/ctxutil/ctxmutex"
	"github.com/warden-systems/warden-core/pkg/ctxutil/ctxrwmutex"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/metrics"
	"github.com/warden-systems/warden-core/pkg/sentry"
	filesystem "github.com/warden-systems/warden-core/pkg/service/filesystem"
)

const (
	// DefaultConfigPath is the default path to the config file
	DefaultConfigPath = constants.DefaultConfigPath
)

// singleton instance
// we avoid having more than one instance of the config manager because it can lead to race conditions
// if we ensure that we have only one instance, we can avoid race conditions by using mutexes in this single instance as we do here

// however, access from outside the process is not protected by mutexes (keep in mind e.g. when using GitOps on the config file)
var (
	instance ConfigManager
	once     sync.Once
)

// ConfigManager is the interface for config management
type ConfigManager interface {
	// GetConfig returns the current config
	GetConfig(ctx context.Context, tick uint64) (FullConfig, error)
	// GetLastConfigHash returns the hash of the last successfully parsed
	// config file, or "" when nothing has been read yet
	GetLastConfigHash() string
}

// parsedCacheEntry pairs a fully defaulted and validated FullConfig with the
// xxhash of the raw file bytes it was parsed from. The control loop reads the
// config on every tick; when the hash is unchanged we hand back the cached
// struct and skip the yaml.Unmarshal entirely. The cached value is treated as
// read-only, callers clone before mutating.
type parsedCacheEntry struct {
	parsed FullConfig
	hash   uint64
}

// FileConfigManager implements the ConfigManager interface by reading from a file
type FileConfigManager struct {
	// configPath is the path to the config file
	configPath string

	// fsService handles filesystem operations
	fsService filesystem.Service

	// logger is the logger for the config manager
	logger *zap.SugaredLogger

	// mutexAtomicUpdate for full cycle read and write access (atomic update) to the config file
	// all writes to the config need to happen under this mutex -> writeConfig is therefore not exposed
	// the goal is to prevent two read/write cycles happening at the same time
	// we use our own implementation of a context aware mutex here to avoid deadlocks
	mutexAtomicUpdate ctxmutex.CtxMutex

	// simple mutex for read access or write access to the config file
	// it will be used by GetConfig and writeConfig
	// this mutex will allow multiple GetConfig calls to happen in parallel
	// it will prevent multiple reads or read/write cycles to happen at the same time
	// we use our own implementation of a context aware mutex here to avoid deadlocks
	mutexReadOrWrite ctxrwmutex.CtxRWMutex

	// cacheMu guards cache; GetConfig runs under a read lock so the cache
	// needs its own mutex
	cacheMu sync.Mutex
	cache   parsedCacheEntry
}

// NewFileConfigManager creates a new FileConfigManager
// Note: This should only be used in tests or if you need a custom config manager.
// Prefer NewFileConfigManagerWithBackoff() for application use.
func NewFileConfigManager() *FileConfigManager {
	return &FileConfigManager{
		configPath:        DefaultConfigPath,
		fsService:         filesystem.NewDefaultService(),
		logger:            logger.For(logger.ComponentConfigManager),
		mutexAtomicUpdate: *ctxmutex.NewCtxMutex(),
		mutexReadOrWrite:  *ctxrwmutex.NewCtxRWMutex(),
	}
}

// WithFileSystemService allows setting a custom filesystem service
// useful for testing or advanced use cases
func (m *FileConfigManager) WithFileSystemService(fsService filesystem.Service) *FileConfigManager {
	m.fsService = fsService
	return m
}

// WithConfigPath points the manager at a non-default config file, e.g. when
// dataDir is overridden on the command line.
func (m *FileConfigManager) WithConfigPath(path string) *FileConfigManager {
	m.configPath = path
	return m
}

// GetConfigWithOverwritesOrCreateNew reads the config file, or creates it
// with defaults when missing, applies the given overrides and persists the
// result. It is used once at startup to fold environment overrides into the
// on-disk config. The whole read-modify-write cycle runs under the atomic
// update mutex.
func (m *FileConfigManager) GetConfigWithOverwritesOrCreateNew(ctx context.Context, configOverride FullConfig) (FullConfig, error) {
	if err := m.mutexAtomicUpdate.Lock(ctx); err != nil {
		return FullConfig{}, fmt.Errorf("failed to lock config file: %w", err)
	}
	defer m.mutexAtomicUpdate.Unlock()

	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	// A fresh install gets the full default config, including the quiet
	// hours window. An existing file keeps whatever the user chose.
	var config FullConfig

	config.Agent.MetricsPort = constants.DefaultMetricsPort
	config.Agent.APIPort = constants.DefaultAPIPort
	config.Agent.DataDir = constants.DefaultDataDir
	config.Backup.IntervalMinutes = constants.DefaultBackupIntervalMinutes
	config.Backup.MaxBackups = constants.DefaultMaxBackups
	config.Backup.QuietHours = QuietHoursConfig{
		Start: constants.DefaultQuietHoursStart,
		End:   constants.DefaultQuietHoursEnd,
	}

	exists, err := m.fsService.FileExists(ctx, m.configPath)
	switch {
	case err != nil:
		m.logger.Warnf("failed to check if config file exists in %s: %v", m.configPath, err)
	case exists:
		config, err = m.GetConfig(ctx, 0)
		if err != nil {
			return FullConfig{}, fmt.Errorf("failed to get config that exists: %w", err)
		}
	}

	// Apply overrides
	if configOverride.Agent.MetricsPort > 0 {
		config.Agent.MetricsPort = configOverride.Agent.MetricsPort
	}

	if configOverride.Agent.APIPort > 0 {
		config.Agent.APIPort = configOverride.Agent.APIPort
	}

	if configOverride.Agent.DataDir != "" {
		config.Agent.DataDir = configOverride.Agent.DataDir
	}

	if configOverride.Agent.Location != nil {
		config.Agent.Location = configOverride.Agent.Location
	}

	// Persist the updated config
	if err := m.writeConfig(ctx, config); err != nil {
		return FullConfig{}, fmt.Errorf("failed to write new config: %w", err)
	}

	return config, nil
}

// GetConfig returns the current config, always reading fresh from disk. The
// returned config has defaults applied and has passed Validate.
func (m *FileConfigManager) GetConfig(ctx context.Context, tick uint64) (FullConfig, error) {
	// we use a read lock here, because we only read the config file
	err := m.mutexReadOrWrite.RLock(ctx)
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to lock config file: %w", err)
	}
	defer m.mutexReadOrWrite.RUnlock()

	// Check if context is already cancelled
	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	// Create the directory if it doesn't exist
	dir := filepath.Dir(m.configPath)
	if err := m.fsService.EnsureDirectory(ctx, dir); err != nil {
		return FullConfig{}, fmt.Errorf("failed to create config directory: %w", err)
	}

	// Check if the file exists
	exists, err := m.fsService.FileExists(ctx, m.configPath)
	if err != nil {
		return FullConfig{}, err
	}

	if !exists {
		return FullConfig{}, fmt.Errorf("config file does not exist: %s", m.configPath)
	}

	// Check if context is already cancelled
	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	// Read the file
	data, err := m.fsService.ReadFile(ctx, m.configPath)
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	return m.parseConfig(data)
}

// parseConfig turns raw file bytes into a defaulted, validated FullConfig,
// short-circuiting through the hash cache when the bytes are unchanged.
func (m *FileConfigManager) parseConfig(data []byte) (FullConfig, error) {
	sum := xxhash.Sum64(data)

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	if m.cache.hash == sum && sum != 0 {
		return m.cache.parsed, nil
	}

	var config FullConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return FullConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Note: sometimes it can happen that due to a filesystem error the file
	// is empty. In this case we want to return an error, which is then
	// ignored by the control loop and will retry in the next cycle
	if reflect.DeepEqual(config, FullConfig{}) {
		return FullConfig{}, fmt.Errorf("config file is empty: %s", m.configPath)
	}

	config.ApplyDefaults()

	if err := Validate(config); err != nil {
		return FullConfig{}, err
	}

	m.cache = parsedCacheEntry{parsed: config, hash: sum}

	return config, nil
}

// GetLastConfigHash returns the xxhash of the last successfully parsed
// config file bytes, formatted as 16 hex digits.
func (m *FileConfigManager) GetLastConfigHash() string {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	if m.cache.hash == 0 {
		return ""
	}

	return fmt.Sprintf("%016x", m.cache.hash)
}

// writeConfig writes the config to the file
// it should not be exposed or used outside of the config manager, due to potential race conditions
func (m *FileConfigManager) writeConfig(ctx context.Context, config FullConfig) error {
	// we use a write lock here, because we write the config file
	err := m.mutexReadOrWrite.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to lock config file: %w", err)
	}
	defer m.mutexReadOrWrite.Unlock()

	// Check if context is already cancelled
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Create the directory if it doesn't exist
	dir := filepath.Dir(m.configPath)
	if err := m.fsService.EnsureDirectory(ctx, dir); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal the config to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write the file
	if err := m.fsService.WriteFile(ctx, m.configPath, data, constants.FilePermissions); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.logger.Infof("Successfully wrote config to %s", m.configPath)

	return nil
}

// FileConfigManagerWithBackoff wraps a FileConfigManager and implements backoff for GetConfig errors
type FileConfigManagerWithBackoff struct {
	// The wrapped file config manager
	configManager *FileConfigManager

	// Backoff manager
	backoffManager *backoff.BackoffManager

	// Logger
	logger *zap.SugaredLogger
}

// NewFileConfigManagerWithBackoff creates a new FileConfigManagerWithBackoff with exponential backoff
func NewFileConfigManagerWithBackoff() (*FileConfigManagerWithBackoff, error) {
	if instance != nil {
		return nil, fmt.Errorf("config manager already initialized, only one instance is allowed")
	}

	once.Do(func() {
		log := logger.For(logger.ComponentConfigManager)

		instance = &FileConfigManagerWithBackoff{
			configManager:  NewFileConfigManager(),
			backoffManager: backoff.NewBackoffManager(backoff.DefaultConfig("ConfigManager", log)),
			logger:         log,
		}
	})

	return instance.(*FileConfigManagerWithBackoff), nil
}

// GetConfigWithOverwritesOrCreateNew wraps the FileConfigManager's GetConfigWithOverwritesOrCreateNew method
// it is used in main.go to get the config with overwrites or create a new one on startup
func (m *FileConfigManagerWithBackoff) GetConfigWithOverwritesOrCreateNew(ctx context.Context, config FullConfig) (FullConfig, error) {
	return m.configManager.GetConfigWithOverwritesOrCreateNew(ctx, config)
}

// WithFileSystemService allows setting a custom filesystem service on the wrapped FileConfigManager
// useful for testing or advanced use cases
func (m *FileConfigManagerWithBackoff) WithFileSystemService(fsService filesystem.Service) *FileConfigManagerWithBackoff {
	m.configManager.WithFileSystemService(fsService)
	return m
}

// WithConfigPath points the wrapped FileConfigManager at a non-default
// config file.
func (m *FileConfigManagerWithBackoff) WithConfigPath(path string) *FileConfigManagerWithBackoff {
	m.configManager.WithConfigPath(path)
	return m
}

// GetConfig returns the current config with backoff logic for failures
// This is a wrapper around the FileConfigManager's GetConfig method
// It adds backoff logic to handle temporary and permanent failures
// It will return either a temporary backoff error or a permanent failure error
func (m *FileConfigManagerWithBackoff) GetConfig(ctx context.Context, tick uint64) (FullConfig, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(logger.ComponentConfigManager, "get_config", time.Since(start))
	}()

	// Check if context is already cancelled
	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	// Check if we should skip operation due to backoff
	if m.backoffManager.ShouldSkipOperation(tick) {
		// Get appropriate backoff error (temporary or permanent)
		backoffErr := m.backoffManager.GetBackoffError(tick)

		// Log additional information for permanent failures
		if m.backoffManager.IsPermanentlyFailed() {
			sentry.ReportIssuef(sentry.IssueTypeError, m.logger, "ConfigManager is permanently failed. Last error: %v", m.backoffManager.GetLastError())
		}

		return FullConfig{}, backoffErr
	}

	// Try to fetch the config
	getConfigCtx, cancel := context.WithTimeout(ctx, constants.ConfigGetConfigTimeout)
	defer cancel()

	config, err := m.configManager.GetConfig(getConfigCtx, tick)
	if err != nil {
		m.backoffManager.SetError(err, tick)
		return FullConfig{}, err
	}

	// Reset backoff state on successful operation
	m.backoffManager.Reset()

	return config, nil
}

// GetLastConfigHash delegates to the wrapped FileConfigManager.
func (m *FileConfigManagerWithBackoff) GetLastConfigHash() string {
	return m.configManager.GetLastConfigHash()
}

// Reset forcefully resets the config manager's state, including permanent failure status
// This should be called when the parent component has taken action to address the failure
func (m *FileConfigManagerWithBackoff) Reset() {
	m.backoffManager.Reset()
}

// IsPermanentFailure returns true if the config manager has permanently failed
// This can be used by consumers to distinguish between temporary and permanent failures
func (m *FileConfigManagerWithBackoff) IsPermanentFailure() bool {
	return m.backoffManager.IsPermanentlyFailed()
}

// GetLastError returns the last error that occurred when fetching the config
func (m *FileConfigManagerWithBackoff) GetLastError() error {
	return m.backoffManager.GetLastError()
}
