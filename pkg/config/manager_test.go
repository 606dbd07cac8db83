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
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
)

var _ = Describe("ConfigManager", func() {
	var (
		mockFS        *filesystem.MockFileSystem
		configManager *FileConfigManager
		ctx           context.Context
		tick          uint64
	)

	BeforeEach(func() {
		mockFS = filesystem.NewMockFileSystem()
		ctx = context.Background()
		tick = uint64(0)
	})

	JustBeforeEach(func() {
		configManager = NewFileConfigManager()
		configManager.WithFileSystemService(mockFS)
	})

	Describe("GetConfig", func() {
		var (
			validYAML = `
agent:
  metricsPort: 9091
  apiPort: 9095
services:
  - name: store
    desiredState: running
    command: /usr/local/bin/store-server
    args: ["--db", "/data/store.db"]
    probe:
      type: http
      endpoint: "http://127.0.0.1:9000/healthz"
      interval: 5s
      timeout: 2s
    restart:
      maxAttempts: 3
      backoffBase: 1s
      backoffCap: 30s
    startupTimeout: 10s
    shutdownGrace: 5s
  - name: indexer
    command: /usr/local/bin/indexer
    dependsOn: [store]
backup:
  intervalMinutes: 30
  maxBackups: 3
  quietHours:
    start: "23:00"
    end: "06:00"
`
			invalidYAML = `services: - invalid: yaml: content`
		)

		Context("when file exists and contains valid YAML", func() {
			BeforeEach(func() {
				mockFS.WithEnsureDirectoryFunc(func(ctx context.Context, path string) error {
					Expect(path).To(Equal(filepath.Dir(DefaultConfigPath)))
					return nil
				})

				mockFS.WithFileExistsFunc(func(ctx context.Context, path string) (bool, error) {
					Expect(path).To(Equal(DefaultConfigPath))
					return true, nil
				})

				mockFS.WithReadFileFunc(func(ctx context.Context, path string) ([]byte, error) {
					Expect(path).To(Equal(DefaultConfigPath))
					return []byte(validYAML), nil
				})
			})

			It("should return the parsed config", func() {
				config, err := configManager.GetConfig(ctx, tick)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Agent.MetricsPort).To(Equal(9091))
				Expect(config.Services).To(HaveLen(2))

				store := config.Services[0]
				Expect(store.Name).To(Equal("store"))
				Expect(store.DesiredFSMState).To(Equal(DesiredStateRunning))
				Expect(store.Command).To(Equal("/usr/local/bin/store-server"))
				Expect(store.Args).To(Equal([]string{"--db", "/data/store.db"}))
				Expect(store.Probe.Type).To(Equal(ProbeTypeHTTP))
				Expect(store.Probe.Interval.AsDuration()).To(Equal(5 * time.Second))
				Expect(store.Restart.BackoffCap.AsDuration()).To(Equal(30 * time.Second))

				Expect(config.Backup.IntervalMinutes).To(Equal(30))
				Expect(config.Backup.QuietHours.Start).To(Equal("23:00"))
			})

			It("should fill defaults for sparse service entries", func() {
				config, err := configManager.GetConfig(ctx, tick)
				Expect(err).NotTo(HaveOccurred())

				indexer := config.Services[1]
				Expect(indexer.DesiredFSMState).To(Equal(DesiredStateRunning))
				Expect(indexer.DependsOn).To(Equal([]string{"store"}))
				Expect(indexer.Probe.Type).To(Equal(ProbeTypeProcess))
				Expect(indexer.Probe.Interval.AsDuration()).To(Equal(constants.DefaultProbeInterval))
				Expect(indexer.Restart.MaxAttempts).To(Equal(constants.DefaultMaxRestartAttempts))
				Expect(indexer.StartupTimeout.AsDuration()).To(Equal(constants.DefaultStartupTimeout))
			})

			It("should expose the hash of the parsed bytes", func() {
				Expect(configManager.GetLastConfigHash()).To(BeEmpty())

				_, err := configManager.GetConfig(ctx, tick)
				Expect(err).NotTo(HaveOccurred())

				first := configManager.GetLastConfigHash()
				Expect(first).To(HaveLen(16))

				_, err = configManager.GetConfig(ctx, tick+1)
				Expect(err).NotTo(HaveOccurred())
				Expect(configManager.GetLastConfigHash()).To(Equal(first))
			})
		})

		Context("when file does not exist", func() {
			BeforeEach(func() {
				mockFS.WithEnsureDirectoryFunc(func(ctx context.Context, path string) error {
					return nil
				})

				mockFS.WithFileExistsFunc(func(ctx context.Context, path string) (bool, error) {
					return false, nil
				})
			})

			It("should return an error", func() {
				_, err := configManager.GetConfig(ctx, tick)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("does not exist"))
			})
		})

		Context("when file contains invalid YAML", func() {
			BeforeEach(func() {
				mockFS.WithEnsureDirectoryFunc(func(ctx context.Context, path string) error {
					return nil
				})

				mockFS.WithFileExistsFunc(func(ctx context.Context, path string) (bool, error) {
					return true, nil
				})

				mockFS.WithReadFileFunc(func(ctx context.Context, path string) ([]byte, error) {
					return []byte(invalidYAML), nil
				})
			})

			It("should return a parse error", func() {
				_, err := configManager.GetConfig(ctx, tick)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when file is empty", func() {
			BeforeEach(func() {
				mockFS.WithEnsureDirectoryFunc(func(ctx context.Context, path string) error {
					return nil
				})

				mockFS.WithFileExistsFunc(func(ctx context.Context, path string) (bool, error) {
					return true, nil
				})

				mockFS.WithReadFileFunc(func(ctx context.Context, path string) ([]byte, error) {
					return []byte(""), nil
				})
			})

			It("should return an error", func() {
				_, err := configManager.GetConfig(ctx, tick)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("config file is empty"))
			})
		})

		Context("when the config fails validation", func() {
			theYAML := `
services:
  - name: store
    command: ""
`

			BeforeEach(func() {
				mockFS.WithEnsureDirectoryFunc(func(ctx context.Context, path string) error {
					return nil
				})

				mockFS.WithFileExistsFunc(func(ctx context.Context, path string) (bool, error) {
					return true, nil
				})

				mockFS.WithReadFileFunc(func(ctx context.Context, path string) ([]byte, error) {
					return []byte(theYAML), nil
				})
			})

			It("should surface a ConfigError and not cache the hash", func() {
				_, err := configManager.GetConfig(ctx, tick)
				Expect(err).To(HaveOccurred())
				Expect(IsConfigError(err)).To(BeTrue())
				Expect(configManager.GetLastConfigHash()).To(BeEmpty())
			})
		})

		Context("when the context is cancelled", func() {
			It("should return promptly with the context error", func() {
				cancelledCtx, cancel := context.WithCancel(ctx)
				cancel()

				_, err := configManager.GetConfig(cancelledCtx, tick)
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("GetConfigWithOverwritesOrCreateNew", func() {
		var written []byte

		BeforeEach(func() {
			written = nil

			mockFS.WithEnsureDirectoryFunc(func(ctx context.Context, path string) error {
				return nil
			})

			mockFS.WithWriteFileFunc(func(ctx context.Context, path string, data []byte, perm os.FileMode) error {
				Expect(path).To(Equal(DefaultConfigPath))
				written = data
				return nil
			})
		})

		Context("when no config file exists", func() {
			BeforeEach(func() {
				mockFS.WithFileExistsFunc(func(ctx context.Context, path string) (bool, error) {
					return false, nil
				})
			})

			It("should create a default config with overrides applied", func() {
				override := FullConfig{Agent: AgentConfig{MetricsPort: 7777}}

				config, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, override)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Agent.MetricsPort).To(Equal(7777))
				Expect(config.Agent.APIPort).To(Equal(constants.DefaultAPIPort))
				Expect(config.Agent.DataDir).To(Equal(constants.DefaultDataDir))
				Expect(config.Backup.MaxBackups).To(Equal(constants.DefaultMaxBackups))
				Expect(config.Backup.QuietHours.Start).To(Equal(constants.DefaultQuietHoursStart))
			})

			It("should persist the result", func() {
				_, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, FullConfig{})
				Expect(err).NotTo(HaveOccurred())

				Expect(written).NotTo(BeEmpty())

				var persisted FullConfig
				Expect(yaml.Unmarshal(written, &persisted)).To(Succeed())
				Expect(persisted.Agent.MetricsPort).To(Equal(constants.DefaultMetricsPort))
			})
		})

		Context("when a config file exists", func() {
			existingYAML := `
agent:
  metricsPort: 9091
  location:
    0: plant-a
services:
  - name: store
    command: /usr/local/bin/store-server
`

			BeforeEach(func() {
				mockFS.WithFileExistsFunc(func(ctx context.Context, path string) (bool, error) {
					return true, nil
				})

				mockFS.WithReadFileFunc(func(ctx context.Context, path string) ([]byte, error) {
					return []byte(existingYAML), nil
				})
			})

			It("should keep existing values that are not overridden", func() {
				override := FullConfig{Agent: AgentConfig{APIPort: 7070}}

				config, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, override)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Agent.MetricsPort).To(Equal(9091))
				Expect(config.Agent.APIPort).To(Equal(7070))
				Expect(config.Agent.Location).To(HaveKeyWithValue(0, "plant-a"))
				Expect(config.Services).To(HaveLen(1))
			})
		})
	})
})
