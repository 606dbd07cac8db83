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
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/warden-systems/warden-core/pkg/constants"
)

func minimalService(name string) ServiceConfig {
	svc := ServiceConfig{
		FSMInstanceConfig: FSMInstanceConfig{Name: name, DesiredFSMState: DesiredStateRunning},
		Command:           "/usr/local/bin/" + name,
	}
	applyServiceDefaults(&svc)

	return svc
}

func validFullConfig(services ...ServiceConfig) FullConfig {
	cfg := FullConfig{Services: services}
	cfg.ApplyDefaults()

	return cfg
}

var _ = Describe("ApplyDefaults", func() {
	It("fills agent and backup fields from constants", func() {
		var cfg FullConfig
		cfg.ApplyDefaults()

		Expect(cfg.Agent.MetricsPort).To(Equal(constants.DefaultMetricsPort))
		Expect(cfg.Agent.APIPort).To(Equal(constants.DefaultAPIPort))
		Expect(cfg.Agent.DataDir).To(Equal(constants.DefaultDataDir))
		Expect(cfg.Backup.IntervalMinutes).To(Equal(constants.DefaultBackupIntervalMinutes))
		Expect(cfg.Backup.MaxBackups).To(Equal(constants.DefaultMaxBackups))
	})

	It("leaves quiet hours disabled when unset", func() {
		var cfg FullConfig
		cfg.ApplyDefaults()

		Expect(cfg.Backup.QuietHours.Start).To(BeEmpty())
		Expect(cfg.Backup.QuietHours.End).To(BeEmpty())
	})

	It("fills per-service fields", func() {
		cfg := FullConfig{
			Services: []ServiceConfig{{
				FSMInstanceConfig: FSMInstanceConfig{Name: "store"},
				Command:           "/usr/local/bin/store-server",
			}},
		}
		cfg.ApplyDefaults()

		svc := cfg.Services[0]
		Expect(svc.DesiredFSMState).To(Equal(DesiredStateRunning))
		Expect(svc.Probe.Type).To(Equal(ProbeTypeProcess))
		Expect(svc.Probe.Interval.AsDuration()).To(Equal(constants.DefaultProbeInterval))
		Expect(svc.Probe.Timeout.AsDuration()).To(Equal(constants.DefaultProbeTimeout))
		Expect(svc.Restart.MaxAttempts).To(Equal(constants.DefaultMaxRestartAttempts))
		Expect(svc.Restart.BackoffBase.AsDuration()).To(Equal(constants.DefaultRestartBackoffBase))
		Expect(svc.Restart.BackoffCap.AsDuration()).To(Equal(constants.DefaultRestartBackoffCap))
		Expect(svc.StartupTimeout.AsDuration()).To(Equal(constants.DefaultStartupTimeout))
		Expect(svc.ShutdownGrace.AsDuration()).To(Equal(constants.DefaultShutdownGracePeriod))
	})

	It("does not touch explicitly set values", func() {
		cfg := FullConfig{
			Agent: AgentConfig{MetricsPort: 9999},
			Services: []ServiceConfig{{
				FSMInstanceConfig: FSMInstanceConfig{Name: "store", DesiredFSMState: DesiredStateStopped},
				Command:           "/usr/local/bin/store-server",
				Probe:             ProbeConfig{Type: ProbeTypeTCP, Address: "127.0.0.1:9000"},
			}},
		}
		cfg.ApplyDefaults()

		Expect(cfg.Agent.MetricsPort).To(Equal(9999))
		Expect(cfg.Services[0].DesiredFSMState).To(Equal(DesiredStateStopped))
		Expect(cfg.Services[0].Probe.Type).To(Equal(ProbeTypeTCP))
	})
})

var _ = Describe("Validate", func() {
	It("accepts a defaulted config", func() {
		cfg := validFullConfig(minimalService("store"), minimalService("indexer"))

		Expect(Validate(cfg)).To(Succeed())
	})

	It("rejects a service without a name", func() {
		svc := minimalService("store")
		svc.Name = ""
		cfg := validFullConfig(svc)

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindInvalidValue))
	})

	It("rejects duplicate service names", func() {
		cfg := validFullConfig(minimalService("store"), minimalService("store"))

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())

		cfgErr := AsConfigError(err)
		Expect(cfgErr.Kind).To(Equal(KindInvalidValue))
		Expect(cfgErr.Services).To(ConsistOf("store"))
	})

	It("rejects an empty command", func() {
		svc := minimalService("store")
		svc.Command = ""
		cfg := validFullConfig(svc)

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindInvalidValue))
		Expect(err.Error()).To(ContainSubstring("command"))
	})

	It("rejects an unknown desired state", func() {
		svc := minimalService("store")
		svc.DesiredFSMState = "paused"
		cfg := validFullConfig(svc)

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindInvalidValue))
	})

	It("rejects non-positive timeouts", func() {
		svc := minimalService("store")
		svc.StartupTimeout = Duration(-time.Second)
		cfg := validFullConfig(svc)

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindInvalidValue))
	})

	It("rejects a backoff cap below the base", func() {
		svc := minimalService("store")
		svc.Restart.BackoffBase = Duration(10 * time.Second)
		svc.Restart.BackoffCap = Duration(time.Second)
		cfg := validFullConfig(svc)

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindInvalidValue))
	})

	It("rejects an http probe without an endpoint", func() {
		svc := minimalService("store")
		svc.Probe.Type = ProbeTypeHTTP
		cfg := validFullConfig(svc)

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindInvalidValue))
		Expect(err.Error()).To(ContainSubstring("endpoint"))
	})

	It("rejects a probe endpoint that is not a URL", func() {
		svc := minimalService("store")
		svc.Probe.Type = ProbeTypeHTTP
		svc.Probe.Endpoint = "not a url"
		cfg := validFullConfig(svc)

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindInvalidValue))
	})

	It("rejects a tcp probe without an address", func() {
		svc := minimalService("store")
		svc.Probe.Type = ProbeTypeTCP
		cfg := validFullConfig(svc)

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindInvalidValue))
	})

	It("rejects an unknown probe type", func() {
		svc := minimalService("store")
		svc.Probe.Type = "ping"
		cfg := validFullConfig(svc)

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindInvalidValue))
	})

	It("rejects a backup interval below one minute", func() {
		cfg := validFullConfig(minimalService("store"))
		cfg.Backup.IntervalMinutes = -5

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindInvalidValue))
	})

	It("rejects maxBackups below one", func() {
		cfg := validFullConfig(minimalService("store"))
		cfg.Backup.MaxBackups = -1

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindInvalidValue))
	})

	It("rejects malformed quiet hours", func() {
		cfg := validFullConfig(minimalService("store"))
		cfg.Backup.QuietHours = QuietHoursConfig{Start: "25:99", End: "06:00"}

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindMalformedQuietHours))
	})

	It("rejects half-configured quiet hours", func() {
		cfg := validFullConfig(minimalService("store"))
		cfg.Backup.QuietHours = QuietHoursConfig{Start: "23:00"}

		err := Validate(cfg)
		Expect(err).To(HaveOccurred())
		Expect(AsConfigError(err).Kind).To(Equal(KindMalformedQuietHours))
	})
})

var _ = Describe("ConfigError", func() {
	It("includes the services in its message", func() {
		err := NewConfigError(KindCyclicDependency, "dependency cycle detected", "a", "b", "c")

		Expect(err.Error()).To(ContainSubstring("cyclic_dependency"))
		Expect(err.Error()).To(ContainSubstring("a, b, c"))
	})

	It("is detectable through wrapping", func() {
		err := NewConfigError(KindUnknownDependency, "store depends on unknown service cache", "store")
		wrapped := fmt.Errorf("loading config: %w", err)

		Expect(IsConfigError(wrapped)).To(BeTrue())
		Expect(AsConfigError(wrapped).Kind).To(Equal(KindUnknownDependency))
	})

	It("does not match arbitrary errors", func() {
		Expect(IsConfigError(errors.New("disk on fire"))).To(BeFalse())
		Expect(AsConfigError(errors.New("disk on fire"))).To(BeNil())
	})
})
