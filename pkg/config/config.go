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
	"reflect"

	"github.com/tiendc/go-deepcopy"
)

type FullConfig struct {
	Agent    AgentConfig     `yaml:"agent"`            // Agent config, requires restart to take effect
	Services []ServiceConfig `yaml:"services"`         // Supervised services, can be updated while running
	Backup   BackupConfig    `yaml:"backup,omitempty"` // Backup cadence and retention
}

type AgentConfig struct {
	MetricsPort int            `yaml:"metricsPort"`        // Port to expose metrics on
	APIPort     int            `yaml:"apiPort"`            // Port for the status and backup API
	DataDir     string         `yaml:"dataDir,omitempty"`  // Root of the persisted layout, defaults to /data
	Location    map[int]string `yaml:"location,omitempty"` // Optional freeform hierarchy
}

// Desired states a supervised service accepts in its config.
const (
	DesiredStateRunning = "running"
	DesiredStateStopped = "stopped"
)

// FSMInstanceConfig is the config for a FSM instance
type FSMInstanceConfig struct {
	Name            string `yaml:"name"`
	DesiredFSMState string `yaml:"desiredState"`
}

// ServiceConfig contains configuration for one supervised service
type ServiceConfig struct {
	// For the FSM
	FSMInstanceConfig `yaml:",inline"`

	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	Dir            string            `yaml:"dir,omitempty"`
	DependsOn      []string          `yaml:"dependsOn,omitempty"`
	Probe          ProbeConfig       `yaml:"probe,omitempty"`
	Restart        RestartConfig     `yaml:"restart,omitempty"`
	StartupTimeout Duration          `yaml:"startupTimeout,omitempty"`
	ShutdownGrace  Duration          `yaml:"shutdownGrace,omitempty"`
}

// Equal checks if two ServiceConfigs are equal
func (c ServiceConfig) Equal(other ServiceConfig) bool {
	return reflect.DeepEqual(c, other)
}

// ProbeType selects the health probe implementation for a service.
type ProbeType string

const (
	// ProbeTypeProcess checks only that the process is alive.
	ProbeTypeProcess ProbeType = "process"
	// ProbeTypeHTTP expects a 2xx from the configured endpoint.
	ProbeTypeHTTP ProbeType = "http"
	// ProbeTypeTCP expects a successful connect to the configured address.
	ProbeTypeTCP ProbeType = "tcp"
	// ProbeTypeMetrics scrapes a Prometheus exposition endpoint.
	ProbeTypeMetrics ProbeType = "metrics"
)

// ProbeConfig describes how a service's health is checked. Endpoint is used
// by the http and metrics probes, Address by the tcp probe. Metric optionally
// names a gauge that must be present and nonzero for the metrics probe to
// pass.
type ProbeConfig struct {
	Type     ProbeType `yaml:"type,omitempty"`
	Endpoint string    `yaml:"endpoint,omitempty"`
	Address  string    `yaml:"address,omitempty"`
	Metric   string    `yaml:"metric,omitempty"`
	Interval Duration  `yaml:"interval,omitempty"`
	Timeout  Duration  `yaml:"timeout,omitempty"`
}

// RestartConfig bounds the restart policy of one service.
type RestartConfig struct {
	MaxAttempts int      `yaml:"maxAttempts,omitempty"`
	BackoffBase Duration `yaml:"backoffBase,omitempty"`
	BackoffCap  Duration `yaml:"backoffCap,omitempty"`
}

// BackupConfig drives the backup scheduler and rotation.
type BackupConfig struct {
	IntervalMinutes int              `yaml:"intervalMinutes,omitempty"`
	MaxBackups      int              `yaml:"maxBackups,omitempty"`
	QuietHours      QuietHoursConfig `yaml:"quietHours,omitempty"`
}

// QuietHoursConfig is a daily "HH:MM" window in which scheduled backups are
// suppressed. Both fields empty disables the window.
type QuietHoursConfig struct {
	Start string `yaml:"start,omitempty"`
	End   string `yaml:"end,omitempty"`
}

// Clone creates a deep copy of FullConfig
func (c FullConfig) Clone() FullConfig {
	var clone FullConfig
	deepcopy.Copy(&clone.Agent, &c.Agent)
	deepcopy.Copy(&clone.Services, &c.Services)
	deepcopy.Copy(&clone.Backup, &c.Backup)
	return clone
}
