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

package models

import "time"

// OverallHealth classifies the system as a whole.
type OverallHealth string

const (
	// OverallHealthy means every service is running and passing its probes.
	OverallHealthy OverallHealth = "healthy"
	// OverallDegraded means at least one service is starting, restarting or
	// accumulating probe failures, but nothing is terminally failed.
	OverallDegraded OverallHealth = "degraded"
	// OverallCritical means at least one service exhausted its restart
	// budget and sits in the terminal failed state.
	OverallCritical OverallHealth = "critical"
)

// SystemStatus is the schema of the status query answered by the agent.
type SystemStatus struct {
	OverallHealth OverallHealth   `json:"overallHealth"`
	Services      []ServiceStatus `json:"services"`
	Backups       BackupStatus    `json:"backups"`
	Host          *Host           `json:"host,omitempty"`
	Events        []Event         `json:"events,omitempty"`
	Release       Release         `json:"release"`
	CollectedAt   time.Time       `json:"collectedAt"`
}

type HealthCategory int

const (
	Neutral HealthCategory = iota
	Active
	Degraded
)

type Health struct {
	// Human-readable message describing the health state
	Message string `json:"message"`
	// Observed state of the component
	ObservedState string `json:"state"`
	// Desired state of the component
	DesiredState string `json:"desiredState"`
	// Category of the health state for easy classification
	Category HealthCategory `json:"category"`
}

// ServiceStatus is the per-service slice of the status payload.
type ServiceStatus struct {
	Name   string  `json:"name"`
	Health *Health `json:"health"`
	// Dependencies in declaration order.
	DependsOn []string `json:"dependsOn,omitempty"`
	// Restart attempts consumed since the last successful run.
	RestartAttempts int `json:"restartAttempts"`
	// Consecutive probe failures counted toward the unhealthy threshold.
	ProbeFailures int        `json:"probeFailures"`
	LastProbeAt   *time.Time `json:"lastProbeAt,omitempty"`
	Pid           int        `json:"pid,omitempty"`
	UptimeSeconds int64      `json:"uptimeSeconds,omitempty"`
}

// BackupStatus summarizes state continuity in the status payload.
type BackupStatus struct {
	// Last holds the most recent backups, newest first, at most three.
	Last            []BackupSummary `json:"last"`
	NextScheduledAt *time.Time      `json:"nextScheduledAt,omitempty"`
	// InQuietHours reports whether scheduled backups are currently suppressed.
	InQuietHours bool `json:"inQuietHours"`
	// InProgress reports whether a backup or restore is running right now.
	InProgress bool `json:"inProgress"`
}

// BackupSummary is the wire form of a backup listing entry.
type BackupSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Reason    string    `json:"reason"`
	SizeBytes int64     `json:"sizeBytes"`
	// Artifacts is the number of files captured in the manifest.
	Artifacts int `json:"artifacts"`
}

type HostArchitecture string

const (
	HostArchitectureArm64 HostArchitecture = "arm64"
	HostArchitectureAmd64 HostArchitecture = "amd64"
)

// Host carries resource usage of the machine the agent runs on.
// Informational only, it never feeds the overall health verdict.
type Host struct {
	Health       *Health          `json:"health"`
	CPU          *CPU             `json:"cpu"`
	Disk         *Disk            `json:"disk"`
	Memory       *Memory          `json:"memory"`
	Architecture HostArchitecture `json:"architecture"`
}

type CPU struct {
	Health *Health `json:"health"`
	// Usage across all cores in percent
	UsedPercent float64 `json:"usedPercent"`
	// Number of cores
	CoreCount int `json:"coreCount"`
}

type Disk struct {
	Health *Health `json:"health"`
	// Used bytes of the disk's data partition
	DataPartitionUsedBytes float64 `json:"dataPartitionUsedBytes"`
	// Total bytes of the disk's data partition
	DataPartitionTotalBytes float64 `json:"dataPartitionTotalBytes"`
}

type Memory struct {
	Health *Health `json:"health"`
	// Used bytes of physical memory
	UsedBytes float64 `json:"usedBytes"`
	// Total bytes of physical memory
	TotalBytes float64 `json:"totalBytes"`
}

type Release struct {
	Version string `json:"version"`
	Channel string `json:"channel"`
}
