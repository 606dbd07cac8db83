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

// Package hostmonitor samples the machine the agent runs on. Its readings
// are informational: they fill the host block of the status payload and
// never feed the aggregate service health.
package hostmonitor

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/models"
)

// Service defines the interface for the host monitor service
type Service interface {
	// GetStatus collects and returns the current host metrics
	GetStatus(ctx context.Context) (*models.Host, error)
}

// HostMonitorService implements the Service interface
type HostMonitorService struct {
	logger *zap.SugaredLogger
	// dataPath is the partition whose usage is reported as disk usage.
	dataPath string
}

// HostMonitorOption configures a HostMonitorService.
type HostMonitorOption func(*HostMonitorService)

// WithDataPath overrides the partition that disk metrics are taken from.
func WithDataPath(path string) HostMonitorOption {
	return func(s *HostMonitorService) {
		s.dataPath = path
	}
}

// NewHostMonitorService creates a new host monitor service instance
func NewHostMonitorService(opts ...HostMonitorOption) *HostMonitorService {
	s := &HostMonitorService{
		logger:   logger.For(logger.ComponentHostMonitor),
		dataPath: constants.DefaultDataDir,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GetStatus collects CPU, memory and disk readings. A failing collector is
// logged and leaves its block nil so one broken source does not blank the
// whole host view.
func (s *HostMonitorService) GetStatus(ctx context.Context) (*models.Host, error) {
	host := &models.Host{
		Health: &models.Health{
			Message:       "Host is operating normally",
			ObservedState: constants.HostStateRunning,
			DesiredState:  constants.HostStateRunning,
			Category:      models.Active,
		},
		Architecture: models.HostArchitecture(runtime.GOARCH),
	}

	cpuBlock, err := s.getCPUMetrics(ctx)
	if err != nil {
		s.logger.Errorf("Failed to get CPU metrics: %v", err)
	} else {
		host.CPU = cpuBlock
	}

	memBlock, err := s.getMemoryMetrics(ctx)
	if err != nil {
		s.logger.Errorf("Failed to get memory metrics: %v", err)
	} else {
		host.Memory = memBlock
	}

	diskBlock, err := s.getDiskMetrics()
	if err != nil {
		s.logger.Errorf("Failed to get disk metrics: %v", err)
	} else {
		host.Disk = diskBlock
	}

	if resource := firstDegraded(host); resource != "" {
		host.Health.Message = fmt.Sprintf("%s utilization critical", resource)
		host.Health.ObservedState = constants.HostStateCritical
		host.Health.Category = models.Degraded
	}

	return host, nil
}

// firstDegraded names the first resource whose health degraded, empty when
// all readings are fine.
func firstDegraded(host *models.Host) string {
	degraded := func(h *models.Health) bool {
		return h != nil && h.Category == models.Degraded
	}

	switch {
	case host.CPU != nil && degraded(host.CPU.Health):
		return "CPU"
	case host.Memory != nil && degraded(host.Memory.Health):
		return "Memory"
	case host.Disk != nil && degraded(host.Disk.Health):
		return "Disk"
	}

	return ""
}

// getCPUMetrics samples overall CPU usage. The zero interval compares
// against the previous sample instead of blocking, so the first reading of
// a fresh process reports zero.
func (s *HostMonitorService) getCPUMetrics(ctx context.Context) (*models.CPU, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to sample cpu usage: %w", err)
	}
	var usedPercent float64
	if len(percents) > 0 {
		usedPercent = percents[0]
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to count cpu cores: %w", err)
	}

	return &models.CPU{
		Health:      resourceHealth("CPU", usedPercent, constants.CPUCriticalPercent),
		UsedPercent: usedPercent,
		CoreCount:   cores,
	}, nil
}

// getMemoryMetrics reads physical memory usage.
func (s *HostMonitorService) getMemoryMetrics(ctx context.Context) (*models.Memory, error) {
	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read virtual memory: %w", err)
	}

	return &models.Memory{
		Health:     resourceHealth("Memory", vmStat.UsedPercent, constants.MemoryCriticalPercent),
		UsedBytes:  float64(vmStat.Used),
		TotalBytes: float64(vmStat.Total),
	}, nil
}

// getDiskMetrics reads usage of the data partition through statfs. Frsize
// is preferred over Bsize when set: some container runtimes report a Bsize
// far larger than the actual fundamental block size, which would inflate
// every byte count derived from it.
func (s *HostMonitorService) getDiskMetrics() (*models.Disk, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.dataPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem at %s: %w", s.dataPath, err)
	}

	bSize := uint64(stat.Bsize)
	if stat.Frsize > 0 {
		bSize = uint64(stat.Frsize)
	}

	totalBytes := stat.Blocks * bSize
	usedBytes := (stat.Blocks - stat.Bfree) * bSize

	var usedPercent float64
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100.0
	}

	return &models.Disk{
		Health:                  resourceHealth("Disk", usedPercent, constants.DiskCriticalPercent),
		DataPartitionUsedBytes:  float64(usedBytes),
		DataPartitionTotalBytes: float64(totalBytes),
	}, nil
}

// resourceHealth classifies one resource reading against its critical
// threshold. Crossing the warning fraction only changes the message, the
// category degrades at the critical threshold.
func resourceHealth(resource string, usedPercent float64, criticalPercent float64) *models.Health {
	health := &models.Health{
		Message:       fmt.Sprintf("%s utilization normal", resource),
		ObservedState: constants.HostStateNormal,
		DesiredState:  constants.HostStateNormal,
		Category:      models.Active,
	}

	switch {
	case usedPercent >= criticalPercent:
		health.Message = fmt.Sprintf("%s utilization critical", resource)
		health.ObservedState = constants.HostStateCritical
		health.Category = models.Degraded
	case usedPercent >= criticalPercent*constants.HostWarningFraction:
		health.Message = fmt.Sprintf("%s utilization warning", resource)
		health.ObservedState = constants.HostStateWarning
	}

	return health
}
