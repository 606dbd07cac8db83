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

package api

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/fsm"
	"github.com/warden-systems/warden-core/pkg/fsm/supervised"
	"github.com/warden-systems/warden-core/pkg/models"
	"github.com/warden-systems/warden-core/pkg/service/process"
)

func serviceCfg(name string, deps ...string) config.ServiceConfig {
	return config.ServiceConfig{
		FSMInstanceConfig: config.FSMInstanceConfig{Name: name, DesiredFSMState: config.DesiredStateRunning},
		DependsOn:         deps,
	}
}

var _ = Describe("BuildSystemStatus", func() {
	now := time.Date(2026, 1, 14, 15, 30, 0, 0, time.UTC)

	It("degrades gracefully without a snapshot", func() {
		status := BuildSystemStatus(nil, models.BackupStatus{}, nil, nil, now)

		Expect(status.OverallHealth).To(Equal(models.OverallHealthy))
		Expect(status.Services).To(BeEmpty())
		Expect(status.Release.Version).NotTo(BeEmpty())
		Expect(status.CollectedAt).To(Equal(now))
	})

	It("lists configured but unmaterialized services as pending", func() {
		snap := snapshotWith([]config.ServiceConfig{serviceCfg("store")}, map[string]*fsm.FSMInstanceSnapshot{})

		status := BuildSystemStatus(snap, models.BackupStatus{}, nil, nil, now)

		Expect(status.Services).To(HaveLen(1))
		Expect(status.Services[0].Health.ObservedState).To(Equal("pending"))
		Expect(status.Services[0].Health.Category).To(Equal(models.Neutral))
		// A pending service counts as settling, not healthy.
		Expect(status.OverallHealth).To(Equal(models.OverallDegraded))
	})

	It("keeps services in declaration order with leftovers sorted after", func() {
		snap := snapshotWith(
			[]config.ServiceConfig{serviceCfg("zeta"), serviceCfg("alpha")},
			map[string]*fsm.FSMInstanceSnapshot{
				"zeta":    runningInstance("zeta"),
				"alpha":   runningInstance("alpha"),
				"orphan2": runningInstance("orphan2"),
				"orphan1": runningInstance("orphan1"),
			},
		)

		status := BuildSystemStatus(snap, models.BackupStatus{}, nil, nil, now)

		names := make([]string, 0, len(status.Services))
		for _, svc := range status.Services {
			names = append(names, svc.Name)
		}
		Expect(names).To(Equal([]string{"zeta", "alpha", "orphan1", "orphan2"}))
	})

	It("fills the per-service block from the observed state", func() {
		inst := runningInstance("store")
		observed := inst.LastObservedState.(*supervised.ServiceObservedStateSnapshot)
		observed.Config.DependsOn = []string{"db"}
		observed.ServiceInfo = process.Info{Pid: 4242, Uptime: 120}
		observed.LastProbe.At = now.Add(-2 * time.Second)
		observed.ProbeFailures = 1

		snap := snapshotWith([]config.ServiceConfig{serviceCfg("store", "db")}, map[string]*fsm.FSMInstanceSnapshot{"store": inst})

		status := BuildSystemStatus(snap, models.BackupStatus{}, nil, nil, now)

		svc := status.Services[0]
		Expect(svc.Pid).To(Equal(4242))
		Expect(svc.UptimeSeconds).To(Equal(int64(120)))
		Expect(svc.DependsOn).To(Equal([]string{"db"}))
		Expect(svc.ProbeFailures).To(Equal(1))
		Expect(svc.LastProbeAt).NotTo(BeNil())
		Expect(svc.Health.Message).To(ContainSubstring("1 consecutive probe failure"))
		// Below the threshold the service is debounced, not unhealthy.
		Expect(svc.Health.Category).To(Equal(models.Active))
		Expect(status.OverallHealth).To(Equal(models.OverallDegraded))
	})

	It("marks a running service failing probes as degraded", func() {
		inst := runningInstance("store")
		inst.LastObservedState.(*supervised.ServiceObservedStateSnapshot).Unhealthy = true

		snap := snapshotWith([]config.ServiceConfig{serviceCfg("store")}, map[string]*fsm.FSMInstanceSnapshot{"store": inst})

		status := BuildSystemStatus(snap, models.BackupStatus{}, nil, nil, now)

		Expect(status.Services[0].Health.Category).To(Equal(models.Degraded))
		Expect(status.Services[0].Health.Message).To(Equal("Service failing probes"))
		Expect(status.OverallHealth).To(Equal(models.OverallDegraded))
	})

	It("reports a terminally failed service as critical", func() {
		inst := runningInstance("store")
		inst.CurrentState = supervised.OperationalStateFailed

		snap := snapshotWith([]config.ServiceConfig{serviceCfg("store")}, map[string]*fsm.FSMInstanceSnapshot{"store": inst})

		status := BuildSystemStatus(snap, models.BackupStatus{}, nil, nil, now)

		Expect(status.OverallHealth).To(Equal(models.OverallCritical))
		Expect(status.Services[0].Health.Message).To(ContainSubstring("operator intervention"))
	})

	It("announces the pending restart attempt", func() {
		inst := runningInstance("store")
		inst.CurrentState = supervised.OperationalStateRestarting
		observed := inst.LastObservedState.(*supervised.ServiceObservedStateSnapshot)
		observed.RestartAttempts = 1
		observed.NextRestartAt = now.Add(2 * time.Second)

		snap := snapshotWith([]config.ServiceConfig{serviceCfg("store")}, map[string]*fsm.FSMInstanceSnapshot{"store": inst})

		status := BuildSystemStatus(snap, models.BackupStatus{}, nil, nil, now)

		Expect(status.Services[0].Health.Message).To(Equal("Restart attempt 2 pending"))
		Expect(status.Services[0].Health.Category).To(Equal(models.Degraded))
	})

	It("names the dependency a starting service waits on", func() {
		inst := runningInstance("store")
		inst.CurrentState = supervised.OperationalStateStarting
		inst.LastObservedState.(*supervised.ServiceObservedStateSnapshot).BlockingDependency = "db"

		snap := snapshotWith([]config.ServiceConfig{serviceCfg("store", "db")}, map[string]*fsm.FSMInstanceSnapshot{"store": inst})

		status := BuildSystemStatus(snap, models.BackupStatus{}, nil, nil, now)

		Expect(status.Services[0].Health.Message).To(Equal("Waiting for dependency db"))
	})

	Describe("quiet hours", func() {
		snapWithWindow := func(start, end string) *fsm.SystemSnapshot {
			snap := snapshotWith(nil, map[string]*fsm.FSMInstanceSnapshot{})
			snap.CurrentConfig.Backup.QuietHours = config.QuietHoursConfig{Start: start, End: end}

			return snap
		}

		It("flags a time inside a midnight-spanning window", func() {
			late := time.Date(2026, 1, 14, 23, 30, 0, 0, time.UTC)

			status := BuildSystemStatus(snapWithWindow("22:00", "06:00"), models.BackupStatus{}, nil, nil, late)
			Expect(status.Backups.InQuietHours).To(BeTrue())
		})

		It("stays clear outside the window", func() {
			status := BuildSystemStatus(snapWithWindow("22:00", "06:00"), models.BackupStatus{}, nil, nil, now)
			Expect(status.Backups.InQuietHours).To(BeFalse())
		})

		It("treats a missing window as always clear", func() {
			status := BuildSystemStatus(snapshotWith(nil, nil), models.BackupStatus{}, nil, nil, now)
			Expect(status.Backups.InQuietHours).To(BeFalse())
		})
	})
})
