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

package fsm

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	internalfsm "github.com/warden-systems/warden-core/internal/fsm"
	"github.com/warden-systems/warden-core/pkg/backoff"
	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/serviceregistry"
)

var _ = Describe("BaseFSMManager", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		configs  []fakeInstanceConfig
		created  map[string]*fakeInstance
		manager  *BaseFSMManager[fakeInstanceConfig]
		services *serviceregistry.Registry
		loopTick uint64
	)

	// step runs one reconcile cycle. The manager's internal tick advances once
	// per call, so loopTick mirrors it.
	step := func() (error, bool) {
		loopTick++

		return manager.Reconcile(ctx, SystemSnapshot{Tick: loopTick}, services)
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		configs = nil
		created = make(map[string]*fakeInstance)
		manager = newFakeManager("TestManager", &configs, created)
		services = serviceregistry.NewMockRegistry()
		loopTick = 0
	})

	AfterEach(func() {
		cancel()
	})

	Describe("instance creation", func() {
		It("creates a configured instance and seeds its desired state", func() {
			configs = []fakeInstanceConfig{{Name: "alpha", DesiredState: "running", Generation: 1}}

			err, reconciled := step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciled).To(BeTrue())

			instance, ok := manager.GetInstance("alpha")
			Expect(ok).To(BeTrue())
			Expect(instance.GetDesiredFSMState()).To(Equal("running"))
			Expect(created).To(HaveKey("alpha"))
		})

		It("waits between creations so a fresh instance can settle", func() {
			configs = []fakeInstanceConfig{
				{Name: "alpha", DesiredState: "running"},
				{Name: "beta", DesiredState: "running"},
			}

			err, reconciled := step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciled).To(BeTrue())
			Expect(created).To(HaveKey("alpha"))

			for range TicksBeforeNextAdd - 1 {
				err, reconciled = step()
				Expect(err).NotTo(HaveOccurred())
				Expect(reconciled).To(BeFalse())
				Expect(created).NotTo(HaveKey("beta"))
			}

			err, reconciled = step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciled).To(BeTrue())
			Expect(created).To(HaveKey("beta"))
		})
	})

	Describe("configuration changes", func() {
		It("applies a config update to the running instance", func() {
			configs = []fakeInstanceConfig{{Name: "alpha", DesiredState: "running", Generation: 1}}
			_, _ = step()

			configs[0].Generation = 2

			err, reconciled := step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciled).To(BeTrue())
			Expect(created["alpha"].generation).To(Equal(2))
		})

		It("rate limits consecutive config updates", func() {
			configs = []fakeInstanceConfig{{Name: "alpha", DesiredState: "running", Generation: 1}}
			_, _ = step()

			configs[0].Generation = 2
			_, reconciled := step()
			Expect(reconciled).To(BeTrue())

			configs[0].Generation = 3
			for range TicksBeforeNextUpdate - 1 {
				err, reconciled := step()
				Expect(err).NotTo(HaveOccurred())
				Expect(reconciled).To(BeFalse())
				Expect(created["alpha"].generation).To(Equal(2))
			}

			err, reconciled := step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciled).To(BeTrue())
			Expect(created["alpha"].generation).To(Equal(3))
		})

		It("propagates desired state changes to the instance", func() {
			configs = []fakeInstanceConfig{{Name: "alpha", DesiredState: "running"}}
			_, _ = step()

			configs[0].DesiredState = "stopped"

			err, reconciled := step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciled).To(BeTrue())

			instance, ok := manager.GetInstance("alpha")
			Expect(ok).To(BeTrue())
			Expect(instance.GetDesiredFSMState()).To(Equal("stopped"))
		})
	})

	Describe("instance removal", func() {
		It("drives a deconfigured instance through the removal lifecycle", func() {
			configs = []fakeInstanceConfig{{Name: "alpha", DesiredState: "running"}}
			_, _ = step()

			configs = []fakeInstanceConfig{}

			// Removal is paced like the other structural changes.
			for range TicksBeforeNextRemove - 2 {
				err, reconciled := step()
				Expect(err).NotTo(HaveOccurred())
				Expect(reconciled).To(BeFalse())
				Expect(created["alpha"].removeCalls).To(BeZero())
			}

			err, reconciled := step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciled).To(BeTrue())
			Expect(created["alpha"].removeCalls).To(Equal(1))
			Expect(created["alpha"].currentState).To(Equal(internalfsm.LifecycleStateRemoving))

			// Still removing, so the manager keeps the instance around.
			_, reconciled = step()
			Expect(reconciled).To(BeFalse())
			_, ok := manager.GetInstance("alpha")
			Expect(ok).To(BeTrue())

			created["alpha"].currentState = internalfsm.LifecycleStateRemoved

			err, _ = step()
			Expect(err).NotTo(HaveOccurred())
			_, ok = manager.GetInstance("alpha")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("instance reconciliation", func() {
		It("hands the loop tick to every instance", func() {
			configs = []fakeInstanceConfig{{Name: "alpha", DesiredState: "running"}}
			_, _ = step()

			err, reconciled := step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciled).To(BeFalse())
			Expect(created["alpha"].reconcileCalls).To(Equal(1))
			Expect(created["alpha"].lastTick).To(Equal(uint64(2)))
		})

		It("stops after the first instance that reports a change", func() {
			alpha := newFakeInstance("running", "running")
			alpha.reconciled = true
			beta := newFakeInstance("running", "running")
			beta.reconciled = true
			manager.AddInstanceForTest("alpha", alpha)
			manager.AddInstanceForTest("beta", beta)
			configs = []fakeInstanceConfig{
				{Name: "alpha", DesiredState: "running"},
				{Name: "beta", DesiredState: "running"},
			}

			err, reconciled := step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciled).To(BeTrue())
			Expect(alpha.reconcileCalls + beta.reconcileCalls).To(Equal(1))
		})

		It("returns the error of a failing instance and keeps it", func() {
			alpha := newFakeInstance("running", "running")
			alpha.reconcileErr = errors.New("probe socket closed")
			manager.AddInstanceForTest("alpha", alpha)
			configs = []fakeInstanceConfig{{Name: "alpha", DesiredState: "running"}}

			err, reconciled := step()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("probe socket closed"))
			Expect(reconciled).To(BeFalse())

			_, ok := manager.GetInstance("alpha")
			Expect(ok).To(BeTrue())
		})

		It("drops an instance that failed permanently so it can be recreated", func() {
			alpha := newFakeInstance("running", "running")
			alpha.reconcileErr = fmt.Errorf("%s: %w", backoff.PermanentFailureError, errors.New("gave up"))
			manager.AddInstanceForTest("alpha", alpha)
			configs = []fakeInstanceConfig{{Name: "alpha", DesiredState: "running"}}

			err, reconciled := step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciled).To(BeTrue())

			_, ok := manager.GetInstance("alpha")
			Expect(ok).To(BeFalse())
		})

		It("refuses to reconcile instances without a loop deadline", func() {
			alpha := newFakeInstance("running", "running")
			manager.AddInstanceForTest("alpha", alpha)
			configs = []fakeInstanceConfig{{Name: "alpha", DesiredState: "running"}}

			err, _ := manager.Reconcile(context.Background(), SystemSnapshot{Tick: 1}, services)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no deadline"))
			Expect(alpha.reconcileCalls).To(BeZero())
		})
	})

	Describe("snapshots", func() {
		It("captures instances and rate limiting state", func() {
			configs = []fakeInstanceConfig{{Name: "alpha", DesiredState: "running"}}
			_, _ = step()

			snap := manager.CreateSnapshot()
			Expect(snap.GetName()).To(Equal("TestManager"))
			Expect(snap.GetManagerTick()).To(Equal(uint64(1)))

			instanceSnap, ok := snap.GetInstances()["alpha"]
			Expect(ok).To(BeTrue())
			Expect(instanceSnap.CurrentState).To(Equal("stopped"))
			Expect(instanceSnap.DesiredState).To(Equal("running"))

			base, ok := snap.(*BaseManagerSnapshot)
			Expect(ok).To(BeTrue())
			Expect(base.LastAddTick).To(Equal(uint64(1)))
		})

		It("is found through the system snapshot helpers", func() {
			configs = []fakeInstanceConfig{{Name: "alpha", DesiredState: "running"}}
			_, _ = step()

			systemSnapshot, err := GetManagerSnapshots([]FSMManager[any]{manager}, loopTick, config.FullConfig{})
			Expect(err).NotTo(HaveOccurred())
			Expect(systemSnapshot.Tick).To(Equal(loopTick))

			managerSnap, ok := FindManager(*systemSnapshot, "TestManager")
			Expect(ok).To(BeTrue())
			Expect(managerSnap.GetName()).To(Equal("TestManager"))

			instanceSnap, ok := FindInstance(*systemSnapshot, "TestManager", "alpha")
			Expect(ok).To(BeTrue())
			Expect(instanceSnap.ID).To(Equal("alpha"))
		})

		It("falls back to the generic snapshot for managers without a creator", func() {
			mock := NewMockFSMManager()

			systemSnapshot, err := GetManagerSnapshots([]FSMManager[any]{mock}, 7, config.FullConfig{})
			Expect(err).NotTo(HaveOccurred())

			managerSnap, ok := FindManager(*systemSnapshot, "MockFSMManager")
			Expect(ok).To(BeTrue())
			Expect(managerSnap.GetInstances()).To(BeEmpty())
		})
	})
})

var _ = Describe("SnapshotManager", func() {
	It("returns independent deep copies", func() {
		snapshotManager := NewSnapshotManager()
		original := &SystemSnapshot{
			Managers: map[string]ManagerSnapshot{
				"TestManager": &BaseManagerSnapshot{
					Name: "TestManager",
					Instances: map[string]*FSMInstanceSnapshot{
						"alpha": {ID: "alpha", CurrentState: "running"},
					},
					SnapshotTime: time.Now(),
				},
			},
			SnapshotTime: time.Now(),
			Tick:         3,
		}
		snapshotManager.UpdateSnapshot(original)

		snapshotCopy := snapshotManager.GetDeepCopySnapshot()
		original.Managers["TestManager"].GetInstances()["alpha"].CurrentState = "failed"

		Expect(snapshotCopy.Tick).To(Equal(uint64(3)))
		Expect(snapshotCopy.Managers["TestManager"].GetInstances()["alpha"].CurrentState).To(Equal("running"))
	})

	It("tolerates nil receivers and nil updates", func() {
		var snapshotManager *SnapshotManager
		snapshotManager.UpdateSnapshot(&SystemSnapshot{})
		Expect(snapshotManager.GetSnapshot()).To(BeNil())
		Expect(snapshotManager.GetDeepCopySnapshot()).To(Equal(SystemSnapshot{}))

		populated := NewSnapshotManager()
		populated.UpdateSnapshot(nil)
		Expect(populated.GetSnapshot()).NotTo(BeNil())
	})
})
