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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/warden-systems/warden-core/pkg/backup"
	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/eventlog"
	"github.com/warden-systems/warden-core/pkg/fsm"
	"github.com/warden-systems/warden-core/pkg/fsm/supervised"
	"github.com/warden-systems/warden-core/pkg/models"
)

// stubSnapshots serves a canned snapshot.
type stubSnapshots struct {
	snap *fsm.SystemSnapshot
}

func (s *stubSnapshots) GetSystemSnapshot() *fsm.SystemSnapshot {
	return s.snap
}

// stubSupervisor records the restore orchestration calls.
type stubSupervisor struct {
	mu          sync.Mutex
	stopCalls   int
	resumeCalls int
	stopErr     error
}

func (s *stubSupervisor) StopAllServices(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++

	return s.stopErr
}

func (s *stubSupervisor) ResumeAllServices() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeCalls++
}

func (s *stubSupervisor) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopCalls, s.resumeCalls
}

// snapshotWith builds a system snapshot holding the given instances under
// the supervisor manager key, with the services declared in the config in
// the given order.
func snapshotWith(services []config.ServiceConfig, instances map[string]*fsm.FSMInstanceSnapshot) *fsm.SystemSnapshot {
	return &fsm.SystemSnapshot{
		CurrentConfig: config.FullConfig{Services: services},
		Managers: map[string]fsm.ManagerSnapshot{
			fsm.SupervisorManagerName: &fsm.BaseManagerSnapshot{
				Name:         fsm.SupervisorManagerName,
				Instances:    instances,
				SnapshotTime: time.Now(),
			},
		},
		SnapshotTime: time.Now(),
		Tick:         7,
	}
}

func runningInstance(name string) *fsm.FSMInstanceSnapshot {
	return &fsm.FSMInstanceSnapshot{
		ID:           name,
		CurrentState: supervised.OperationalStateRunning,
		DesiredState: config.DesiredStateRunning,
		LastObservedState: &supervised.ServiceObservedStateSnapshot{
			Config: config.ServiceConfig{
				FSMInstanceConfig: config.FSMInstanceConfig{Name: name, DesiredFSMState: config.DesiredStateRunning},
			},
		},
	}
}

var _ = Describe("Server", func() {
	var (
		snapshots  *stubSnapshots
		supervisor *stubSupervisor
		mockSvc    *backup.MockService
		worker     *backup.Worker
		server     *Server
	)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)

		return rec
	}

	BeforeEach(func() {
		snapshots = &stubSnapshots{snap: snapshotWith(nil, map[string]*fsm.FSMInstanceSnapshot{})}
		supervisor = &stubSupervisor{}
		mockSvc = backup.NewMockService()
		worker = backup.NewWorker(mockSvc, eventlog.NewJournal(0))
		server = NewServer(snapshots, supervisor, worker)
	})

	Describe("GET /v1/status", func() {
		It("returns the status payload", func() {
			snapshots.snap = snapshotWith(
				[]config.ServiceConfig{
					{FSMInstanceConfig: config.FSMInstanceConfig{Name: "store", DesiredFSMState: config.DesiredStateRunning}},
					{FSMInstanceConfig: config.FSMInstanceConfig{Name: "api", DesiredFSMState: config.DesiredStateRunning}},
				},
				map[string]*fsm.FSMInstanceSnapshot{
					"store": runningInstance("store"),
					"api":   runningInstance("api"),
				},
			)

			rec := do(http.MethodGet, "/v1/status", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var status models.SystemStatus
			Expect(json.Unmarshal(rec.Body.Bytes(), &status)).To(Succeed())
			Expect(status.OverallHealth).To(Equal(models.OverallHealthy))
			Expect(status.Services).To(HaveLen(2))
			Expect(status.Services[0].Name).To(Equal("store"))
			Expect(status.Services[1].Name).To(Equal("api"))
		})

		It("carries the worker's backup block", func() {
			mockSvc.ListResult = []backup.Metadata{
				{ID: "backup_20260114_153000", Reason: backup.ReasonManual, TotalSizeBytes: 42},
			}
			_, err := worker.List(context.Background())
			Expect(err).NotTo(HaveOccurred())

			rec := do(http.MethodGet, "/v1/status", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var status models.SystemStatus
			Expect(json.Unmarshal(rec.Body.Bytes(), &status)).To(Succeed())
			Expect(status.Backups.Last).To(HaveLen(1))
			Expect(status.Backups.Last[0].ID).To(Equal("backup_20260114_153000"))
		})
	})

	Describe("GET /healthz", func() {
		It("answers 200 while everything runs", func() {
			snapshots.snap = snapshotWith(
				[]config.ServiceConfig{{FSMInstanceConfig: config.FSMInstanceConfig{Name: "store", DesiredFSMState: config.DesiredStateRunning}}},
				map[string]*fsm.FSMInstanceSnapshot{"store": runningInstance("store")},
			)

			Expect(do(http.MethodGet, "/healthz", "").Code).To(Equal(http.StatusOK))
		})

		It("answers 503 once a service is terminally failed", func() {
			failed := runningInstance("store")
			failed.CurrentState = supervised.OperationalStateFailed

			snapshots.snap = snapshotWith(
				[]config.ServiceConfig{{FSMInstanceConfig: config.FSMInstanceConfig{Name: "store", DesiredFSMState: config.DesiredStateRunning}}},
				map[string]*fsm.FSMInstanceSnapshot{"store": failed},
			)

			rec := do(http.MethodGet, "/healthz", "")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(rec.Body.String()).To(ContainSubstring("critical"))
		})
	})

	Describe("GET /v1/backups", func() {
		It("lists backups newest first as the worker reports them", func() {
			mockSvc.ListResult = []backup.Metadata{
				{ID: "backup_20260114_160000"},
				{ID: "backup_20260114_150000"},
			}

			rec := do(http.MethodGet, "/v1/backups", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var listed []backup.Metadata
			Expect(json.Unmarshal(rec.Body.Bytes(), &listed)).To(Succeed())
			Expect(listed).To(HaveLen(2))
			Expect(listed[0].ID).To(Equal("backup_20260114_160000"))
		})

		It("surfaces list failures as 500", func() {
			mockSvc.ListError = errors.New("backup root unreadable")

			Expect(do(http.MethodGet, "/v1/backups", "").Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("POST /v1/backups", func() {
		It("creates a manual backup and answers 201", func() {
			rec := do(http.MethodPost, "/v1/backups", `{"reason":"manual"}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var resp models.CreateBackupResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.ID).To(HavePrefix("backup_"))
			Expect(mockSvc.Reasons()).To(ConsistOf(backup.ReasonManual))
		})

		It("defaults an empty body to a manual backup", func() {
			Expect(do(http.MethodPost, "/v1/backups", "").Code).To(Equal(http.StatusCreated))
			Expect(mockSvc.Reasons()).To(ConsistOf(backup.ReasonManual))
		})

		It("rejects reserved reasons with 422", func() {
			rec := do(http.MethodPost, "/v1/backups", `{"reason":"shutdown"}`)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(mockSvc.CreateCalled).To(BeFalse())
		})

		It("answers a retryable 409 while another operation runs", func() {
			mockSvc.CreateDelay = 200 * time.Millisecond

			firstDone := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(firstDone)
				_, err := worker.CreateNow(context.Background(), backup.ReasonManual)
				Expect(err).NotTo(HaveOccurred())
			}()

			Eventually(func() bool { return worker.Status().InProgress }, "1s", "5ms").Should(BeTrue())

			rec := do(http.MethodPost, "/v1/backups", "")
			Expect(rec.Code).To(Equal(http.StatusConflict))

			var apiErr models.APIError
			Expect(json.Unmarshal(rec.Body.Bytes(), &apiErr)).To(Succeed())
			Expect(apiErr.Retryable).To(BeTrue())

			Eventually(firstDone, "1s").Should(BeClosed())
		})

		It("surfaces create failures as 500", func() {
			mockSvc.CreateError = &backup.BackupError{Op: "create", Err: errors.New("disk full")}

			rec := do(http.MethodPost, "/v1/backups", "")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(ContainSubstring("disk full"))
		})
	})

	Describe("POST /v1/backups/:id/restore", func() {
		It("stops the fleet, restores, and resumes", func() {
			rec := do(http.MethodPost, "/v1/backups/backup_20260114_153000/restore", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			stops, resumes := supervisor.calls()
			Expect(stops).To(Equal(1))
			Expect(resumes).To(Equal(1))
			Expect(mockSvc.RestoredIDs).To(ConsistOf("backup_20260114_153000"))
		})

		It("rejects malformed ids with 404 before touching the fleet", func() {
			rec := do(http.MethodPost, "/v1/backups/not-a-backup/restore", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))

			stops, _ := supervisor.calls()
			Expect(stops).To(BeZero())
			Expect(mockSvc.RestoreCalled).To(BeFalse())
		})

		It("answers 404 for an unknown backup and still resumes", func() {
			mockSvc.RestoreError = backup.ErrBackupNotFound

			rec := do(http.MethodPost, "/v1/backups/backup_20260114_153000/restore", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))

			stops, resumes := supervisor.calls()
			Expect(stops).To(Equal(1))
			Expect(resumes).To(Equal(1))
		})

		It("resumes the fleet when the restore fails", func() {
			mockSvc.RestoreError = &backup.RestoreError{ID: "backup_20260114_153000", Err: errors.New("digest mismatch")}

			rec := do(http.MethodPost, "/v1/backups/backup_20260114_153000/restore", "")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))

			_, resumes := supervisor.calls()
			Expect(resumes).To(Equal(1))
		})

		It("refuses while another operation runs", func() {
			mockSvc.CreateDelay = 200 * time.Millisecond

			createDone := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(createDone)
				_, err := worker.CreateNow(context.Background(), backup.ReasonManual)
				Expect(err).NotTo(HaveOccurred())
			}()

			Eventually(func() bool { return worker.Status().InProgress }, "1s", "5ms").Should(BeTrue())

			rec := do(http.MethodPost, "/v1/backups/backup_20260114_153000/restore", "")
			Expect(rec.Code).To(Equal(http.StatusConflict))

			stops, _ := supervisor.calls()
			Expect(stops).To(BeZero())

			Eventually(createDone, "1s").Should(BeClosed())
		})

		It("surfaces a failed fleet stop and does not restore", func() {
			supervisor.stopErr = errors.New("fleet will not settle")

			rec := do(http.MethodPost, "/v1/backups/backup_20260114_153000/restore", "")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(mockSvc.RestoreCalled).To(BeFalse())
		})
	})

	Describe("without a worker or supervisor", func() {
		BeforeEach(func() {
			server = NewServer(snapshots, nil, nil)
		})

		It("keeps the status endpoint alive", func() {
			Expect(do(http.MethodGet, "/v1/status", "").Code).To(Equal(http.StatusOK))
		})

		It("answers 503 on the backup endpoints", func() {
			Expect(do(http.MethodGet, "/v1/backups", "").Code).To(Equal(http.StatusServiceUnavailable))
			Expect(do(http.MethodPost, "/v1/backups", "").Code).To(Equal(http.StatusServiceUnavailable))
			Expect(do(http.MethodPost, "/v1/backups/backup_20260114_153000/restore", "").Code).To(Equal(http.StatusServiceUnavailable))
		})
	})
})
