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

package backup_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/warden-systems/warden-core/pkg/backup"
	"github.com/warden-systems/warden-core/pkg/eventlog"
	"github.com/warden-systems/warden-core/pkg/models"
)

var _ = Describe("Worker", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		svc     *backup.MockService
		journal *eventlog.Journal
		worker  *backup.Worker
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		svc = backup.NewMockService()
		journal = eventlog.NewJournal(16)
		worker = backup.NewWorker(svc, journal)
	})

	AfterEach(func() {
		cancel()
	})

	Describe("CreateNow", func() {
		It("runs a manual backup and journals the outcome", func() {
			meta, err := worker.CreateNow(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta.ID).NotTo(BeEmpty())
			Expect(svc.Reasons()).To(Equal([]backup.Reason{backup.ReasonManual}))

			recent := journal.Recent(1)
			Expect(recent).To(HaveLen(1))
			Expect(recent[0].Type).To(Equal(models.EventTypeBackup))
			Expect(recent[0].Severity).To(Equal(models.EventSeverityInfo))
			Expect(recent[0].Message).To(ContainSubstring(meta.ID))
		})

		It("rejects an unknown reason without calling the store", func() {
			_, err := worker.CreateNow(ctx, backup.Reason("nightly"))
			Expect(errors.Is(err, backup.ErrInvalidReason)).To(BeTrue())
			Expect(svc.CreateCalled).To(BeFalse())
		})

		It("journals a failed backup as an error", func() {
			svc.CreateError = errors.New("no space left on device")

			_, err := worker.CreateNow(ctx, backup.ReasonManual)
			Expect(err).To(HaveOccurred())

			recent := journal.Recent(1)
			Expect(recent).To(HaveLen(1))
			Expect(recent[0].Severity).To(Equal(models.EventSeverityError))
			Expect(recent[0].Message).To(ContainSubstring("no space left on device"))
		})

		It("returns a retryable conflict while another operation is in flight", func() {
			svc.CreateDelay = 300 * time.Millisecond

			worker.TriggerScheduled()

			_, err := worker.CreateNow(ctx, backup.ReasonManual)
			Expect(backup.IsRetryable(err)).To(BeTrue())

			err = worker.Restore(ctx, "backup_20260101_000000")
			Expect(backup.IsRetryable(err)).To(BeTrue())

			Eventually(svc.Reasons, "2s", "20ms").Should(Equal([]backup.Reason{backup.ReasonScheduled}))
			Eventually(func() bool { return worker.Status().InProgress }, "2s", "20ms").Should(BeFalse())
		})

		It("refreshes the status cache after a successful backup", func() {
			meta := backup.Metadata{ID: backup.NewBackupID(time.Now()), Reason: backup.ReasonManual}
			svc.CreateResult = meta
			svc.ListResult = []backup.Metadata{meta}

			_, err := worker.CreateNow(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())

			status := worker.Status()
			Expect(status.Last).To(HaveLen(1))
			Expect(status.Last[0].ID).To(Equal(meta.ID))
		})
	})

	Describe("TriggerScheduled", func() {
		It("skips a run while another is in flight and proceeds afterwards", func() {
			svc.CreateDelay = 200 * time.Millisecond

			worker.TriggerScheduled()
			worker.TriggerScheduled()

			Eventually(svc.Reasons, "2s", "20ms").Should(HaveLen(1))
			Consistently(svc.Reasons, "300ms", "50ms").Should(HaveLen(1))

			// The next cadence tick picks the work back up once the
			// in-flight run has released the worker.
			Eventually(func() []backup.Reason {
				worker.TriggerScheduled()

				return svc.Reasons()
			}, "2s", "50ms").Should(HaveLen(2))
			Expect(svc.Reasons()).To(Equal([]backup.Reason{backup.ReasonScheduled, backup.ReasonScheduled}))
		})
	})

	Describe("RunShutdown", func() {
		It("waits for the in-flight operation before the final backup", func() {
			svc.CreateDelay = 150 * time.Millisecond

			worker.TriggerScheduled()

			Expect(worker.RunShutdown(ctx)).To(Succeed())
			Expect(svc.Reasons()).To(Equal([]backup.Reason{backup.ReasonScheduled, backup.ReasonShutdown}))
		})

		It("gives up when the context expires before its turn", func() {
			svc.CreateDelay = 500 * time.Millisecond

			worker.TriggerScheduled()

			shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer shutdownCancel()

			err := worker.RunShutdown(shutdownCtx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("waiting for in-flight operation"))

			Eventually(svc.Reasons, "2s", "20ms").Should(Equal([]backup.Reason{backup.ReasonScheduled}))
		})
	})

	Describe("Restore", func() {
		It("restores through the store and journals the outcome", func() {
			Expect(worker.Restore(ctx, "backup_20260101_000000")).To(Succeed())
			Expect(svc.RestoredIDs).To(Equal([]string{"backup_20260101_000000"}))

			recent := journal.Recent(1)
			Expect(recent).To(HaveLen(1))
			Expect(recent[0].Type).To(Equal(models.EventTypeRestore))
			Expect(recent[0].Severity).To(Equal(models.EventSeverityInfo))
		})

		It("passes a missing backup through unchanged", func() {
			svc.RestoreError = &backup.RestoreError{ID: "backup_20990101_000000", Err: backup.ErrBackupNotFound}

			err := worker.Restore(ctx, "backup_20990101_000000")
			Expect(errors.Is(err, backup.ErrBackupNotFound)).To(BeTrue())

			recent := journal.Recent(1)
			Expect(recent).To(HaveLen(1))
			Expect(recent[0].Severity).To(Equal(models.EventSeverityError))
		})
	})

	Describe("Status", func() {
		It("caps the recent list at three backups", func() {
			base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
			metas := make([]backup.Metadata, 0, 4)
			for i := 3; i >= 0; i-- {
				t := base.Add(time.Duration(i) * time.Hour)
				metas = append(metas, backup.Metadata{ID: backup.NewBackupID(t), CreatedAt: t})
			}
			svc.ListResult = metas

			_, err := worker.List(ctx)
			Expect(err).NotTo(HaveOccurred())

			status := worker.Status()
			Expect(status.Last).To(HaveLen(3))
			Expect(status.Last[0].ID).To(Equal(metas[0].ID))
			Expect(status.InProgress).To(BeFalse())
			Expect(status.NextScheduledAt).To(BeNil())
		})

		It("publishes the next scheduled time", func() {
			next := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
			worker.SetNextScheduled(next)

			status := worker.Status()
			Expect(status.NextScheduledAt).NotTo(BeNil())
			Expect(*status.NextScheduledAt).To(BeTemporally("==", next))
		})
	})
})
