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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/warden-systems/warden-core/pkg/backup"
)

var _ = Describe("Backup identifiers", func() {
	It("stamps ids from the creation time in UTC", func() {
		cet := time.FixedZone("CET", 3600)
		id := backup.NewBackupID(time.Date(2026, 1, 14, 15, 30, 0, 0, cet))

		Expect(id).To(Equal("backup_20260114_143000"))
	})

	It("round-trips through parse", func() {
		createdAt := time.Date(2026, 1, 14, 15, 30, 45, 0, time.UTC)

		parsed, err := backup.ParseBackupID(backup.NewBackupID(createdAt))
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(BeTemporally("==", createdAt))
	})

	It("rejects ids without the prefix", func() {
		_, err := backup.ParseBackupID("snapshot_20260114_153000")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("does not start"))
	})

	It("rejects ids with a mangled timestamp", func() {
		_, err := backup.ParseBackupID("backup_2026x114_153000")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("no valid timestamp"))
	})

	It("sorts lexicographically in creation order", func() {
		older := backup.NewBackupID(time.Date(2026, 1, 14, 23, 59, 59, 0, time.UTC))
		newer := backup.NewBackupID(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))

		Expect(older < newer).To(BeTrue())
	})
})

var _ = Describe("Metadata", func() {
	meta := backup.Metadata{
		ID:        "backup_20260114_153000",
		CreatedAt: time.Date(2026, 1, 14, 15, 30, 0, 0, time.UTC),
		Reason:    backup.ReasonScheduled,
		Manifest: []backup.ManifestEntry{
			{Path: "store.db", SizeBytes: 100},
			{Path: "state.tar.gz", SizeBytes: 250},
		},
		TotalSizeBytes: 350,
	}

	It("reports which artifacts the manifest records", func() {
		Expect(meta.HasArtifact("store.db")).To(BeTrue())
		Expect(meta.HasArtifact("state.tar.gz")).To(BeTrue())
		Expect(meta.HasArtifact("notes.txt")).To(BeFalse())
	})

	It("summarizes into the status wire form", func() {
		summary := meta.Summary()

		Expect(summary.ID).To(Equal(meta.ID))
		Expect(summary.CreatedAt).To(BeTemporally("==", meta.CreatedAt))
		Expect(summary.Reason).To(Equal("scheduled"))
		Expect(summary.SizeBytes).To(Equal(int64(350)))
		Expect(summary.Artifacts).To(Equal(2))
	})
})

var _ = Describe("ValidReason", func() {
	It("accepts the three trigger reasons", func() {
		Expect(backup.ValidReason(backup.ReasonScheduled)).To(BeTrue())
		Expect(backup.ValidReason(backup.ReasonManual)).To(BeTrue())
		Expect(backup.ValidReason(backup.ReasonShutdown)).To(BeTrue())
	})

	It("rejects anything else", func() {
		Expect(backup.ValidReason(backup.Reason(""))).To(BeFalse())
		Expect(backup.ValidReason(backup.Reason("nightly"))).To(BeFalse())
	})
})
