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

package eventlog_test

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/warden-systems/warden-core/pkg/eventlog"
	"github.com/warden-systems/warden-core/pkg/models"
)

var _ = Describe("Journal", func() {
	var journal *eventlog.Journal

	BeforeEach(func() {
		journal = eventlog.NewJournal(4)
	})

	It("should assign each event an id and timestamp", func() {
		event := journal.Record(models.EventTypeService, models.EventSeverityInfo, "store", "restarted after %d attempts", 2)

		Expect(event.ID).NotTo(BeEmpty())
		Expect(event.Timestamp.IsZero()).To(BeFalse())
		Expect(event.Message).To(Equal("restarted after 2 attempts"))
		Expect(event.Type).To(Equal(models.EventTypeService))
		Expect(event.Severity).To(Equal(models.EventSeverityInfo))
		Expect(event.Source).To(Equal("store"))
	})

	It("should return the newest events first", func() {
		journal.Record(models.EventTypeSystem, models.EventSeverityInfo, "loop", "first")
		journal.Record(models.EventTypeBackup, models.EventSeverityInfo, "backup", "second")
		journal.Record(models.EventTypeHealth, models.EventSeverityWarning, "probe", "third")

		recent := journal.Recent(2)
		Expect(recent).To(HaveLen(2))
		Expect(recent[0].Message).To(Equal("third"))
		Expect(recent[1].Message).To(Equal("second"))
	})

	It("should return everything for a non-positive n", func() {
		journal.Record(models.EventTypeSystem, models.EventSeverityInfo, "loop", "one")
		journal.Record(models.EventTypeSystem, models.EventSeverityInfo, "loop", "two")

		Expect(journal.Recent(0)).To(HaveLen(2))
		Expect(journal.Recent(-1)).To(HaveLen(2))
	})

	It("should overwrite the oldest events once full", func() {
		for i := 1; i <= 6; i++ {
			journal.Record(models.EventTypeSystem, models.EventSeverityInfo, "loop", "event %d", i)
		}

		Expect(journal.Len()).To(Equal(4))

		recent := journal.Recent(0)
		Expect(recent).To(HaveLen(4))
		Expect(recent[0].Message).To(Equal("event 6"))
		Expect(recent[3].Message).To(Equal("event 3"))
	})

	It("should fall back to the default capacity for non-positive sizes", func() {
		journal = eventlog.NewJournal(0)
		for i := 0; i < eventlog.DefaultCapacity+10; i++ {
			journal.Record(models.EventTypeSystem, models.EventSeverityInfo, "loop", "event %d", i)
		}

		Expect(journal.Len()).To(Equal(eventlog.DefaultCapacity))
	})

	It("should handle concurrent recording", func() {
		journal = eventlog.NewJournal(1000)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					journal.Record(models.EventTypeService, models.EventSeverityInfo, fmt.Sprintf("svc-%d", id), "tick %d", j)
					journal.Recent(5)
				}
			}(i)
		}
		wg.Wait()

		Expect(journal.Len()).To(Equal(500))
	})
})
