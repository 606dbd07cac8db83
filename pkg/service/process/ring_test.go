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

package process

import (
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/warden-systems/warden-core/pkg/constants"
)

var _ = Describe("LogBuffer", func() {
	var buffer *LogBuffer

	Context("when creating a new buffer", func() {
		It("should fall back to the default capacity for non-positive sizes", func() {
			buffer = NewLogBuffer(0)
			Expect(buffer.capacity).To(Equal(constants.ProcessLogRingCapacity))

			buffer = NewLogBuffer(-100)
			Expect(buffer.capacity).To(Equal(constants.ProcessLogRingCapacity))
		})

		It("should start empty", func() {
			buffer = NewLogBuffer(10)
			Expect(buffer.Len()).To(Equal(0))
			Expect(buffer.Entries()).To(BeEmpty())
		})
	})

	Context("when adding entries", func() {
		BeforeEach(func() {
			buffer = NewLogBuffer(5)
		})

		It("should keep entries in insertion order", func() {
			baseTime := time.Now()
			buffer.Add(LogEntry{Timestamp: baseTime, Content: "first"})
			buffer.Add(LogEntry{Timestamp: baseTime.Add(time.Second), Content: "second"})
			buffer.Add(LogEntry{Timestamp: baseTime.Add(2 * time.Second), Content: "third"})

			Expect(buffer.Len()).To(Equal(3))

			entries := buffer.Entries()
			Expect(entries).To(HaveLen(3))
			Expect(entries[0].Content).To(Equal("first"))
			Expect(entries[1].Content).To(Equal("second"))
			Expect(entries[2].Content).To(Equal("third"))
		})
	})

	Context("when the buffer reaches capacity", func() {
		BeforeEach(func() {
			buffer = NewLogBuffer(3)
		})

		It("should overwrite the oldest entries when full", func() {
			for i := 1; i <= 4; i++ {
				buffer.Add(LogEntry{
					Timestamp: time.Now().Add(time.Duration(i) * time.Second),
					Content:   fmt.Sprintf("entry %d", i),
				})
			}

			entries := buffer.Entries()
			Expect(entries).To(HaveLen(3))
			Expect(buffer.Len()).To(Equal(3))
			Expect(entries[0].Content).To(Equal("entry 2"))
			Expect(entries[1].Content).To(Equal("entry 3"))
			Expect(entries[2].Content).To(Equal("entry 4"))
		})

		It("should survive multiple wraparounds", func() {
			for i := 1; i <= 10; i++ {
				buffer.Add(LogEntry{
					Timestamp: time.Now().Add(time.Duration(i) * time.Second),
					Content:   fmt.Sprintf("entry %d", i),
				})
			}

			entries := buffer.Entries()
			Expect(entries).To(HaveLen(3))
			Expect(entries[0].Content).To(Equal("entry 8"))
			Expect(entries[1].Content).To(Equal("entry 9"))
			Expect(entries[2].Content).To(Equal("entry 10"))
		})
	})

	Context("when clearing the buffer", func() {
		BeforeEach(func() {
			buffer = NewLogBuffer(100)
			for i := 1; i <= 5; i++ {
				buffer.Add(LogEntry{
					Timestamp: time.Now().Add(time.Duration(i) * time.Second),
					Content:   fmt.Sprintf("entry %d", i),
				})
			}
		})

		It("should drop all entries", func() {
			Expect(buffer.Len()).To(Equal(5))

			buffer.Clear()

			Expect(buffer.Len()).To(Equal(0))
			Expect(buffer.Entries()).To(BeEmpty())
		})

		It("should accept entries again after clearing", func() {
			buffer.Clear()
			buffer.Add(LogEntry{Timestamp: time.Now(), Content: "after clear"})

			Expect(buffer.Len()).To(Equal(1))
			Expect(buffer.Entries()[0].Content).To(Equal("after clear"))
		})
	})

	Context("when accessed concurrently", func() {
		BeforeEach(func() {
			buffer = NewLogBuffer(1000)
		})

		It("should handle concurrent writes and reads safely", func() {
			const numGoroutines = 10
			const entriesPerGoroutine = 100

			var wg sync.WaitGroup
			for i := 0; i < numGoroutines; i++ {
				wg.Add(1)
				go func(routineID int) {
					defer wg.Done()
					for j := 0; j < entriesPerGoroutine; j++ {
						buffer.Add(LogEntry{
							Timestamp: time.Now(),
							Content:   fmt.Sprintf("routine %d entry %d", routineID, j),
						})
						buffer.Entries()
					}
				}(i)
			}
			wg.Wait()

			Expect(buffer.Len()).To(Equal(1000))
		})
	})
})
