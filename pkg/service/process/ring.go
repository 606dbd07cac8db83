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
	"sync"

	"github.com/warden-systems/warden-core/pkg/constants"
)

// LogBuffer is a fixed-capacity ring of log entries. When full, new entries
// overwrite the oldest ones. It keeps the recent tail of a service's output
// in memory so status reads never touch the disk.
type LogBuffer struct {
	mu       sync.Mutex
	entries  []LogEntry
	capacity int
	next     int
	full     bool
}

// NewLogBuffer creates a buffer holding up to capacity entries. A
// non-positive capacity falls back to the default ring capacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = constants.ProcessLogRingCapacity
	}

	return &LogBuffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, overwriting the oldest one when the buffer is full.
func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = entry
	b.next = (b.next + 1) % b.capacity
	if b.next == 0 {
		b.full = true
	}
}

// Entries returns the buffered entries in chronological order.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]LogEntry, b.next)
		copy(out, b.entries[:b.next])

		return out
	}

	out := make([]LogEntry, 0, b.capacity)
	out = append(out, b.entries[b.next:]...)
	out = append(out, b.entries[:b.next]...)

	return out
}

// Len reports how many entries are currently buffered.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.full {
		return b.capacity
	}

	return b.next
}

// Clear drops all buffered entries.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next = 0
	b.full = false
}
