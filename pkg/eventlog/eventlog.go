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

// Package eventlog keeps a bounded in-memory journal of operator-visible
// occurrences: service restarts, probe verdict flips, backup and restore
// outcomes. Every entry is also written to the structured log; the journal
// exists so the status payload can show recent history without the operator
// grepping log files.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/models"
)

// DefaultCapacity is how many events the journal retains when no explicit
// capacity is given.
const DefaultCapacity = 256

// Journal is a fixed-capacity ring of recent events. Oldest entries are
// overwritten once the capacity is reached.
type Journal struct {
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	events   []models.Event
	capacity int
	next     int
	full     bool
}

// NewJournal creates a journal holding up to capacity events. A
// non-positive capacity falls back to the default.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Journal{
		logger:   logger.For(logger.ComponentEventJournal),
		events:   make([]models.Event, capacity),
		capacity: capacity,
	}
}

// Record adds an event to the journal and mirrors it to the structured log
// at the level matching its severity. It returns the stored event.
func (j *Journal) Record(eventType models.EventType, severity models.EventSeverity, source string, format string, args ...interface{}) models.Event {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Severity:  severity,
		Source:    source,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}

	j.mu.Lock()
	j.events[j.next] = event
	j.next = (j.next + 1) % j.capacity
	if j.next == 0 {
		j.full = true
	}
	j.mu.Unlock()

	log := j.logger.With("eventType", string(eventType), "source", source)
	switch severity {
	case models.EventSeverityWarning:
		log.Warn(event.Message)
	case models.EventSeverityError, models.EventSeverityCritical:
		log.Error(event.Message)
	default:
		log.Info(event.Message)
	}

	return event
}

// Recent returns up to n events, newest first. A non-positive n returns
// everything in the journal.
func (j *Journal) Recent(n int) []models.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	size := j.next
	if j.full {
		size = j.capacity
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]models.Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (j.next - i + j.capacity) % j.capacity
		out = append(out, j.events[idx])
	}

	return out
}

// Len reports how many events are currently retained.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.full {
		return j.capacity
	}

	return j.next
}
