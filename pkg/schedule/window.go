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

// Package schedule implements the backup cadence: a quiet-hours window and a
// planner that decides per tick whether a scheduled backup is due.
package schedule

import (
	"fmt"
	"time"
)

const clockLayout = "15:04"

// Window is a daily time window with minute resolution, inclusive on both
// ends. It may span midnight (start > end), in which case it covers the two
// partial days, e.g. 23:00-06:00. The zero Window matches nothing.
type Window struct {
	start int // minutes since midnight
	end   int
	set   bool
}

// ParseWindow builds a Window from two "HH:MM" clock strings. Both empty
// disables the window; exactly one empty is an error, as is anything
// time.Parse rejects for the 15:04 layout.
func ParseWindow(start, end string) (Window, error) {
	if start == "" && end == "" {
		return Window{}, nil
	}

	if start == "" || end == "" {
		return Window{}, fmt.Errorf("quiet hours need both start and end, got start=%q end=%q", start, end)
	}

	startMinutes, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("invalid quiet hours start: %w", err)
	}

	endMinutes, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("invalid quiet hours end: %w", err)
	}

	return Window{start: startMinutes, end: endMinutes, set: true}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a HH:MM clock time: %w", s, err)
	}

	return t.Hour()*60 + t.Minute(), nil
}

// In reports whether the instant falls inside the window, using the wall
// clock of t's location.
func (w Window) In(t time.Time) bool {
	if !w.set {
		return false
	}

	minutes := t.Hour()*60 + t.Minute()

	if w.start <= w.end {
		return minutes >= w.start && minutes <= w.end
	}

	// Spanning midnight: inside means after the evening start or before the
	// morning end.
	return minutes >= w.start || minutes <= w.end
}

// IsZero reports whether the window is disabled.
func (w Window) IsZero() bool {
	return !w.set
}

// String renders the window as "HH:MM-HH:MM", or "" when disabled.
func (w Window) String() string {
	if !w.set {
		return ""
	}

	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.start/60, w.start%60, w.end/60, w.end%60)
}
