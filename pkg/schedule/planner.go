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

package schedule

import (
	"time"
)

// Decision is the planner's verdict for a single evaluation.
type Decision int

const (
	// DecisionWait means the next run is still in the future.
	DecisionWait Decision = iota
	// DecisionRun means a run is due and allowed.
	DecisionRun
	// DecisionSuppressed means a run was due but fell into the quiet-hours
	// window. The cadence has already been advanced.
	DecisionSuppressed
)

func (d Decision) String() string {
	switch d {
	case DecisionWait:
		return "wait"
	case DecisionRun:
		return "run"
	case DecisionSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Planner tracks a single recurring deadline. It is owned by the control loop
// and is not safe for concurrent use; consumers observe the schedule through
// the loop's published snapshots.
type Planner struct {
	interval time.Duration
	window   Window
	nextRun  time.Time
}

// NewPlanner creates a planner whose first run is one interval after now.
func NewPlanner(interval time.Duration, window Window, now time.Time) *Planner {
	return &Planner{
		interval: interval,
		window:   window,
		nextRun:  now.Add(interval),
	}
}

// Evaluate checks the deadline against now. Whenever the deadline has passed
// the cadence advances to now+interval, regardless of whether the run is
// allowed. A run that lands inside the quiet-hours window is suppressed, not
// deferred: the caller gets DecisionSuppressed and the next chance is a full
// interval away.
func (p *Planner) Evaluate(now time.Time) Decision {
	if now.Before(p.nextRun) {
		return DecisionWait
	}

	p.nextRun = now.Add(p.interval)

	if p.window.In(now) {
		return DecisionSuppressed
	}

	return DecisionRun
}

// NextRun returns the current deadline.
func (p *Planner) NextRun() time.Time {
	return p.nextRun
}

// Window returns the configured quiet-hours window.
func (p *Planner) Window() Window {
	return p.window
}
