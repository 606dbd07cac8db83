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

package constants

import "time"

const (
	// DefaultTickerTime is the interval between reconciliation cycles.
	// This value balances responsiveness with resource utilization:
	// - Too small: the manager may not have enough time to complete its work
	// - Too high: delayed response to configuration changes and probe results
	DefaultTickerTime = 100 * time.Millisecond

	// StarvationThreshold defines when to consider the control loop starved.
	// If no reconciliation has happened for this duration, the starvation
	// detector will log warnings and record metrics.
	// Starvation can happen for example when dozens of services are added at once.
	StarvationThreshold = 15 * time.Second

	// DefaultManagerName is the default name for a manager.
	DefaultManagerName = "Core"

	// DefaultInstanceName is the default name for an instance.
	DefaultInstanceName = "Core"

	// DefaultMinimumRemainingTimePerInstance is the minimum time that must remain
	// on the tick deadline before the manager starts reconciling another instance.
	DefaultMinimumRemainingTimePerInstance = time.Millisecond * 50

	// ManagerReservePercent is the fraction of the per-tick budget held back for
	// manager bookkeeping (instance lifecycle, snapshot updates) after the
	// per-instance reconciliation finishes.
	ManagerReservePercent = 0.05

	// LoopControlLoopTimeFactor is the fraction of the remaining tick time the
	// control loop hands to the managers. The rest is kept for snapshot updates
	// and end-of-tick bookkeeping.
	LoopControlLoopTimeFactor = 0.80

	// MaxConcurrentFSMOperations limits how many managers reconcile in parallel
	// within a single tick.
	MaxConcurrentFSMOperations = 4
)

// ManagerControlLoopTimeFactor is the fraction of the tick budget available to
// instance reconciliation once the manager reserve is subtracted.
const ManagerControlLoopTimeFactor = 1.0 - ManagerReservePercent
