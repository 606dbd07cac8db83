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
	// ExpectedMaxP95ExecutionTimePerEvent is the minimum context lifetime required
	// before a state transition is allowed to start. Transitions interrupted by an
	// expiring context leave the state machine mid-transition, which blocks all
	// subsequent events, so it is safer to refuse the event up front.
	ExpectedMaxP95ExecutionTimePerEvent = 10 * time.Millisecond

	// DefaultFSMInitialBackoffTicks is the number of ticks an instance is
	// suspended after its first reconcile error. At the default ticker interval
	// this corresponds to one second.
	DefaultFSMInitialBackoffTicks = 10

	// DefaultFSMMaxBackoffTicks caps the exponential reconcile backoff.
	// At the default ticker interval this corresponds to thirty seconds.
	DefaultFSMMaxBackoffTicks = 300

	// DefaultFSMMaxRetries is how many consecutive reconcile errors an instance
	// may accumulate before it is declared permanently failed.
	DefaultFSMMaxRetries = 5
)
