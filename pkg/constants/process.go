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
	// ProcessLogRingCapacity is how many recent log lines are retained in
	// memory per supervised process.
	ProcessLogRingCapacity = 1024

	// ProcessExitHistoryLimit bounds the exit-event history per process.
	ProcessExitHistoryLimit = 50

	// ProcessLogFileMaxSize triggers rotation of a service's current log file.
	ProcessLogFileMaxSize = 1024 * 1024 // 1MB

	// ProcessLogFileRetention is how many rotated log files are kept per service.
	ProcessLogFileRetention = 10

	// ProcessWaitPollInterval is how often a stop waits between liveness
	// checks for processes the agent did not spawn itself.
	ProcessWaitPollInterval = 50 * time.Millisecond

	// StaleProcessGracePeriod is how long a process inherited from a
	// previous agent incarnation gets between SIGTERM and SIGKILL when a
	// start needs its slot.
	StaleProcessGracePeriod = 2 * time.Second

	// CurrentLogFileName is the name of the active log file in a service's
	// log directory.
	CurrentLogFileName = "current"

	// LogTimestampFormat prefixes every persisted log line, nanosecond precision.
	LogTimestampFormat = "2006-01-02 15:04:05.000000000"

	// LogEntrySeparator sits between the timestamp and the payload.
	LogEntrySeparator = "  "
)
