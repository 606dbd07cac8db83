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
	"errors"
	"strings"
	"time"

	"github.com/warden-systems/warden-core/pkg/constants"
)

// ErrServiceNotExist is returned when an operation names a service the
// process service does not track.
var ErrServiceNotExist = errors.New("service does not exist")

// ServiceStatus represents the observed state of a supervised process
type ServiceStatus string

const (
	// ServiceUnknown indicates the process state cannot be determined
	ServiceUnknown ServiceStatus = "unknown"
	// ServiceUp indicates the process is running
	ServiceUp ServiceStatus = "up"
	// ServiceDown indicates the process is not running
	ServiceDown ServiceStatus = "down"
)

// Spec describes how a service process is launched. It is the runtime slice
// of a service definition: everything exec needs and nothing else.
type Spec struct {
	// Command is the path of the binary to run.
	Command string
	// Args are passed to the command verbatim.
	Args []string
	// Env entries are appended to the agent's own environment.
	Env map[string]string
	// Dir is the working directory, empty for the agent's.
	Dir string
}

// Info contains the observed state of a service process.
type Info struct {
	Status ServiceStatus
	// Pid and Pgid are only set while the process is up.
	Pid  int
	Pgid int
	// Uptime in seconds while up, 0 while down.
	Uptime int64
	// LastChangedAt is when the observed status last flipped.
	LastChangedAt time.Time
	// LastExit is the most recent recorded exit, nil if the process never
	// exited under this agent.
	LastExit *ExitEvent
}

// ExitEvent records one termination of a service process.
type ExitEvent struct {
	Timestamp time.Time // when the exit was reaped
	ExitCode  int       // exit code, -1 when killed by a signal
	Signal    int       // terminating signal number, 0 for plain exits
}

// LogEntry is one captured line of service output.
type LogEntry struct {
	// Timestamp in UTC time
	Timestamp time.Time `json:"timestamp"`
	// Content of the log entry
	Content string `json:"content"`
}

// parseLogs parses the contents of a persisted log file back into entries.
// Lines that do not carry the expected timestamp prefix are kept with their
// raw content so nothing is silently dropped.
func parseLogs(content []byte) []LogEntry {
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")

	entries := make([]LogEntry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		entries = append(entries, parseLogLine(line))
	}

	return entries
}

// parseLogLine splits "<timestamp>  <content>" into a LogEntry.
func parseLogLine(line string) LogEntry {
	sep := strings.Index(line, constants.LogEntrySeparator)
	if sep != len(constants.LogTimestampFormat) {
		return LogEntry{Content: line}
	}

	ts, err := time.Parse(constants.LogTimestampFormat, line[:sep])
	if err != nil {
		return LogEntry{Content: line}
	}

	return LogEntry{
		Timestamp: ts,
		Content:   line[sep+len(constants.LogEntrySeparator):],
	}
}
