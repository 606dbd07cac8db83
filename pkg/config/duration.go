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

package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that marshals to and from the usual Go
// duration notation ("5s", "1m30s") instead of nanosecond integers, which is
// what yaml.v3 would otherwise produce for time.Duration fields.
type Duration time.Duration

// AsDuration converts back to a time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalYAML renders the duration as a string node.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts either a duration string or a bare integer, which is
// read as seconds. The integer form keeps hand-written configs like
// "timeout: 5" working.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("cannot parse %q as duration", value.Value)
	}

	if parsed, err := time.ParseDuration(asString); err == nil {
		*d = Duration(parsed)

		return nil
	}

	if seconds, err := strconv.ParseInt(asString, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)

		return nil
	}

	return fmt.Errorf("invalid duration %q", asString)
}
