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
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a configuration was rejected.
type ErrorKind string

const (
	// KindCyclicDependency means the dependsOn graph contains a cycle.
	KindCyclicDependency ErrorKind = "cyclic_dependency"
	// KindUnknownDependency means a service depends on a name that is not
	// defined, or on itself.
	KindUnknownDependency ErrorKind = "unknown_dependency"
	// KindInvalidValue covers scalar field problems such as a missing
	// command or a non-positive timeout.
	KindInvalidValue ErrorKind = "invalid_value"
	// KindMalformedQuietHours means the backup quiet-hours window could not
	// be parsed.
	KindMalformedQuietHours ErrorKind = "malformed_quiet_hours"
)

// ConfigError is the only error class that halts the agent: the config is
// unusable and nothing may start. Services lists the definitions involved,
// e.g. the members of a dependency cycle.
type ConfigError struct {
	Kind     ErrorKind
	Detail   string
	Services []string
}

func (e *ConfigError) Error() string {
	if len(e.Services) > 0 {
		return fmt.Sprintf("invalid config (%s): %s [services: %s]", e.Kind, e.Detail, strings.Join(e.Services, ", "))
	}

	return fmt.Sprintf("invalid config (%s): %s", e.Kind, e.Detail)
}

// NewConfigError builds a ConfigError for the given kind and services.
func NewConfigError(kind ErrorKind, detail string, services ...string) *ConfigError {
	return &ConfigError{Kind: kind, Detail: detail, Services: services}
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError

	return errors.As(err, &cfgErr)
}

// AsConfigError unwraps err into a ConfigError, or returns nil.
func AsConfigError(err error) *ConfigError {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr
	}

	return nil
}
