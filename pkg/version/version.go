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

package version

import "github.com/warden-systems/warden-core/pkg/constants"

// AppVersion is injected at build time:
//
//	go build -ldflags "-X github.com/warden-systems/warden-core/pkg/version.AppVersion=1.2.3"
//
// Builds without the flag report constants.DefaultAppVersion.
var AppVersion string

// Channel is injected the same way and names the release channel the build
// was published on.
var Channel string

// GetAppVersion returns the injected version or the development default.
func GetAppVersion() string {
	if AppVersion == "" {
		return constants.DefaultAppVersion
	}

	return AppVersion
}

// GetChannel returns the injected release channel or the default.
func GetChannel() string {
	if Channel == "" {
		return constants.DefaultReleaseChannel
	}

	return Channel
}
