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

const (
	// DefaultAppVersion is reported by builds without an injected version.
	// Error reporting stays disabled for such builds.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment is the reporting environment for
	// prerelease builds.
	DefaultDevelopmentEnvironment = "development"

	// DefaultProductionEnvironment is the reporting environment for
	// tagged release builds.
	DefaultProductionEnvironment = "production"

	// DefaultReleaseChannel is reported in the status payload when the build
	// carries no channel information.
	DefaultReleaseChannel = "stable"
)
