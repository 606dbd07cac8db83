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

// Host monitor constants
const (
	// Thresholds for determining critical health status
	CPUCriticalPercent    = 90.0
	MemoryCriticalPercent = 90.0
	DiskCriticalPercent   = 90.0

	// HostWarningFraction of a critical threshold flips the health message
	// to a warning without degrading the category.
	HostWarningFraction = 0.8

	// Observed/desired state names used in host health blocks
	HostStateRunning  = "running"
	HostStateNormal   = "normal"
	HostStateWarning  = "warning"
	HostStateCritical = "critical"
)
