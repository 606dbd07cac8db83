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

package models

// CreateBackupRequest is the body of the backup creation endpoint.
type CreateBackupRequest struct {
	// Reason defaults to "manual" when empty. "scheduled" and "shutdown"
	// are reserved for the agent itself.
	Reason string `json:"reason,omitempty"`
}

// CreateBackupResponse acknowledges a created backup.
type CreateBackupResponse struct {
	ID string `json:"id"`
}

// APIError is the error body returned by all API endpoints.
type APIError struct {
	Error string `json:"error"`
	// Retryable hints that the same request may succeed shortly,
	// for example when a backup is already in flight.
	Retryable bool `json:"retryable,omitempty"`
}
