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

package backup

import (
	"errors"
	"fmt"
)

// ErrBackupNotFound marks an id that names no committed backup: unknown,
// malformed, or a directory without its metadata commit marker.
var ErrBackupNotFound = errors.New("backup does not exist")

// ErrInvalidReason marks a create request whose reason is not one of
// scheduled, manual, or shutdown.
var ErrInvalidReason = errors.New("invalid backup reason")

// BackupError wraps a failure while creating, listing, or rotating
// backups. Prior backups and the live state are intact whenever one is
// returned.
type BackupError struct {
	Op  string
	Err error
	// Retryable marks the in-flight conflict: another backup or restore
	// holds the worker and the caller can simply try again later.
	Retryable bool
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup %s: %s", e.Op, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

// RestoreError wraps a failure while restoring. The live state is
// unchanged unless the message says otherwise, failures before the swap
// never touch it.
type RestoreError struct {
	ID  string
	Err error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore %s: %s", e.ID, e.Err)
}

func (e *RestoreError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error is an in-flight conflict the
// caller should retry later. The API maps these to 409.
func IsRetryable(err error) bool {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Retryable
	}

	return false
}
