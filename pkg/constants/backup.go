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
	// DefaultBackupIntervalMinutes is the cadence for scheduled backups.
	DefaultBackupIntervalMinutes = 60

	// DefaultMaxBackups is how many backups rotation retains.
	DefaultMaxBackups = 5

	// DefaultQuietHoursStart and DefaultQuietHoursEnd define the window in
	// which scheduled backups are suppressed. The window may span midnight.
	// Manual and shutdown backups ignore it.
	DefaultQuietHoursStart = "23:00"
	DefaultQuietHoursEnd   = "06:00"

	// BackupIDPrefix and BackupIDTimeLayout together form backup identifiers
	// such as backup_20260114_153000. The layout sorts lexicographically by
	// creation time, which rotation and listing rely on.
	BackupIDPrefix     = "backup_"
	BackupIDTimeLayout = "20060102_150405"

	// BackupMetadataFileName is written last inside a backup directory and
	// acts as the commit marker. Directories without it are incomplete.
	BackupMetadataFileName = "metadata.json"

	// BackupStateArchiveName is the gzip archive of the state-file tree.
	BackupStateArchiveName = "state.tar.gz"

	// BackupFormatVersion is stamped into metadata. Restore refuses backups
	// whose major version differs.
	BackupFormatVersion = "1.0.0"

	// BackupFreeSpaceSlack is the extra free space required beyond the
	// estimated backup size before a backup is attempted.
	BackupFreeSpaceSlack = 64 << 20 // 64 MiB

	// DefaultBackupTimeout bounds a single backup or restore operation.
	DefaultBackupTimeout = 5 * time.Minute

	// RestoreStagingPrefix names the temporary directory restores stage
	// into before the atomic swap.
	RestoreStagingPrefix = ".restore-"

	// StatusRecentBackups is how many backups the status payload lists.
	StatusRecentBackups = 3

	// StatusRecentEvents is how many journal entries the status payload
	// lists.
	StatusRecentEvents = 25
)
