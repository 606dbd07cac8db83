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
	"fmt"
	"strings"
	"time"

	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/models"
)

// Reason records what triggered a backup.
type Reason string

const (
	// ReasonScheduled marks backups taken by the cadence.
	ReasonScheduled Reason = "scheduled"
	// ReasonManual marks backups requested through the API or CLI.
	ReasonManual Reason = "manual"
	// ReasonShutdown marks the final backup of an agent shutdown.
	ReasonShutdown Reason = "shutdown"
)

// ValidReason reports whether the reason is one the worker accepts.
func ValidReason(r Reason) bool {
	switch r {
	case ReasonScheduled, ReasonManual, ReasonShutdown:
		return true
	default:
		return false
	}
}

// ManifestEntry describes one artifact inside a backup directory.
type ManifestEntry struct {
	// Path is the artifact's file name, always a plain name without
	// directory components.
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
	// Digest is the hex sha3-256 of the artifact as stored.
	Digest string `json:"digest"`
}

// Metadata is the commit record of a backup, written last into its
// directory. A directory without it is not a backup. Immutable once
// written; rotation removes whole directories, never edits them.
type Metadata struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	Reason        Reason    `json:"reason"`
	FormatVersion string    `json:"formatVersion"`
	// Manifest lists every artifact with its size and digest. Restore
	// verifies all of them before touching live state.
	Manifest       []ManifestEntry `json:"manifest"`
	TotalSizeBytes int64           `json:"totalSizeBytes"`
}

// HasArtifact reports whether the manifest records the named file.
func (m Metadata) HasArtifact(name string) bool {
	for _, entry := range m.Manifest {
		if entry.Path == name {
			return true
		}
	}

	return false
}

// Summary converts to the wire form used by the status payload.
func (m Metadata) Summary() models.BackupSummary {
	return models.BackupSummary{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		Reason:    string(m.Reason),
		SizeBytes: m.TotalSizeBytes,
		Artifacts: len(m.Manifest),
	}
}

// NewBackupID stamps an identifier from the creation time. Identifiers
// sort lexicographically by creation time, which listing and rotation
// rely on.
func NewBackupID(t time.Time) string {
	return constants.BackupIDPrefix + t.UTC().Format(constants.BackupIDTimeLayout)
}

// ParseBackupID validates an identifier and extracts its creation time.
func ParseBackupID(id string) (time.Time, error) {
	raw, ok := strings.CutPrefix(id, constants.BackupIDPrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("backup id %q does not start with %q", id, constants.BackupIDPrefix)
	}

	t, err := time.Parse(constants.BackupIDTimeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("backup id %q carries no valid timestamp", id)
	}

	return t, nil
}
