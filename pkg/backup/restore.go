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
	"archive/tar"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/sha3"

	"github.com/warden-systems/warden-core/pkg/constants"
)

// Restore replaces the live system state with the named backup's. It
// verifies metadata and digests first, stages everything under a hidden
// directory in the data dir, and swaps with same-filesystem renames.
// Failures before the swap leave the live state untouched; a failed
// rename during the swap rolls the displaced state back.
func (m *Manager) Restore(ctx context.Context, id string) error {
	if _, err := ParseBackupID(id); err != nil {
		return &RestoreError{ID: id, Err: ErrBackupNotFound}
	}

	dir := filepath.Join(m.backupRoot(), id)
	if exists, err := m.fsService.PathExists(ctx, dir); err != nil {
		return &RestoreError{ID: id, Err: err}
	} else if !exists {
		return &RestoreError{ID: id, Err: ErrBackupNotFound}
	}

	// A directory without the commit marker never was a backup.
	metaPath := filepath.Join(dir, constants.BackupMetadataFileName)
	if exists, err := m.fsService.PathExists(ctx, metaPath); err != nil {
		return &RestoreError{ID: id, Err: err}
	} else if !exists {
		return &RestoreError{ID: id, Err: ErrBackupNotFound}
	}

	meta, err := m.readMetadata(ctx, id)
	if err != nil {
		return &RestoreError{ID: id, Err: err}
	}

	if err := m.checkVersion(meta); err != nil {
		return &RestoreError{ID: id, Err: err}
	}

	if err := m.verifyManifest(ctx, dir, meta); err != nil {
		return &RestoreError{ID: id, Err: err}
	}

	staging := filepath.Join(m.dataDir, constants.RestoreStagingPrefix+uuid.New().String())

	if err := m.stage(ctx, dir, meta, staging); err != nil {
		m.discardStaging(staging, id)

		return &RestoreError{ID: id, Err: err}
	}

	if err := m.swap(ctx, staging, meta); err != nil {
		m.discardStaging(staging, id)

		return &RestoreError{ID: id, Err: err}
	}

	m.discardStaging(staging, id)
	m.logger.Infof("restored backup %s", id)

	return nil
}

// discardStaging removes the staging directory, which also takes any
// displaced artifacts parked inside it. Cleanup must proceed even when
// the operation's context is already dead.
func (m *Manager) discardStaging(staging, id string) {
	if err := m.fsService.RemoveAll(context.Background(), staging); err != nil {
		m.logger.Warnf("staging cleanup after restore of %s failed: %s", id, err)
	}
}

// checkVersion refuses backups written under an incompatible format
// major.
func (m *Manager) checkVersion(meta Metadata) error {
	have, err := semver.NewVersion(meta.FormatVersion)
	if err != nil {
		return fmt.Errorf("metadata carries invalid format version %q", meta.FormatVersion)
	}

	want, err := semver.NewVersion(constants.BackupFormatVersion)
	if err != nil {
		return fmt.Errorf("parsing own format version: %w", err)
	}

	if have.Major() != want.Major() {
		return fmt.Errorf("format version %s is incompatible with %s", meta.FormatVersion, constants.BackupFormatVersion)
	}

	return nil
}

// verifyManifest re-hashes every artifact against the recorded digests,
// so a bit-rotted backup is rejected before any state is touched.
func (m *Manager) verifyManifest(ctx context.Context, dir string, meta Metadata) error {
	if len(meta.Manifest) == 0 {
		return fmt.Errorf("manifest is empty")
	}

	for _, entry := range meta.Manifest {
		if entry.Path != filepath.Base(entry.Path) || entry.Path == "." {
			return fmt.Errorf("manifest entry %q is not a plain file name", entry.Path)
		}

		sum, size, err := m.hashFile(ctx, filepath.Join(dir, entry.Path))
		if err != nil {
			return fmt.Errorf("verifying %s: %w", entry.Path, err)
		}
		if size != entry.SizeBytes {
			return fmt.Errorf("artifact %s is %d bytes, manifest records %d", entry.Path, size, entry.SizeBytes)
		}
		if sum != entry.Digest {
			return fmt.Errorf("digest mismatch for %s", entry.Path)
		}
	}

	return nil
}

func (m *Manager) hashFile(ctx context.Context, path string) (string, int64, error) {
	f, err := m.fsService.Open(ctx, path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	digest := sha3.New256()
	n, err := io.Copy(digest, f)
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(digest.Sum(nil)), n, nil
}

// stage materializes the backup under the staging directory: the state
// tree extracted to <staging>/state, the store file copied next to it.
// Nothing outside staging is touched.
func (m *Manager) stage(ctx context.Context, dir string, meta Metadata, staging string) error {
	if err := m.fsService.EnsureDirectory(ctx, staging); err != nil {
		return err
	}

	if err := m.extractArchive(ctx, filepath.Join(dir, constants.BackupStateArchiveName), filepath.Join(staging, constants.StateDirName)); err != nil {
		return fmt.Errorf("extracting state archive: %w", err)
	}

	if meta.HasArtifact(constants.StoreFileName) {
		if err := m.copyFile(ctx, filepath.Join(dir, constants.StoreFileName), filepath.Join(staging, constants.StoreFileName)); err != nil {
			return fmt.Errorf("staging store file: %w", err)
		}
	}

	return nil
}

func (m *Manager) copyFile(ctx context.Context, src, dst string) error {
	in, err := m.fsService.Open(ctx, src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := m.fsService.CreateFile(ctx, dst, constants.FilePermissions)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}

// extractArchive unpacks a tar.gz into targetDir. Entry names are
// relative; anything that would land outside targetDir is rejected.
func (m *Manager) extractArchive(ctx context.Context, archivePath, targetDir string) error {
	f, err := m.fsService.Open(ctx, archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip.NewReader failed: %w", err)
	}
	defer func() { _ = gz.Close() }()

	if err := m.fsService.EnsureDirectory(ctx, targetDir); err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		targetPath := filepath.Join(targetDir, header.Name)
		if !strings.HasPrefix(filepath.Clean(targetPath), filepath.Clean(targetDir)) {
			return fmt.Errorf("archive entry %q escapes the target directory", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := m.fsService.EnsureDirectory(ctx, targetPath); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := m.fsService.EnsureDirectory(ctx, filepath.Dir(targetPath)); err != nil {
				return err
			}
			out, err := m.fsService.CreateFile(ctx, targetPath, os.FileMode(header.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()

				return fmt.Errorf("extracting %s: %w", header.Name, err)
			}
			if err := out.Close(); err != nil {
				return err
			}
		default:
			m.logger.Warnf("skipping archive entry %s: unsupported type %d", header.Name, header.Typeflag)
		}
	}

	return nil
}

// swap installs the staged artifacts over the live state. Displaced
// artifacts are parked inside the staging directory so a single cleanup
// takes them, and every rename stays on one filesystem.
func (m *Manager) swap(ctx context.Context, staging string, meta Metadata) error {
	liveState := filepath.Join(m.dataDir, constants.StateDirName)
	liveStore := filepath.Join(m.dataDir, constants.StoreFileName)
	stagedState := filepath.Join(staging, constants.StateDirName)
	stagedStore := filepath.Join(staging, constants.StoreFileName)
	displacedState := filepath.Join(staging, "displaced-state")
	displacedStore := filepath.Join(staging, "displaced-"+constants.StoreFileName)

	stateDisplaced, err := m.displace(ctx, liveState, displacedState)
	if err != nil {
		return err
	}

	if err := m.fsService.Rename(ctx, stagedState, liveState); err != nil {
		m.putBack(stateDisplaced, displacedState, liveState)

		return fmt.Errorf("installing staged state tree: %w", err)
	}

	storeDisplaced, err := m.displace(ctx, liveStore, displacedStore)
	if err != nil {
		m.backOutState(stagedState, liveState, displacedState, stateDisplaced)

		return err
	}

	if meta.HasArtifact(constants.StoreFileName) {
		if err := m.fsService.Rename(ctx, stagedStore, liveStore); err != nil {
			m.putBack(storeDisplaced, displacedStore, liveStore)
			m.backOutState(stagedState, liveState, displacedState, stateDisplaced)

			return fmt.Errorf("installing staged store file: %w", err)
		}
	}

	return nil
}

// displace moves path into the staging parking spot when it exists.
func (m *Manager) displace(ctx context.Context, path, parking string) (bool, error) {
	exists, err := m.fsService.PathExists(ctx, path)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	if err := m.fsService.Rename(ctx, path, parking); err != nil {
		return false, fmt.Errorf("moving %s aside: %w", path, err)
	}

	return true, nil
}

// putBack returns a displaced artifact to its live location. Rollback
// must proceed even when the operation's context is already dead.
func (m *Manager) putBack(displaced bool, parking, live string) {
	if !displaced {
		return
	}
	if err := m.fsService.Rename(context.Background(), parking, live); err != nil {
		m.logger.Errorf("rollback failed, displaced copy remains at %s: %s", parking, err)
	}
}

// backOutState undoes an already-installed state tree after a later swap
// step failed.
func (m *Manager) backOutState(stagedState, liveState, displacedState string, stateDisplaced bool) {
	if err := m.fsService.Rename(context.Background(), liveState, stagedState); err != nil {
		m.logger.Errorf("cannot back out installed state tree: %s", err)

		return
	}
	m.putBack(stateDisplaced, displacedState, liveState)
}
