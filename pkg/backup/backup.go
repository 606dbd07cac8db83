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

// Package backup creates, lists, and restores snapshots of the system
// state: the structured store file plus the state-file tree, captured
// under <dataDir>/backups/<id>/ with a digest manifest.
//
// A backup directory is committed by its metadata.json, which is written
// last. Listing skips directories without it, so a crash mid-backup
// leaves nothing that could ever be restored. Restore verifies every
// manifest digest before it stages, and swaps staged artifacts into place
// with same-filesystem renames so the observable state is either the old
// or the new tree, never a mix.
package backup

import (
	"archive/tar"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sys/unix"

	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
)

// Service is the backup store. Implementations are not safe for
// concurrent mutation; the Worker serializes access.
type Service interface {
	// Create captures the current system state as a new backup and
	// rotates old ones out.
	Create(ctx context.Context, reason Reason) (Metadata, error)
	// List returns the committed backups, newest first.
	List(ctx context.Context) ([]Metadata, error)
	// Restore replaces the system state with the named backup's.
	Restore(ctx context.Context, id string) error
}

// Manager is the default Service implementation over a data directory.
type Manager struct {
	logger     *zap.SugaredLogger
	fsService  filesystem.Service
	dataDir    string
	maxBackups int
	now        func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDataDir overrides the data directory, used by tests.
func WithDataDir(dir string) ManagerOption {
	return func(m *Manager) {
		m.dataDir = dir
	}
}

// WithMaxBackups overrides how many backups rotation retains.
func WithMaxBackups(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 1 {
			m.maxBackups = n
		}
	}
}

// WithClock overrides the time source. Backup identifiers have one
// second resolution, so tests advance a fake clock between creates.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a backup manager rooted at the default data dir.
func NewManager(fsService filesystem.Service, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:     logger.For(logger.ComponentBackupManager),
		fsService:  fsService,
		dataDir:    constants.DefaultDataDir,
		maxBackups: constants.DefaultMaxBackups,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) backupRoot() string {
	return filepath.Join(m.dataDir, constants.BackupsDirName)
}

// Create captures store file and state tree into a fresh backup
// directory. Any failure removes the partial directory and leaves prior
// backups intact.
func (m *Manager) Create(ctx context.Context, reason Reason) (Metadata, error) {
	createdAt := m.now()
	id := NewBackupID(createdAt)
	dir := filepath.Join(m.backupRoot(), id)

	if err := m.fsService.EnsureDirectory(ctx, m.backupRoot()); err != nil {
		return Metadata{}, &BackupError{Op: "create", Err: err}
	}

	if err := m.preflight(ctx); err != nil {
		return Metadata{}, &BackupError{Op: "create", Err: err}
	}

	if exists, err := m.fsService.PathExists(ctx, dir); err != nil {
		return Metadata{}, &BackupError{Op: "create", Err: err}
	} else if exists {
		return Metadata{}, &BackupError{Op: "create", Err: fmt.Errorf("backup %s already exists", id)}
	}

	if err := m.fsService.EnsureDirectory(ctx, dir); err != nil {
		return Metadata{}, &BackupError{Op: "create", Err: err}
	}

	meta, err := m.fill(ctx, dir, id, createdAt, reason)
	if err != nil {
		// Cleanup must proceed even when the operation's context is
		// already dead.
		if cleanupErr := m.fsService.RemoveAll(context.Background(), dir); cleanupErr != nil {
			m.logger.Warnf("removing partial backup %s failed: %s", id, cleanupErr)
		}

		return Metadata{}, &BackupError{Op: "create", Err: err}
	}

	m.logger.Infof("backup %s created (%s, %d bytes)", id, reason, meta.TotalSizeBytes)

	if err := m.rotate(ctx); err != nil {
		// The new backup is committed; a rotation failure only delays
		// eviction until the next create.
		m.logger.Warnf("rotation after backup %s failed: %s", id, err)
	}

	return meta, nil
}

// fill writes the artifacts and finally the metadata commit marker.
func (m *Manager) fill(ctx context.Context, dir, id string, createdAt time.Time, reason Reason) (Metadata, error) {
	manifest := make([]ManifestEntry, 0, 2)

	storePath := filepath.Join(m.dataDir, constants.StoreFileName)
	storeExists, err := m.fsService.PathExists(ctx, storePath)
	if err != nil {
		return Metadata{}, err
	}
	if storeExists {
		entry, err := m.copyFileHashed(ctx, storePath, filepath.Join(dir, constants.StoreFileName))
		if err != nil {
			return Metadata{}, fmt.Errorf("copying store file: %w", err)
		}
		manifest = append(manifest, entry)
	} else {
		m.logger.Debugf("store file absent, backup %s captures the state tree only", id)
	}

	archiveEntry, err := m.archiveState(ctx, filepath.Join(dir, constants.BackupStateArchiveName))
	if err != nil {
		return Metadata{}, fmt.Errorf("archiving state tree: %w", err)
	}
	manifest = append(manifest, archiveEntry)

	var total int64
	for _, entry := range manifest {
		total += entry.SizeBytes
	}

	meta := Metadata{
		ID:             id,
		CreatedAt:      createdAt.UTC(),
		Reason:         reason,
		FormatVersion:  constants.BackupFormatVersion,
		Manifest:       manifest,
		TotalSizeBytes: total,
	}

	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Metadata{}, fmt.Errorf("encoding metadata: %w", err)
	}

	if err := m.fsService.WriteFile(ctx, filepath.Join(dir, constants.BackupMetadataFileName), payload, constants.FilePermissions); err != nil {
		return Metadata{}, fmt.Errorf("writing metadata: %w", err)
	}

	return meta, nil
}

// List returns committed backups newest first. Directories without the
// metadata commit marker are skipped with a warning.
func (m *Manager) List(ctx context.Context) ([]Metadata, error) {
	exists, err := m.fsService.PathExists(ctx, m.backupRoot())
	if err != nil {
		return nil, &BackupError{Op: "list", Err: err}
	}
	if !exists {
		return nil, nil
	}

	entries, err := m.fsService.ReadDir(ctx, m.backupRoot())
	if err != nil {
		return nil, &BackupError{Op: "list", Err: err}
	}

	backups := make([]Metadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if _, err := ParseBackupID(id); err != nil {
			continue
		}

		meta, err := m.readMetadata(ctx, id)
		if err != nil {
			m.logger.Warnf("skipping backup %s: %s", id, err)

			continue
		}
		backups = append(backups, meta)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ID > backups[j].ID
	})

	return backups, nil
}

func (m *Manager) readMetadata(ctx context.Context, id string) (Metadata, error) {
	payload, err := m.fsService.ReadFile(ctx, filepath.Join(m.backupRoot(), id, constants.BackupMetadataFileName))
	if err != nil {
		return Metadata{}, fmt.Errorf("reading metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parsing metadata: %w", err)
	}

	return meta, nil
}

// preflight refuses a backup that cannot fit: the backup root's
// filesystem must have free space for the current state plus slack.
func (m *Manager) preflight(ctx context.Context) error {
	need, err := m.stateSize(ctx)
	if err != nil {
		return err
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(m.backupRoot(), &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", m.backupRoot(), err)
	}

	free := int64(stat.Bavail) * stat.Bsize
	if free < need+constants.BackupFreeSpaceSlack {
		return fmt.Errorf("insufficient free space: %d bytes free, %d required", free, need+int64(constants.BackupFreeSpaceSlack))
	}

	return nil
}

// stateSize estimates the bytes a new backup will occupy: store file plus
// uncompressed state tree. Compression only shrinks the real usage, so
// the estimate errs safe.
func (m *Manager) stateSize(ctx context.Context) (int64, error) {
	var total int64

	storePath := filepath.Join(m.dataDir, constants.StoreFileName)
	if info, err := m.fsService.Stat(ctx, storePath); err == nil {
		total += info.Size()
	} else if !os.IsNotExist(err) {
		return 0, err
	}

	stateDir := filepath.Join(m.dataDir, constants.StateDirName)
	treeSize, err := m.sumTree(ctx, stateDir)
	if err != nil {
		return 0, err
	}

	return total + treeSize, nil
}

func (m *Manager) sumTree(ctx context.Context, root string) (int64, error) {
	exists, err := m.fsService.PathExists(ctx, root)
	if err != nil || !exists {
		return 0, err
	}

	var total int64
	entries, err := m.fsService.ReadDir(ctx, root)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		name := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			sub, err := m.sumTree(ctx, name)
			if err != nil {
				return 0, err
			}
			total += sub

			continue
		}

		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}

	return total, nil
}

// copyFileHashed streams src into dst and records size and digest of what
// was written.
func (m *Manager) copyFileHashed(ctx context.Context, src, dst string) (ManifestEntry, error) {
	in, err := m.fsService.Open(ctx, src)
	if err != nil {
		return ManifestEntry{}, err
	}
	defer func() { _ = in.Close() }()

	out, err := m.fsService.CreateFile(ctx, dst, constants.FilePermissions)
	if err != nil {
		return ManifestEntry{}, err
	}

	digest := sha3.New256()
	n, err := io.Copy(io.MultiWriter(out, digest), in)
	if err != nil {
		_ = out.Close()

		return ManifestEntry{}, err
	}
	if err := out.Close(); err != nil {
		return ManifestEntry{}, err
	}

	return ManifestEntry{
		Path:      filepath.Base(dst),
		SizeBytes: n,
		Digest:    hex.EncodeToString(digest.Sum(nil)),
	}, nil
}

// archiveState writes the state tree as a gzip-compressed tar. The digest
// covers the compressed artifact as stored, so verification never has to
// decompress. A missing state tree yields a valid empty archive, restores
// of such a backup clear the tree.
func (m *Manager) archiveState(ctx context.Context, dst string) (ManifestEntry, error) {
	out, err := m.fsService.CreateFile(ctx, dst, constants.FilePermissions)
	if err != nil {
		return ManifestEntry{}, err
	}

	digest := sha3.New256()
	gz := gzip.NewWriter(io.MultiWriter(out, digest))
	tw := tar.NewWriter(gz)

	stateDir := filepath.Join(m.dataDir, constants.StateDirName)
	walkErr := m.writeTree(ctx, tw, stateDir)

	// Close in reverse order so the gzip trailer lands in the file even
	// when the walk failed, the partial artifact is removed by the caller.
	if err := tw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := gz.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := out.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		return ManifestEntry{}, walkErr
	}

	info, err := m.fsService.Stat(ctx, dst)
	if err != nil {
		return ManifestEntry{}, err
	}

	return ManifestEntry{
		Path:      filepath.Base(dst),
		SizeBytes: info.Size(),
		Digest:    hex.EncodeToString(digest.Sum(nil)),
	}, nil
}

// writeTree adds every file under root to the archive with paths relative
// to root. The state tree is expected to hold plain files and
// directories; anything else is skipped with a warning.
func (m *Manager) writeTree(ctx context.Context, tw *tar.Writer, root string) error {
	exists, err := m.fsService.PathExists(ctx, root)
	if err != nil || !exists {
		return err
	}

	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		entries, err := m.fsService.ReadDir(ctx, dir)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}

			name := filepath.Join(dir, entry.Name())
			relName := filepath.Join(rel, entry.Name())

			info, err := entry.Info()
			if err != nil {
				return err
			}

			if entry.IsDir() {
				header := &tar.Header{
					Name:     relName + "/",
					Mode:     int64(info.Mode().Perm()),
					ModTime:  info.ModTime(),
					Typeflag: tar.TypeDir,
				}
				if err := tw.WriteHeader(header); err != nil {
					return err
				}
				if err := walk(name, relName); err != nil {
					return err
				}

				continue
			}

			if !info.Mode().IsRegular() {
				m.logger.Warnf("skipping %s: not a regular file", name)

				continue
			}

			header := &tar.Header{
				Name:     relName,
				Mode:     int64(info.Mode().Perm()),
				Size:     info.Size(),
				ModTime:  info.ModTime(),
				Typeflag: tar.TypeReg,
			}
			if err := tw.WriteHeader(header); err != nil {
				return err
			}

			f, err := m.fsService.Open(ctx, name)
			if err != nil {
				return err
			}
			if _, err := io.Copy(tw, f); err != nil {
				_ = f.Close()

				return fmt.Errorf("archiving %s: %w", name, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
		}

		return nil
	}

	return walk(root, "")
}

// rotate deletes the oldest backups beyond the retention limit, oldest
// first so an interrupted rotation still converges.
func (m *Manager) rotate(ctx context.Context) error {
	backups, err := m.List(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= m.maxBackups {
		return nil
	}

	doomed := backups[m.maxBackups:]
	for i := len(doomed) - 1; i >= 0; i-- {
		id := doomed[i].ID
		if err := m.fsService.RemoveAll(ctx, filepath.Join(m.backupRoot(), id)); err != nil {
			return fmt.Errorf("removing %s: %w", id, err)
		}
		m.logger.Infof("rotated out backup %s", id)
	}

	return nil
}
