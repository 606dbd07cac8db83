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

package backup_test

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/sha3"

	"github.com/warden-systems/warden-core/pkg/backup"
	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
)

// failingFS fails WriteFile for one path suffix and delegates the rest.
type failingFS struct {
	filesystem.Service
	failSuffix string
}

func (f *failingFS) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if strings.HasSuffix(path, f.failSuffix) {
		return errors.New("disk full")
	}

	return f.Service.WriteFile(ctx, path, data, perm)
}

func seedState(dataDir string) {
	stateDir := filepath.Join(dataDir, constants.StateDirName)
	Expect(os.MkdirAll(filepath.Join(stateDir, "segments"), 0o755)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(stateDir, "positions.json"), []byte(`{"offset":42}`), 0o644)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(stateDir, "segments", "segment-0001"), []byte("segment payload"), 0o644)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dataDir, constants.StoreFileName), []byte("store bytes v1"), 0o644)).To(Succeed())
}

func backupDir(dataDir, id string) string {
	return filepath.Join(dataDir, constants.BackupsDirName, id)
}

func readMetadataFile(dataDir, id string) backup.Metadata {
	payload, err := os.ReadFile(filepath.Join(backupDir(dataDir, id), constants.BackupMetadataFileName))
	Expect(err).NotTo(HaveOccurred())

	var meta backup.Metadata
	Expect(json.Unmarshal(payload, &meta)).To(Succeed())

	return meta
}

func writeMetadataFile(dataDir, id string, meta backup.Metadata) {
	payload, err := json.MarshalIndent(meta, "", "  ")
	Expect(err).NotTo(HaveOccurred())
	Expect(os.WriteFile(filepath.Join(backupDir(dataDir, id), constants.BackupMetadataFileName), payload, 0o644)).To(Succeed())
}

func sha3Hex(data []byte) string {
	digest := sha3.New256()
	_, err := digest.Write(data)
	Expect(err).NotTo(HaveOccurred())

	return hex.EncodeToString(digest.Sum(nil))
}

func manifestFor(meta backup.Metadata, name string) backup.ManifestEntry {
	for _, entry := range meta.Manifest {
		if entry.Path == name {
			return entry
		}
	}
	Fail(fmt.Sprintf("manifest has no entry for %s", name))

	return backup.ManifestEntry{}
}

// stagingLeftovers lists stray restore staging directories in the data dir.
func stagingLeftovers(dataDir string) []string {
	entries, err := os.ReadDir(dataDir)
	Expect(err).NotTo(HaveOccurred())

	var stray []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), constants.RestoreStagingPrefix) {
			stray = append(stray, entry.Name())
		}
	}

	return stray
}

var _ = Describe("Manager", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		dataDir string
		clock   time.Time
		manager *backup.Manager
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		dataDir = GinkgoT().TempDir()
		clock = time.Date(2026, 1, 14, 15, 30, 0, 0, time.UTC)
		manager = backup.NewManager(filesystem.NewDefaultService(),
			backup.WithDataDir(dataDir),
			backup.WithMaxBackups(5),
			backup.WithClock(func() time.Time { return clock }),
		)
	})

	AfterEach(func() {
		cancel()
	})

	Describe("Create", func() {
		It("captures the store file and state tree into a committed backup", func() {
			seedState(dataDir)

			meta, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta.ID).To(Equal("backup_20260114_153000"))
			Expect(meta.Reason).To(Equal(backup.ReasonManual))
			Expect(meta.FormatVersion).To(Equal(constants.BackupFormatVersion))
			Expect(meta.CreatedAt).To(BeTemporally("==", clock))
			Expect(meta.Manifest).To(HaveLen(2))

			store := manifestFor(meta, constants.StoreFileName)
			archive := manifestFor(meta, constants.BackupStateArchiveName)
			Expect(store.SizeBytes).To(BeNumerically(">", 0))
			Expect(archive.SizeBytes).To(BeNumerically(">", 0))
			Expect(store.Digest).To(HaveLen(64))
			Expect(archive.Digest).To(HaveLen(64))
			Expect(meta.TotalSizeBytes).To(Equal(store.SizeBytes + archive.SizeBytes))

			onDisk := readMetadataFile(dataDir, meta.ID)
			Expect(onDisk.ID).To(Equal(meta.ID))
			Expect(onDisk.Manifest).To(Equal(meta.Manifest))
		})

		It("records digests that match the artifacts as stored", func() {
			seedState(dataDir)

			meta, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())

			for _, entry := range meta.Manifest {
				data, err := os.ReadFile(filepath.Join(backupDir(dataDir, meta.ID), entry.Path))
				Expect(err).NotTo(HaveOccurred())
				Expect(int64(len(data))).To(Equal(entry.SizeBytes))
				Expect(sha3Hex(data)).To(Equal(entry.Digest), "digest of %s", entry.Path)
			}
		})

		It("writes an archive that holds the state tree verbatim", func() {
			seedState(dataDir)

			meta, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())

			f, err := os.Open(filepath.Join(backupDir(dataDir, meta.ID), constants.BackupStateArchiveName))
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = f.Close() }()

			gz, err := gzip.NewReader(f)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = gz.Close() }()

			files := map[string]string{}
			var dirs []string
			tr := tar.NewReader(gz)
			for {
				header, err := tr.Next()
				if err == io.EOF {
					break
				}
				Expect(err).NotTo(HaveOccurred())

				if header.Typeflag == tar.TypeDir {
					dirs = append(dirs, header.Name)

					continue
				}

				var buf bytes.Buffer
				_, err = io.Copy(&buf, tr)
				Expect(err).NotTo(HaveOccurred())
				files[header.Name] = buf.String()
			}

			Expect(dirs).To(ConsistOf("segments/"))
			Expect(files).To(HaveLen(2))
			Expect(files["positions.json"]).To(Equal(`{"offset":42}`))
			Expect(files[filepath.Join("segments", "segment-0001")]).To(Equal("segment payload"))
		})

		It("captures only the state tree when the store file is absent", func() {
			seedState(dataDir)
			Expect(os.Remove(filepath.Join(dataDir, constants.StoreFileName))).To(Succeed())

			meta, err := manager.Create(ctx, backup.ReasonScheduled)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta.Manifest).To(HaveLen(1))
			Expect(meta.HasArtifact(constants.StoreFileName)).To(BeFalse())
			Expect(meta.HasArtifact(constants.BackupStateArchiveName)).To(BeTrue())
		})

		It("refuses a second backup within the same second", func() {
			seedState(dataDir)

			_, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())

			_, err = manager.Create(ctx, backup.ReasonManual)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("already exists"))

			var backupErr *backup.BackupError
			Expect(errors.As(err, &backupErr)).To(BeTrue())
			Expect(backupErr.Retryable).To(BeFalse())
		})

		It("evicts the oldest backups beyond the retention limit", func() {
			seedState(dataDir)

			ids := make([]string, 0, 7)
			for i := 0; i < 7; i++ {
				meta, err := manager.Create(ctx, backup.ReasonScheduled)
				Expect(err).NotTo(HaveOccurred())
				ids = append(ids, meta.ID)
				clock = clock.Add(time.Minute)
			}

			backups, err := manager.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(HaveLen(5))
			for i, meta := range backups {
				Expect(meta.ID).To(Equal(ids[6-i]))
			}

			entries, err := os.ReadDir(filepath.Join(dataDir, constants.BackupsDirName))
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(5))
			Expect(backupDir(dataDir, ids[0])).NotTo(BeADirectory())
			Expect(backupDir(dataDir, ids[1])).NotTo(BeADirectory())
		})

		It("removes the partial directory when the metadata write fails", func() {
			seedState(dataDir)
			manager = backup.NewManager(
				&failingFS{Service: filesystem.NewDefaultService(), failSuffix: constants.BackupMetadataFileName},
				backup.WithDataDir(dataDir),
				backup.WithClock(func() time.Time { return clock }),
			)

			_, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("disk full"))

			entries, err := os.ReadDir(filepath.Join(dataDir, constants.BackupsDirName))
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	Describe("List", func() {
		It("returns nothing when no backup was ever taken", func() {
			backups, err := manager.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(BeEmpty())
		})

		It("skips entries that are not committed backups", func() {
			seedState(dataDir)
			meta, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())

			root := filepath.Join(dataDir, constants.BackupsDirName)
			Expect(os.MkdirAll(filepath.Join(root, "backup_20270101_000000"), 0o755)).To(Succeed())
			Expect(os.MkdirAll(filepath.Join(root, "attic"), 0o755)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644)).To(Succeed())

			backups, err := manager.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(HaveLen(1))
			Expect(backups[0].ID).To(Equal(meta.ID))
		})

		It("orders newest first", func() {
			seedState(dataDir)
			for i := 0; i < 3; i++ {
				_, err := manager.Create(ctx, backup.ReasonScheduled)
				Expect(err).NotTo(HaveOccurred())
				clock = clock.Add(time.Hour)
			}

			backups, err := manager.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(HaveLen(3))
			Expect(backups[0].ID > backups[1].ID).To(BeTrue())
			Expect(backups[1].ID > backups[2].ID).To(BeTrue())
		})
	})

	Describe("Restore", func() {
		It("returns the system to the captured state bit for bit", func() {
			seedState(dataDir)
			meta, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())

			stateDir := filepath.Join(dataDir, constants.StateDirName)
			Expect(os.WriteFile(filepath.Join(stateDir, "positions.json"), []byte("tampered"), 0o644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(stateDir, "extra.tmp"), []byte("junk"), 0o644)).To(Succeed())
			Expect(os.Remove(filepath.Join(stateDir, "segments", "segment-0001"))).To(Succeed())
			Expect(os.WriteFile(filepath.Join(dataDir, constants.StoreFileName), []byte("store bytes v2"), 0o644)).To(Succeed())

			Expect(manager.Restore(ctx, meta.ID)).To(Succeed())

			Expect(os.ReadFile(filepath.Join(stateDir, "positions.json"))).To(Equal([]byte(`{"offset":42}`)))
			Expect(os.ReadFile(filepath.Join(stateDir, "segments", "segment-0001"))).To(Equal([]byte("segment payload")))
			Expect(filepath.Join(stateDir, "extra.tmp")).NotTo(BeAnExistingFile())
			Expect(os.ReadFile(filepath.Join(dataDir, constants.StoreFileName))).To(Equal([]byte("store bytes v1")))
			Expect(stagingLeftovers(dataDir)).To(BeEmpty())
		})

		It("installs the backup when nothing live exists", func() {
			seedState(dataDir)
			meta, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())

			Expect(os.RemoveAll(filepath.Join(dataDir, constants.StateDirName))).To(Succeed())
			Expect(os.Remove(filepath.Join(dataDir, constants.StoreFileName))).To(Succeed())

			Expect(manager.Restore(ctx, meta.ID)).To(Succeed())

			Expect(os.ReadFile(filepath.Join(dataDir, constants.StateDirName, "positions.json"))).To(Equal([]byte(`{"offset":42}`)))
			Expect(os.ReadFile(filepath.Join(dataDir, constants.StoreFileName))).To(Equal([]byte("store bytes v1")))
		})

		It("clears the live store file when the backup has none", func() {
			seedState(dataDir)
			Expect(os.Remove(filepath.Join(dataDir, constants.StoreFileName))).To(Succeed())
			meta, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())

			Expect(os.WriteFile(filepath.Join(dataDir, constants.StoreFileName), []byte("written later"), 0o644)).To(Succeed())

			Expect(manager.Restore(ctx, meta.ID)).To(Succeed())

			Expect(filepath.Join(dataDir, constants.StoreFileName)).NotTo(BeAnExistingFile())
			Expect(os.ReadFile(filepath.Join(dataDir, constants.StateDirName, "positions.json"))).To(Equal([]byte(`{"offset":42}`)))
		})

		It("rejects an unknown id", func() {
			err := manager.Restore(ctx, "backup_20990101_000000")
			Expect(errors.Is(err, backup.ErrBackupNotFound)).To(BeTrue())

			var restoreErr *backup.RestoreError
			Expect(errors.As(err, &restoreErr)).To(BeTrue())
			Expect(restoreErr.ID).To(Equal("backup_20990101_000000"))
		})

		It("rejects a malformed id", func() {
			err := manager.Restore(ctx, "bogus")
			Expect(errors.Is(err, backup.ErrBackupNotFound)).To(BeTrue())
		})

		It("rejects a directory without the commit marker", func() {
			id := "backup_20270102_030405"
			Expect(os.MkdirAll(backupDir(dataDir, id), 0o755)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(backupDir(dataDir, id), "stray"), []byte("x"), 0o644)).To(Succeed())

			err := manager.Restore(ctx, id)
			Expect(errors.Is(err, backup.ErrBackupNotFound)).To(BeTrue())
		})

		It("rejects a tampered artifact without touching live state", func() {
			seedState(dataDir)
			meta, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())

			storedCopy := filepath.Join(backupDir(dataDir, meta.ID), constants.StoreFileName)
			Expect(os.WriteFile(storedCopy, []byte("store bytes v1 plus rot"), 0o644)).To(Succeed())

			live := filepath.Join(dataDir, constants.StateDirName, "positions.json")
			Expect(os.WriteFile(live, []byte("live edit"), 0o644)).To(Succeed())

			err = manager.Restore(ctx, meta.ID)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("store.db"))

			Expect(os.ReadFile(live)).To(Equal([]byte("live edit")))
			Expect(stagingLeftovers(dataDir)).To(BeEmpty())
		})

		It("rejects an incompatible format version", func() {
			seedState(dataDir)
			meta, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())

			onDisk := readMetadataFile(dataDir, meta.ID)
			onDisk.FormatVersion = "2.0.0"
			writeMetadataFile(dataDir, meta.ID, onDisk)

			err = manager.Restore(ctx, meta.ID)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("incompatible"))
		})

		It("leaves live state untouched when staging fails", func() {
			seedState(dataDir)
			meta, err := manager.Create(ctx, backup.ReasonManual)
			Expect(err).NotTo(HaveOccurred())

			// Corrupt the archive and re-stamp its manifest entry so the
			// failure happens during extraction, past verification.
			garbage := []byte("this is not a gzip stream")
			archivePath := filepath.Join(backupDir(dataDir, meta.ID), constants.BackupStateArchiveName)
			Expect(os.WriteFile(archivePath, garbage, 0o644)).To(Succeed())

			onDisk := readMetadataFile(dataDir, meta.ID)
			for i := range onDisk.Manifest {
				if onDisk.Manifest[i].Path == constants.BackupStateArchiveName {
					onDisk.Manifest[i].SizeBytes = int64(len(garbage))
					onDisk.Manifest[i].Digest = sha3Hex(garbage)
				}
			}
			writeMetadataFile(dataDir, meta.ID, onDisk)

			err = manager.Restore(ctx, meta.ID)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("extracting state archive"))

			Expect(os.ReadFile(filepath.Join(dataDir, constants.StateDirName, "positions.json"))).To(Equal([]byte(`{"offset":42}`)))
			Expect(os.ReadFile(filepath.Join(dataDir, constants.StoreFileName))).To(Equal([]byte("store bytes v1")))
			Expect(stagingLeftovers(dataDir)).To(BeEmpty())
		})

		It("rejects an archive entry that escapes the target directory", func() {
			var buf bytes.Buffer
			gz := gzip.NewWriter(&buf)
			tw := tar.NewWriter(gz)
			content := []byte("boom")
			Expect(tw.WriteHeader(&tar.Header{
				Name:     "../evil.txt",
				Mode:     0o644,
				Size:     int64(len(content)),
				Typeflag: tar.TypeReg,
			})).To(Succeed())
			_, err := tw.Write(content)
			Expect(err).NotTo(HaveOccurred())
			Expect(tw.Close()).To(Succeed())
			Expect(gz.Close()).To(Succeed())

			id := "backup_20260202_020202"
			dir := backupDir(dataDir, id)
			Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(dir, constants.BackupStateArchiveName), buf.Bytes(), 0o644)).To(Succeed())
			writeMetadataFile(dataDir, id, backup.Metadata{
				ID:            id,
				CreatedAt:     time.Date(2026, 2, 2, 2, 2, 2, 0, time.UTC),
				Reason:        backup.ReasonManual,
				FormatVersion: constants.BackupFormatVersion,
				Manifest: []backup.ManifestEntry{{
					Path:      constants.BackupStateArchiveName,
					SizeBytes: int64(buf.Len()),
					Digest:    sha3Hex(buf.Bytes()),
				}},
				TotalSizeBytes: int64(buf.Len()),
			})

			err = manager.Restore(ctx, id)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("escapes the target directory"))
			Expect(filepath.Join(dataDir, "evil.txt")).NotTo(BeAnExistingFile())
			Expect(stagingLeftovers(dataDir)).To(BeEmpty())
		})
	})
})
