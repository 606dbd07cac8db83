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

package filesystem_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/warden-systems/warden-core/pkg/service/filesystem"
)

var _ = Describe("DefaultService", func() {
	var (
		tmpDir string
		ctx    context.Context
		cancel context.CancelFunc
		svc    filesystem.Service
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		tmpDir = GinkgoT().TempDir()
		svc = filesystem.NewDefaultService()
	})

	AfterEach(func() {
		cancel()
	})

	Describe("ReadFile and WriteFile", func() {
		It("round-trips file contents", func() {
			path := filepath.Join(tmpDir, "notes.txt")
			Expect(svc.WriteFile(ctx, path, []byte("hello"), 0644)).To(Succeed())

			data, err := svc.ReadFile(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("hello"))
		})

		It("returns fresh contents after WriteFile on a cached yaml path", func() {
			path := filepath.Join(tmpDir, "config.yaml")
			Expect(svc.WriteFile(ctx, path, []byte("a: 1"), 0644)).To(Succeed())

			data, err := svc.ReadFile(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("a: 1"))

			// Rewrite through the service; the cached entry must be dropped.
			Expect(svc.WriteFile(ctx, path, []byte("a: 2"), 0644)).To(Succeed())

			data, err = svc.ReadFile(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("a: 2"))
		})

		It("detects out-of-band edits to a cached yaml path via stat", func() {
			path := filepath.Join(tmpDir, "config.yaml")
			Expect(svc.WriteFile(ctx, path, []byte("a: 1"), 0644)).To(Succeed())

			_, err := svc.ReadFile(ctx, path)
			Expect(err).NotTo(HaveOccurred())

			// Edit behind the service's back with a different size, as an
			// operator editing the config file would.
			Expect(os.WriteFile(path, []byte("a: 1\nb: 2"), 0644)).To(Succeed())

			data, err := svc.ReadFile(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("a: 1\nb: 2"))
		})

		It("fails for a missing file", func() {
			_, err := svc.ReadFile(ctx, filepath.Join(tmpDir, "ghost.txt"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("PathExists", func() {
		It("reports existence and honors removal under a cached run path", func() {
			runDir := filepath.Join(tmpDir, "run")
			Expect(svc.EnsureDirectory(ctx, runDir)).To(Succeed())
			pidFile := filepath.Join(runDir, "store.pid")

			exists, err := svc.PathExists(ctx, pidFile)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())

			Expect(svc.WriteFile(ctx, pidFile, []byte("1234"), 0644)).To(Succeed())

			exists, err = svc.PathExists(ctx, pidFile)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())

			// Remove through the service; the cached positive must be dropped
			// so the next check sees the file gone.
			Expect(svc.Remove(ctx, pidFile)).To(Succeed())

			exists, err = svc.PathExists(ctx, pidFile)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})

	Describe("EnsureDirectory", func() {
		It("creates nested directories", func() {
			nested := filepath.Join(tmpDir, "a", "b", "c")
			Expect(svc.EnsureDirectory(ctx, nested)).To(Succeed())

			info, err := svc.Stat(ctx, nested)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})

		It("is idempotent", func() {
			dir := filepath.Join(tmpDir, "d")
			Expect(svc.EnsureDirectory(ctx, dir)).To(Succeed())
			Expect(svc.EnsureDirectory(ctx, dir)).To(Succeed())
		})
	})

	Describe("Rename", func() {
		It("moves a file to the new path", func() {
			oldPath := filepath.Join(tmpDir, "staged")
			newPath := filepath.Join(tmpDir, "final")
			Expect(svc.WriteFile(ctx, oldPath, []byte("payload"), 0644)).To(Succeed())

			Expect(svc.Rename(ctx, oldPath, newPath)).To(Succeed())

			exists, err := svc.PathExists(ctx, oldPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())

			data, err := svc.ReadFile(ctx, newPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("payload"))
		})
	})

	Describe("CreateFile and Open", func() {
		It("streams data through file handles", func() {
			path := filepath.Join(tmpDir, "archive.bin")

			w, err := svc.CreateFile(ctx, path, 0600)
			Expect(err).NotTo(HaveOccurred())
			_, err = w.Write([]byte("streamed"))
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Close()).To(Succeed())

			r, err := svc.Open(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = r.Close() }()

			buf := make([]byte, 16)
			n, err := r.Read(buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(buf[:n])).To(Equal("streamed"))
		})
	})

	Describe("ReadDir", func() {
		It("lists directory entries", func() {
			Expect(svc.WriteFile(ctx, filepath.Join(tmpDir, "one"), []byte("1"), 0644)).To(Succeed())
			Expect(svc.WriteFile(ctx, filepath.Join(tmpDir, "two"), []byte("2"), 0644)).To(Succeed())

			entries, err := svc.ReadDir(ctx, tmpDir)
			Expect(err).NotTo(HaveOccurred())

			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			Expect(names).To(ConsistOf("one", "two"))
		})
	})

	Describe("context handling", func() {
		It("rejects operations on a cancelled context", func() {
			cancelledCtx, cancelNow := context.WithCancel(context.Background())
			cancelNow()

			_, err := svc.ReadFile(cancelledCtx, filepath.Join(tmpDir, "any"))
			Expect(err).To(HaveOccurred())

			err = svc.WriteFile(cancelledCtx, filepath.Join(tmpDir, "any"), []byte("x"), 0644)
			Expect(err).To(HaveOccurred())
		})
	})
})
