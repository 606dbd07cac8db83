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

package filesystem

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/warden-systems/warden-core/pkg/metrics"
)

// CachedPath represents a cached path existence check result.
type CachedPath struct {
	exists bool
	err    error
	expiry time.Time
}

// PathCache provides thread-safe caching for path existence checks.
type PathCache struct {
	mu    sync.RWMutex
	cache map[string]*CachedPath
}

// CachedFileContent represents cached file content with metadata for invalidation.
type CachedFileContent struct {
	content   []byte
	modTime   time.Time
	size      int64
	lastCheck time.Time // When we last did a stat check
}

// FileCache provides thread-safe caching for file contents
type FileCache struct {
	mu    sync.RWMutex
	cache map[string]*CachedFileContent
}

// DefaultService is the default implementation of the filesystem Service.
type DefaultService struct {
	pathCache PathCache
	fileCache FileCache
}

// NewDefaultService creates a new DefaultService.
func NewDefaultService() *DefaultService {
	return &DefaultService{
		pathCache: PathCache{
			cache: make(map[string]*CachedPath),
		},
		fileCache: FileCache{
			cache: make(map[string]*CachedFileContent),
		},
	}
}

// recordOp records filesystem operation metrics
func (s *DefaultService) recordOp(op string, path string, start time.Time, cached bool) {
	metrics.RecordFilesystemOp(op, path, cached, time.Since(start))
}

// checkContext checks if the context is done before proceeding with an operation.
func (s *DefaultService) checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// invalidate drops any cached knowledge about a path after a mutation.
func (s *DefaultService) invalidate(path string) {
	s.pathCache.mu.Lock()
	delete(s.pathCache.cache, path)
	s.pathCache.mu.Unlock()

	s.fileCache.mu.Lock()
	delete(s.fileCache.cache, path)
	s.fileCache.mu.Unlock()
}

// EnsureDirectory creates a directory if it doesn't exist.
func (s *DefaultService) EnsureDirectory(ctx context.Context, path string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return fmt.Errorf("failed to check context: %w", err)
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.MkdirAll(path, 0755)
	}()

	select {
	case err := <-errCh:
		s.recordOp("EnsureDirectory", path, start, false)
		if err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
		return nil
	case <-ctx.Done():
		s.recordOp("EnsureDirectory", path, start, false)
		return ctx.Err()
	}
}

// ReadFile reads a file's contents respecting the context.
//
// The control loop reads the agent config on every tick and the backup
// manager re-reads per-backup metadata on every list, so small yaml/json
// files are cached with stat-based invalidation: content is served from
// memory while modtime and size are unchanged.
func (s *DefaultService) ReadFile(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to check context: %w", err)
	}

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".json") {
		s.fileCache.mu.RLock()
		cached, exists := s.fileCache.cache[path]
		s.fileCache.mu.RUnlock()

		// Stat to check if the file changed
		stat, err := os.Stat(path)
		if err != nil {
			// File doesn't exist or error - invalidate cache and return error
			if exists {
				s.fileCache.mu.Lock()
				delete(s.fileCache.cache, path)
				s.fileCache.mu.Unlock()
			}
			s.recordOp("ReadFile", path, start, false)
			return nil, err
		}

		// If we have a cached version and the file hasn't changed, return it
		if exists && cached.modTime.Equal(stat.ModTime()) && cached.size == stat.Size() {
			if time.Since(cached.lastCheck) >= 10*time.Second {
				s.fileCache.mu.Lock()
				cached.lastCheck = time.Now()
				s.fileCache.mu.Unlock()
			}
			s.recordOp("ReadFile", path, start, true)
			return cached.content, nil
		}

		// File changed or not in cache - read it
		content, err := s.readFileUncached(ctx, path, start)
		if err != nil {
			return nil, err
		}

		s.fileCache.mu.Lock()
		s.fileCache.cache[path] = &CachedFileContent{
			content:   content,
			modTime:   stat.ModTime(),
			size:      stat.Size(),
			lastCheck: time.Now(),
		}
		s.fileCache.mu.Unlock()

		return content, nil
	}

	// Don't cache other paths
	return s.readFileUncached(ctx, path, start)
}

// readFileUncached performs the actual file read without caching
func (s *DefaultService) readFileUncached(ctx context.Context, path string, start time.Time) ([]byte, error) {
	type result struct {
		err  error
		data []byte
	}

	resCh := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(path)
		resCh <- result{err: err, data: data}
	}()

	select {
	case res := <-resCh:
		s.recordOp("ReadFile", path, start, false)
		if res.err != nil {
			return nil, res.err
		}
		return res.data, nil
	case <-ctx.Done():
		s.recordOp("ReadFile", path, start, false)
		return nil, ctx.Err()
	}
}

// WriteFile writes data to a file respecting the context.
func (s *DefaultService) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return fmt.Errorf("failed to check context: %w", err)
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.WriteFile(path, data, perm)
	}()

	select {
	case err := <-errCh:
		s.invalidate(path)
		s.recordOp("WriteFile", path, start, false)
		if err != nil {
			return fmt.Errorf("failed to write file %s: %w", path, err)
		}
		return nil
	case <-ctx.Done():
		s.recordOp("WriteFile", path, start, false)
		return ctx.Err()
	}
}

// PathExists checks if a path (file or directory) exists.
//
// Pid files under the run directory are probed every tick for every
// supervised service; positive results are cached for a second. Mutations
// through this service invalidate the entry, and a stale positive is
// harmless because liveness is decided by signalling the pid, not by the
// file's presence.
func (s *DefaultService) PathExists(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return false, err
	}

	if !strings.Contains(path, "/run/") {
		return s.pathExistsUncached(ctx, path, start)
	}

	s.pathCache.mu.RLock()
	if cached, ok := s.pathCache.cache[path]; ok && time.Now().Before(cached.expiry) {
		s.pathCache.mu.RUnlock()
		s.recordOp("PathExists", path, start, true)
		return cached.exists, cached.err
	}
	s.pathCache.mu.RUnlock()

	exists, err := s.pathExistsUncached(ctx, path, start)

	// Only cache positive results, absence must be noticed immediately
	if err == nil && exists {
		s.pathCache.mu.Lock()
		s.pathCache.cache[path] = &CachedPath{
			exists: exists,
			err:    nil,
			expiry: time.Now().Add(time.Second),
		}
		s.pathCache.mu.Unlock()
	}

	return exists, err
}

// pathExistsUncached performs the actual path existence check without caching
func (s *DefaultService) pathExistsUncached(ctx context.Context, path string, start time.Time) (bool, error) {
	type result struct {
		err    error
		exists bool
	}

	resCh := make(chan result, 1)

	go func() {
		// Use Lstat to handle symlinks properly (don't follow them)
		_, err := os.Lstat(path)
		if os.IsNotExist(err) {
			resCh <- result{err: nil, exists: false}
			return
		}
		if err != nil {
			resCh <- result{err: fmt.Errorf("failed to check if path exists: %w", err), exists: false}
			return
		}
		resCh <- result{err: nil, exists: true}
	}()

	select {
	case res := <-resCh:
		s.recordOp("PathExists", path, start, false)
		if res.err != nil {
			return false, res.err
		}
		return res.exists, nil
	case <-ctx.Done():
		s.recordOp("PathExists", path, start, false)
		return false, ctx.Err()
	}
}

// FileExists checks if a file exists
// Deprecated: use PathExists instead.
func (s *DefaultService) FileExists(ctx context.Context, path string) (bool, error) {
	return s.PathExists(ctx, path)
}

// Remove removes a file or directory.
func (s *DefaultService) Remove(ctx context.Context, path string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.Remove(path)
	}()

	select {
	case err := <-errCh:
		s.invalidate(path)
		s.recordOp("Remove", path, start, false)
		return err
	case <-ctx.Done():
		s.recordOp("Remove", path, start, false)
		return ctx.Err()
	}
}

// RemoveAll removes a directory and all its contents.
func (s *DefaultService) RemoveAll(ctx context.Context, path string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.RemoveAll(path)
	}()

	select {
	case err := <-errCh:
		s.invalidate(path)
		s.recordOp("RemoveAll", path, start, false)
		if err != nil {
			return fmt.Errorf("failed to remove directory %s: %w", path, err)
		}
		return nil
	case <-ctx.Done():
		s.recordOp("RemoveAll", path, start, false)
		return ctx.Err()
	}
}

// Stat returns file info.
func (s *DefaultService) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to check context: %w", err)
	}

	type result struct {
		info os.FileInfo
		err  error
	}

	resCh := make(chan result, 1)

	go func() {
		info, err := os.Stat(path)
		resCh <- result{info, err}
	}()

	select {
	case res := <-resCh:
		s.recordOp("Stat", path, start, false)
		if res.err != nil {
			return nil, fmt.Errorf("failed to get file info: %w", res.err)
		}
		return res.info, nil
	case <-ctx.Done():
		s.recordOp("Stat", path, start, false)
		return nil, ctx.Err()
	}
}

// ReadDir reads a directory, returning all its directory entries.
func (s *DefaultService) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to check context: %w", err)
	}

	type result struct {
		err     error
		entries []os.DirEntry
	}

	resCh := make(chan result, 1)

	go func() {
		entries, err := os.ReadDir(path)
		resCh <- result{err: err, entries: entries}
	}()

	select {
	case res := <-resCh:
		s.recordOp("ReadDir", path, start, false)
		if res.err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", path, res.err)
		}
		return res.entries, nil
	case <-ctx.Done():
		s.recordOp("ReadDir", path, start, false)
		return nil, ctx.Err()
	}
}

// Rename renames (moves) a file or directory.
func (s *DefaultService) Rename(ctx context.Context, oldPath, newPath string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return fmt.Errorf("failed to check context: %w", err)
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.Rename(oldPath, newPath)
	}()

	select {
	case err := <-errCh:
		s.invalidate(oldPath)
		s.invalidate(newPath)
		s.recordOp("Rename", oldPath, start, false)
		if err != nil {
			return fmt.Errorf("failed to rename %s to %s: %w", oldPath, newPath, err)
		}
		return nil
	case <-ctx.Done():
		s.recordOp("Rename", oldPath, start, false)
		return ctx.Err()
	}
}

// Open opens a file for reading.
func (s *DefaultService) Open(ctx context.Context, path string) (*os.File, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to check context: %w", err)
	}

	type result struct {
		file *os.File
		err  error
	}

	resCh := make(chan result, 1)

	go func() {
		file, err := os.Open(path)
		resCh <- result{file: file, err: err}
	}()

	select {
	case res := <-resCh:
		s.recordOp("Open", path, start, false)
		if res.err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, res.err)
		}
		return res.file, nil
	case <-ctx.Done():
		// The open may still complete; close the orphaned handle
		go func() {
			if res := <-resCh; res.file != nil {
				_ = res.file.Close()
			}
		}()
		s.recordOp("Open", path, start, false)
		return nil, ctx.Err()
	}
}

// CreateFile creates (or truncates) a file and returns the open handle.
func (s *DefaultService) CreateFile(ctx context.Context, path string, perm os.FileMode) (*os.File, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to check context: %w", err)
	}

	type result struct {
		file *os.File
		err  error
	}

	resCh := make(chan result, 1)

	go func() {
		file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
		resCh <- result{file: file, err: err}
	}()

	select {
	case res := <-resCh:
		s.invalidate(path)
		s.recordOp("CreateFile", path, start, false)
		if res.err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", path, res.err)
		}
		return res.file, nil
	case <-ctx.Done():
		// The create may still complete; close the orphaned handle
		go func() {
			if res := <-resCh; res.file != nil {
				_ = res.file.Close()
			}
		}()
		s.recordOp("CreateFile", path, start, false)
		return nil, ctx.Err()
	}
}
