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

package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cactus/tai64"
	"go.uber.org/zap"

	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
)

// logWriter tees captured service output into the in-memory ring and the
// on-disk current file. Writing and rotation happen on the capture
// goroutines, so the writer keeps its own append handle and only reaches
// through the filesystem service for rename and cleanup.
type logWriter struct {
	name   string
	dir    string
	ring   *LogBuffer
	fs     filesystem.Service
	logger *zap.SugaredLogger

	mu      sync.Mutex
	file    *os.File
	size    int64
	maxSize int64
}

// newLogWriter opens (or creates) the current log file of a service for
// appending. The ring is shared with the owning service state so buffered
// lines survive restarts of the process.
func newLogWriter(name string, dir string, ring *LogBuffer, fsService filesystem.Service, logger *zap.SugaredLogger) (*logWriter, error) {
	w := &logWriter{
		name:    name,
		dir:     dir,
		ring:    ring,
		fs:      fsService,
		logger:  logger,
		maxSize: constants.ProcessLogFileMaxSize,
	}

	if err := w.openCurrent(); err != nil {
		return nil, err
	}

	return w, nil
}

// openCurrent opens the current file for appending and records its size so
// rotation picks up where a previous incarnation left off.
func (w *logWriter) openCurrent() error {
	current := filepath.Join(w.dir, constants.CurrentLogFileName)

	var size int64
	if stat, err := w.fs.Stat(context.Background(), current); err == nil {
		size = stat.Size()
	}

	file, err := os.OpenFile(current, os.O_CREATE|os.O_WRONLY|os.O_APPEND, constants.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to open current log file for %s: %w", w.name, err)
	}

	w.file = file
	w.size = size

	return nil
}

// WriteLine buffers the entry in memory and appends it to the current file,
// rotating first if the file has outgrown its size limit.
func (w *logWriter) WriteLine(entry LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ring.Add(entry)

	if w.file == nil {
		return nil
	}

	line := entry.Timestamp.Format(constants.LogTimestampFormat) + constants.LogEntrySeparator + entry.Content + "\n"

	n, err := w.file.WriteString(line)
	if err != nil {
		return fmt.Errorf("failed to write log line for %s: %w", w.name, err)
	}
	w.size += int64(n)

	// Flush so a crash of the agent does not lose service output.
	if err := w.file.Sync(); err != nil {
		w.logger.Warnf("Failed to sync log file for %s: %v", w.name, err)
	}

	if w.size > w.maxSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("failed to rotate log file for %s: %w", w.name, err)
		}
	}

	return nil
}

// rotate renames the current file to a TAI64N-stamped archive, prunes old
// archives past the retention limit and reopens a fresh current file.
// TAI64N names sort lexically in time order, which keeps pruning a plain
// string sort.
func (w *logWriter) rotate() error {
	ctx := context.Background()

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			w.logger.Warnf("Error closing log file during rotation for %s: %v", w.name, err)
		}
		w.file = nil
	}

	stamp := strings.TrimPrefix(tai64.FormatNano(time.Now()), "@")
	current := filepath.Join(w.dir, constants.CurrentLogFileName)
	rotated := filepath.Join(w.dir, stamp+".log")

	if err := w.fs.Rename(ctx, current, rotated); err != nil {
		return fmt.Errorf("error renaming log file to %s: %w", rotated, err)
	}

	w.prune(ctx)

	return w.openCurrent()
}

// prune removes the oldest rotated files beyond the retention limit.
func (w *logWriter) prune(ctx context.Context) {
	entries, err := w.fs.ReadDir(ctx, w.dir)
	if err != nil {
		w.logger.Warnf("Failed to list log directory for %s: %v", w.name, err)

		return
	}

	var rotated []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".log") {
			rotated = append(rotated, entry.Name())
		}
	}
	if len(rotated) <= constants.ProcessLogFileRetention {
		return
	}

	sort.Strings(rotated)
	for _, name := range rotated[:len(rotated)-constants.ProcessLogFileRetention] {
		if err := w.fs.Remove(ctx, filepath.Join(w.dir, name)); err != nil {
			w.logger.Warnf("Failed to remove rotated log %s for %s: %v", name, w.name, err)
		}
	}
}

// Close closes the current file handle. The ring stays intact for later
// status reads.
func (w *logWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	w.size = 0

	return err
}
