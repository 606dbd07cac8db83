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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/ctxutil/ctxmutex"
	"github.com/warden-systems/warden-core/pkg/eventlog"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/models"
	"github.com/warden-systems/warden-core/pkg/sentry"
)

// Worker serializes backup and restore operations: at most one runs
// system-wide. The context-aware mutex lets the shutdown backup wait its
// turn, while API callers and the scheduled trigger never block. It also
// caches what the status surface needs so status reads stay off disk.
type Worker struct {
	logger  *zap.SugaredLogger
	service Service
	journal *eventlog.Journal

	mu *ctxmutex.CtxMutex

	statusMu      sync.RWMutex
	last          []Metadata
	nextScheduled time.Time
	inProgress    bool
}

// NewWorker wraps a backup service. The journal receives one event per
// completed or failed operation.
func NewWorker(service Service, journal *eventlog.Journal) *Worker {
	return &Worker{
		logger:  logger.For(logger.ComponentBackupManager),
		service: service,
		journal: journal,
		mu:      ctxmutex.NewCtxMutex(),
	}
}

// conflictError is what callers see while another operation holds the
// worker. Retryable: nothing is wrong, the system is just busy.
func conflictError(op string) *BackupError {
	return &BackupError{
		Op:        op,
		Err:       errors.New("another backup or restore is in flight"),
		Retryable: true,
	}
}

// CreateNow runs a backup for an API or CLI caller. When another
// operation holds the worker the caller gets an immediate retryable
// conflict instead of waiting.
func (w *Worker) CreateNow(ctx context.Context, reason Reason) (Metadata, error) {
	if !ValidReason(reason) {
		return Metadata{}, &BackupError{Op: "create", Err: fmt.Errorf("%w: %q", ErrInvalidReason, reason)}
	}

	if !w.mu.TryLock() {
		return Metadata{}, conflictError("create")
	}
	defer w.mu.Unlock()

	return w.runCreate(ctx, reason)
}

// TriggerScheduled starts a scheduled backup in the background. The
// control loop calls this from its tick, so nothing here may block: when
// another operation is in flight the run is skipped and the next cadence
// tries again.
func (w *Worker) TriggerScheduled() {
	if !w.mu.TryLock() {
		w.logger.Debugf("backup in flight, skipping scheduled run")

		return
	}

	go func() {
		defer w.mu.Unlock()

		// The tick context is useless here, the backup outlives the tick.
		_, _ = w.runCreate(context.Background(), ReasonScheduled)
	}()
}

// RunShutdown takes the final backup of an agent shutdown, waiting for
// any in-flight operation within the context's budget.
func (w *Worker) RunShutdown(ctx context.Context) error {
	if err := w.mu.Lock(ctx); err != nil {
		return &BackupError{Op: "create", Err: fmt.Errorf("waiting for in-flight operation: %w", err)}
	}
	defer w.mu.Unlock()

	_, err := w.runCreate(ctx, ReasonShutdown)

	return err
}

func (w *Worker) runCreate(ctx context.Context, reason Reason) (Metadata, error) {
	w.setInProgress(true)
	defer w.setInProgress(false)

	ctx, cancel := context.WithTimeout(ctx, constants.DefaultBackupTimeout)
	defer cancel()

	meta, err := w.service.Create(ctx, reason)
	if err != nil {
		w.journal.Record(models.EventTypeBackup, models.EventSeverityError, logger.ComponentBackupManager, "backup failed (%s): %s", reason, err)
		sentry.ReportIssuef(sentry.IssueTypeError, w.logger, "backup failed (%s): %s", reason, err)

		return Metadata{}, err
	}

	w.journal.Record(models.EventTypeBackup, models.EventSeverityInfo, logger.ComponentBackupManager, "backup %s created (%s, %d bytes)", meta.ID, reason, meta.TotalSizeBytes)
	w.refreshCache(ctx)

	return meta, nil
}

// Restore runs a verified restore. Callers are expected to have stopped
// the services first; the API layer does that through the control loop.
func (w *Worker) Restore(ctx context.Context, id string) error {
	if !w.mu.TryLock() {
		return conflictError("restore")
	}
	defer w.mu.Unlock()

	w.setInProgress(true)
	defer w.setInProgress(false)

	ctx, cancel := context.WithTimeout(ctx, constants.DefaultBackupTimeout)
	defer cancel()

	if err := w.service.Restore(ctx, id); err != nil {
		w.journal.Record(models.EventTypeRestore, models.EventSeverityError, logger.ComponentBackupManager, "restore of %s failed: %s", id, err)
		if !errors.Is(err, ErrBackupNotFound) {
			sentry.ReportIssuef(sentry.IssueTypeError, w.logger, "restore of %s failed: %s", id, err)
		}

		return err
	}

	w.journal.Record(models.EventTypeRestore, models.EventSeverityInfo, logger.ComponentBackupManager, "restore of %s completed", id)
	w.refreshCache(ctx)

	return nil
}

// List reads the backup store directly. Safe concurrently with a running
// backup: directories only become visible once their metadata is
// committed.
func (w *Worker) List(ctx context.Context) ([]Metadata, error) {
	backups, err := w.service.List(ctx)
	if err != nil {
		return nil, err
	}
	w.setLast(backups)

	return backups, nil
}

// Status assembles the backup slice of the system snapshot from cached
// data only, the status path never reads disk.
func (w *Worker) Status() models.BackupStatus {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()

	status := models.BackupStatus{
		Last:       make([]models.BackupSummary, 0, constants.StatusRecentBackups),
		InProgress: w.inProgress,
	}

	for i, meta := range w.last {
		if i == constants.StatusRecentBackups {
			break
		}
		status.Last = append(status.Last, meta.Summary())
	}

	if !w.nextScheduled.IsZero() {
		next := w.nextScheduled
		status.NextScheduledAt = &next
	}

	return status
}

// SetNextScheduled publishes the planner's next deadline for the status
// payload.
func (w *Worker) SetNextScheduled(t time.Time) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()

	w.nextScheduled = t
}

func (w *Worker) setInProgress(v bool) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()

	w.inProgress = v
}

func (w *Worker) setLast(backups []Metadata) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()

	w.last = backups
}

func (w *Worker) refreshCache(ctx context.Context) {
	backups, err := w.service.List(ctx)
	if err != nil {
		w.logger.Warnf("refreshing backup cache: %s", err)

		return
	}
	w.setLast(backups)
}
