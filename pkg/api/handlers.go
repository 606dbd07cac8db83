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

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/warden-systems/warden-core/pkg/backup"
	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/metrics"
	"github.com/warden-systems/warden-core/pkg/models"
)

// handleStatus answers GET /v1/status with the full system snapshot view.
func (s *Server) handleStatus(c *gin.Context) {
	var backups models.BackupStatus
	if s.worker != nil {
		backups = s.worker.Status()
	}

	var host *models.Host
	if s.hostMonitor != nil {
		h, err := s.hostMonitor.GetStatus(c.Request.Context())
		if err != nil {
			// Host telemetry is informational, a broken collector must not
			// take the status endpoint down with it.
			s.logger.Warnf("host status unavailable: %s", err)
		} else {
			host = h
		}
	}

	var events []models.Event
	if s.journal != nil {
		events = s.journal.Recent(constants.StatusRecentEvents)
	}

	status := BuildSystemStatus(s.snapshots.GetSystemSnapshot(), backups, host, events, time.Now())
	c.JSON(http.StatusOK, status)
}

// handleHealthz answers the load-balancer check: 200 while every service
// is running and passing probes, 503 otherwise.
func (s *Server) handleHealthz(c *gin.Context) {
	status := BuildSystemStatus(s.snapshots.GetSystemSnapshot(), models.BackupStatus{}, nil, nil, time.Now())

	code := http.StatusOK
	if status.OverallHealth != models.OverallHealthy {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{"status": string(status.OverallHealth)})
}

// handleListBackups answers GET /v1/backups with the full metadata list,
// newest first.
func (s *Server) handleListBackups(c *gin.Context) {
	if s.worker == nil {
		s.replyError(c, http.StatusServiceUnavailable, errors.New("backup worker not available"), false)

		return
	}

	backups, err := s.worker.List(c.Request.Context())
	if err != nil {
		s.replyError(c, http.StatusInternalServerError, err, false)

		return
	}

	c.JSON(http.StatusOK, backups)
}

// handleCreateBackup answers POST /v1/backups. The reason defaults to
// manual; scheduled and shutdown are reserved for the agent itself.
func (s *Server) handleCreateBackup(c *gin.Context) {
	if s.worker == nil {
		s.replyError(c, http.StatusServiceUnavailable, errors.New("backup worker not available"), false)

		return
	}

	var req models.CreateBackupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.replyError(c, http.StatusBadRequest, err, false)

			return
		}
	}

	reason := backup.Reason(req.Reason)
	if req.Reason == "" {
		reason = backup.ReasonManual
	}
	if reason != backup.ReasonManual {
		// API callers may only take manual backups. Scheduled runs come from
		// the cadence, the shutdown backup from the shutdown sequence.
		s.replyError(c, http.StatusUnprocessableEntity, errors.New("reason must be manual or empty"), false)

		return
	}

	meta, err := s.worker.CreateNow(c.Request.Context(), reason)
	if err != nil {
		s.replyBackupError(c, err)

		return
	}

	c.JSON(http.StatusCreated, models.CreateBackupResponse{ID: meta.ID})
}

// handleRestore answers POST /v1/backups/:id/restore with a supervised
// restore: suspend the fleet, restore, resume. The resume is deferred so a
// failed restore still brings the services back on the pre-restore state.
func (s *Server) handleRestore(c *gin.Context) {
	if s.worker == nil || s.supervisor == nil {
		s.replyError(c, http.StatusServiceUnavailable, errors.New("restore not available"), false)

		return
	}

	id := c.Param("id")
	if _, err := backup.ParseBackupID(id); err != nil {
		s.replyError(c, http.StatusNotFound, err, false)

		return
	}

	// Fast-fail on a busy worker before winding the fleet down. The check
	// races with new submissions, the worker's own lock remains the
	// authority.
	if s.worker.Status().InProgress {
		s.replyError(c, http.StatusConflict, errors.New("another backup or restore is in flight"), true)

		return
	}

	if err := s.supervisor.StopAllServices(c.Request.Context()); err != nil {
		s.replyError(c, http.StatusInternalServerError, err, false)

		return
	}
	defer s.supervisor.ResumeAllServices()

	if err := s.worker.Restore(c.Request.Context(), id); err != nil {
		s.replyBackupError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"restored": id})
}

// replyBackupError maps worker errors onto status codes: unknown id 404,
// in-flight conflict 409, invalid reason 422, everything else 500.
func (s *Server) replyBackupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, backup.ErrBackupNotFound):
		s.replyError(c, http.StatusNotFound, err, false)
	case backup.IsRetryable(err):
		s.replyError(c, http.StatusConflict, err, true)
	case errors.Is(err, backup.ErrInvalidReason):
		s.replyError(c, http.StatusUnprocessableEntity, err, false)
	default:
		s.replyError(c, http.StatusInternalServerError, err, false)
	}
}

func (s *Server) replyError(c *gin.Context, code int, err error, retryable bool) {
	if code >= http.StatusInternalServerError {
		metrics.IncErrorCount(metrics.ComponentAPIServer, "main")
		s.logger.Errorf("%s %s: %s", c.Request.Method, c.Request.URL.Path, err)
	}

	c.JSON(code, models.APIError{Error: err.Error(), Retryable: retryable})
}
