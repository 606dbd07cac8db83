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

// Package api serves the agent's HTTP surface: the read-only status query
// used by the CLI and dashboards, the backup endpoints, and a
// load-balancer style health check.
//
// Every read goes through the control loop's published snapshot; handlers
// never touch live supervisor state. The backup endpoints submit to the
// backup worker, which owns the system-wide mutual exclusion, so a request
// that collides with an in-flight operation gets a retryable 409 instead
// of queueing.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/warden-systems/warden-core/pkg/backup"
	"github.com/warden-systems/warden-core/pkg/eventlog"
	"github.com/warden-systems/warden-core/pkg/fsm"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/metrics"
	"github.com/warden-systems/warden-core/pkg/sentry"
	"github.com/warden-systems/warden-core/pkg/service/hostmonitor"
)

// SnapshotSource yields the most recent published system snapshot.
// *control.ControlLoop satisfies it.
type SnapshotSource interface {
	GetSystemSnapshot() *fsm.SystemSnapshot
}

// Supervisor is the slice of the control loop a supervised restore needs:
// wind the fleet down before touching state, bring it back after.
type Supervisor interface {
	StopAllServices(ctx context.Context) error
	ResumeAllServices()
}

// Server answers the agent's HTTP API.
type Server struct {
	logger      *zap.SugaredLogger
	snapshots   SnapshotSource
	supervisor  Supervisor
	worker      *backup.Worker
	hostMonitor hostmonitor.Service
	journal     *eventlog.Journal

	engine *gin.Engine
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHostMonitor attaches the host telemetry source for the status
// payload. Without one the Host block stays empty.
func WithHostMonitor(svc hostmonitor.Service) ServerOption {
	return func(s *Server) {
		s.hostMonitor = svc
	}
}

// WithJournal attaches the event journal surfaced in the status payload.
func WithJournal(journal *eventlog.Journal) ServerOption {
	return func(s *Server) {
		s.journal = journal
	}
}

// NewServer wires the handlers. snapshots must not be nil; supervisor and
// worker may be nil, in which case the restore and backup endpoints answer
// 503 (useful for a read-only status instance and for tests).
func NewServer(snapshots SnapshotSource, supervisor Supervisor, worker *backup.Worker, opts ...ServerOption) *Server {
	s := &Server{
		logger:     logger.For(logger.ComponentAPIServer),
		snapshots:  snapshots,
		supervisor: supervisor,
		worker:     worker,
	}
	for _, opt := range opts {
		opt(s)
	}

	metrics.InitErrorCounter(metrics.ComponentAPIServer, "main")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestLogger())

	engine.GET("/healthz", s.handleHealthz)

	v1 := engine.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/backups", s.handleListBackups)
	v1.POST("/backups", s.handleCreateBackup)
	v1.POST("/backups/:id/restore", s.handleRestore)

	s.engine = engine

	return s
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// maxConcurrentConns caps accepted API connections. The API is a local
// operator surface, anything beyond this is a stuck poller eating file
// descriptors the supervised services need.
const maxConcurrentConns = 64

// Start serves the API on addr in the background and returns the server
// for shutdown. Listen failures are fatal: an agent without its API port
// is misconfigured, not degraded.
func (s *Server) Start(addr string) *http.Server {
	server := &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		sentry.ReportIssue(err, sentry.IssueTypeFatal, s.logger)

		return server
	}

	go func() {
		if err := server.Serve(netutil.LimitListener(listener, maxConcurrentConns)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, s.logger)
		}
	}()

	s.logger.Infof("API listening on %s", addr)

	return server
}

// requestLogger logs one line per request at debug. The API is a local
// operator surface, request logging at info would drown the service logs.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
