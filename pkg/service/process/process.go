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

// Package process supervises the long-running child processes of the agent.
//
// Every supervised service is spawned in its own process group with stdout
// and stderr captured into a per-service log tree below the data dir. A pid
// file per service lets a restarted agent find and adopt (or put down)
// processes spawned by a previous incarnation. All operations are safe to
// repeat, the reconcile loop calls them until the observed state matches.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
)

// Service manages the lifecycle of supervised processes.
type Service interface {
	// Create registers a service and prepares its run and log directories.
	Create(ctx context.Context, name string, fsService filesystem.Service) error
	// Remove forgets a stopped service and deletes its on-disk remains.
	Remove(ctx context.Context, name string, fsService filesystem.Service) error
	// Start launches the service process if it is not already running.
	Start(ctx context.Context, name string, spec Spec, fsService filesystem.Service) error
	// Stop terminates the service process, escalating to SIGKILL after grace.
	Stop(ctx context.Context, name string, grace time.Duration, fsService filesystem.Service) error
	// Status reports the observed process state of the service.
	Status(ctx context.Context, name string, fsService filesystem.Service) (Info, error)
	// ExitHistory returns the recorded exits of the service, oldest first.
	ExitHistory(ctx context.Context, name string) ([]ExitEvent, error)
	// Logs returns the captured recent output of the service.
	Logs(ctx context.Context, name string, fsService filesystem.Service) ([]LogEntry, error)
	// ServiceExists reports whether the service is registered.
	ServiceExists(ctx context.Context, name string) bool
}

// runningProcess is the live handle on a process this agent spawned.
type runningProcess struct {
	cmd       *exec.Cmd
	pid       int
	pgid      int
	startedAt time.Time
	// done is closed by the reaper goroutine once the process is waited on.
	done chan struct{}
}

// serviceState is everything the agent tracks per registered service. The
// log ring and exit history outlive individual process incarnations.
type serviceState struct {
	ring          *LogBuffer
	writer        *logWriter
	proc          *runningProcess
	history       []ExitEvent
	lastChangedAt time.Time
}

// DefaultService is the default implementation of the process Service.
type DefaultService struct {
	logger  *zap.SugaredLogger
	dataDir string

	mu       sync.Mutex
	services map[string]*serviceState
}

// DefaultServiceOption configures a DefaultService.
type DefaultServiceOption func(*DefaultService)

// WithDataDir overrides the data directory, used by tests.
func WithDataDir(dir string) DefaultServiceOption {
	return func(s *DefaultService) {
		s.dataDir = dir
	}
}

// NewDefaultService creates a new DefaultService.
func NewDefaultService(opts ...DefaultServiceOption) *DefaultService {
	s := &DefaultService{
		logger:   logger.For(logger.ComponentProcessService),
		dataDir:  constants.DefaultDataDir,
		services: make(map[string]*serviceState),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *DefaultService) pidFilePath(name string) string {
	return filepath.Join(s.dataDir, constants.RunDirName, name+".pid")
}

func (s *DefaultService) logDirPath(name string) string {
	return filepath.Join(s.dataDir, constants.LogsDirName, name)
}

// Create registers the service and prepares its directories. Creating a
// service that already exists is an error, the caller owns the lifecycle.
func (s *DefaultService) Create(ctx context.Context, name string, fsService filesystem.Service) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[name]; ok {
		return fmt.Errorf("service %s already exists", name)
	}

	if err := fsService.EnsureDirectory(ctx, filepath.Join(s.dataDir, constants.RunDirName)); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := fsService.EnsureDirectory(ctx, s.logDirPath(name)); err != nil {
		return fmt.Errorf("failed to create log directory for %s: %w", name, err)
	}

	s.services[name] = &serviceState{
		ring:          NewLogBuffer(constants.ProcessLogRingCapacity),
		lastChangedAt: time.Now(),
	}
	s.logger.Infof("Created service %s", name)

	return nil
}

// Remove forgets the service and deletes its pid file and log directory.
// The service must be stopped first.
func (s *DefaultService) Remove(ctx context.Context, name string, fsService filesystem.Service) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.services[name]
	if !ok {
		return ErrServiceNotExist
	}
	if state.proc != nil && !reaped(state.proc) {
		return fmt.Errorf("service %s is still running", name)
	}

	if state.writer != nil {
		_ = state.writer.Close()
		state.writer = nil
	}
	delete(s.services, name)

	if err := fsService.Remove(ctx, s.pidFilePath(name)); err != nil && !os.IsNotExist(err) {
		s.logger.Warnf("Failed to remove pid file for %s: %v", name, err)
	}
	if err := fsService.RemoveAll(ctx, s.logDirPath(name)); err != nil {
		return fmt.Errorf("failed to remove log directory for %s: %w", name, err)
	}
	s.logger.Infof("Removed service %s", name)

	return nil
}

// Start launches the service process. A process left behind by a previous
// agent incarnation is terminated first so the new process has exclusive
// ownership of the service's ports and files. Start on a service that is
// already up is a no-op.
func (s *DefaultService) Start(ctx context.Context, name string, spec Spec, fsService filesystem.Service) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	state, ok := s.services[name]
	if !ok {
		s.mu.Unlock()

		return ErrServiceNotExist
	}
	if state.proc != nil && !reaped(state.proc) {
		s.mu.Unlock()

		return nil
	}
	s.mu.Unlock()

	// Waiting out a stale process must not block status reads of the
	// other services, so this happens outside the lock.
	if err := s.terminateStale(ctx, name, fsService); err != nil {
		return fmt.Errorf("failed to clear stale process for %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok = s.services[name]
	if !ok {
		return ErrServiceNotExist
	}
	if state.proc != nil && !reaped(state.proc) {
		return nil
	}

	writer, err := newLogWriter(name, s.logDirPath(name), state.ring, fsService, s.logger)
	if err != nil {
		return err
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), envList(spec.Env)...)
	// A separate process group so stop can signal the whole service tree,
	// and so signals aimed at the agent never reach the services.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = writer.Close()

		return fmt.Errorf("failed to create stdout pipe for %s: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = writer.Close()

		return fmt.Errorf("failed to create stderr pipe for %s: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		_ = writer.Close()

		return fmt.Errorf("failed to start process for %s: %w", name, err)
	}

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	// The pid file is the ownership record. If it cannot be written the
	// agent would lose the process on restart, so the start is rolled back.
	if err := fsService.WriteFile(ctx, s.pidFilePath(name), []byte(strconv.Itoa(pid)), constants.FilePermissions); err != nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		_ = cmd.Wait()
		_ = writer.Close()

		return fmt.Errorf("failed to write pid file for %s: %w", name, err)
	}

	proc := &runningProcess{
		cmd:       cmd,
		pid:       pid,
		pgid:      pgid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	state.proc = proc
	state.writer = writer
	state.lastChangedAt = proc.startedAt

	var streams sync.WaitGroup
	streams.Add(2)
	go s.streamOutput(&streams, stdout, writer, name)
	go s.streamOutput(&streams, stderr, writer, name)
	go s.reap(name, proc, &streams, fsService)

	s.logger.Infof("Started service %s (pid %d)", name, pid)

	return nil
}

// streamOutput copies one output pipe of a service into its log writer,
// line by line, until the pipe closes.
func (s *DefaultService) streamOutput(wg *sync.WaitGroup, pipe io.ReadCloser, writer *logWriter, name string) {
	defer wg.Done()

	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		entry := LogEntry{Timestamp: time.Now(), Content: scanner.Text()}
		if err := writer.WriteLine(entry); err != nil {
			s.logger.Warnf("Failed to persist log line for %s: %v", name, err)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Debugf("Log stream for %s ended: %v", name, err)
	}
}

// reap waits for the process to exit, records the exit event and releases
// the service's runtime resources. It drains the output streams before
// waiting so no trailing log lines are lost.
func (s *DefaultService) reap(name string, proc *runningProcess, streams *sync.WaitGroup, fsService filesystem.Service) {
	streams.Wait()

	exit := ExitEvent{ExitCode: 0}
	if err := proc.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				exit.Signal = int(status.Signal())
				exit.ExitCode = -1
			} else {
				exit.ExitCode = exitErr.ExitCode()
			}
		} else {
			exit.ExitCode = -1
		}
	}
	exit.Timestamp = time.Now()

	s.mu.Lock()
	if state, ok := s.services[name]; ok && state.proc == proc {
		state.history = append(state.history, exit)
		if len(state.history) > constants.ProcessExitHistoryLimit {
			state.history = state.history[len(state.history)-constants.ProcessExitHistoryLimit:]
		}
		if state.writer != nil {
			_ = state.writer.Close()
			state.writer = nil
		}
		state.lastChangedAt = exit.Timestamp
	}
	s.mu.Unlock()

	if err := fsService.Remove(context.Background(), s.pidFilePath(name)); err != nil && !os.IsNotExist(err) {
		s.logger.Debugf("Failed to remove pid file for %s: %v", name, err)
	}

	s.logger.Infof("Service %s exited (code %d, signal %d)", name, exit.ExitCode, exit.Signal)
	close(proc.done)
}

// Stop terminates the service process group with SIGTERM, escalating to
// SIGKILL once the grace period runs out. Stopping a service that is
// already down is a no-op.
func (s *DefaultService) Stop(ctx context.Context, name string, grace time.Duration, fsService filesystem.Service) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	state, ok := s.services[name]
	if !ok {
		s.mu.Unlock()

		return ErrServiceNotExist
	}
	proc := state.proc
	if proc != nil && reaped(proc) {
		proc = nil
	}
	s.mu.Unlock()

	if proc != nil {
		return s.stopTracked(ctx, name, proc, grace)
	}

	return s.stopUntracked(ctx, name, grace, fsService)
}

// stopTracked stops a process this agent spawned. The reaper goroutine does
// the bookkeeping, stop only signals and waits.
func (s *DefaultService) stopTracked(ctx context.Context, name string, proc *runningProcess, grace time.Duration) error {
	if err := signalGroup(proc.pgid, proc.pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}

		return fmt.Errorf("failed to signal service %s: %w", name, err)
	}

	select {
	case <-proc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(grace):
	}

	s.logger.Warnf("Service %s did not stop within %s, killing", name, grace)
	_ = signalGroup(proc.pgid, proc.pid, syscall.SIGKILL)

	select {
	case <-proc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopUntracked stops a process known only through its pid file, left
// behind by a previous agent incarnation. Liveness is polled because the
// agent is not the parent and cannot wait on it.
func (s *DefaultService) stopUntracked(ctx context.Context, name string, grace time.Duration, fsService filesystem.Service) error {
	pid, err := s.readPidFile(ctx, name, fsService)
	if err != nil || pid == 0 {
		return err
	}
	if !processAlive(pid) {
		return s.clearPidFile(ctx, name, fsService)
	}

	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = 0
	}
	if err := signalGroup(pgid, pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to signal service %s: %w", name, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return s.clearPidFile(ctx, name, fsService)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(constants.ProcessWaitPollInterval):
		}
	}

	s.logger.Warnf("Service %s did not stop within %s, killing", name, grace)
	_ = signalGroup(pgid, pid, syscall.SIGKILL)

	return s.clearPidFile(ctx, name, fsService)
}

// Status reports the observed state of the service. A process spawned by
// this agent is checked through its live handle; one inherited from a
// previous incarnation is checked through its pid file, with uptime taken
// from the file's modification time.
func (s *DefaultService) Status(ctx context.Context, name string, fsService filesystem.Service) (Info, error) {
	if ctx.Err() != nil {
		return Info{}, ctx.Err()
	}

	s.mu.Lock()
	state, ok := s.services[name]
	if !ok {
		s.mu.Unlock()

		return Info{}, ErrServiceNotExist
	}

	info := Info{Status: ServiceDown, LastChangedAt: state.lastChangedAt}
	if n := len(state.history); n > 0 {
		last := state.history[n-1]
		info.LastExit = &last
	}

	if proc := state.proc; proc != nil && !reaped(proc) {
		info.Status = ServiceUp
		info.Pid = proc.pid
		info.Pgid = proc.pgid
		info.Uptime = int64(time.Since(proc.startedAt).Seconds())
		s.mu.Unlock()

		return info, nil
	}
	s.mu.Unlock()

	pid, err := s.readPidFile(ctx, name, fsService)
	if err != nil || pid == 0 || !processAlive(pid) {
		return info, nil
	}

	info.Status = ServiceUp
	info.Pid = pid
	if pgid, err := syscall.Getpgid(pid); err == nil {
		info.Pgid = pgid
	}
	if stat, err := fsService.Stat(ctx, s.pidFilePath(name)); err == nil {
		info.Uptime = int64(time.Since(stat.ModTime()).Seconds())
	}

	return info, nil
}

// ExitHistory returns the recorded exit events of the service, oldest first.
func (s *DefaultService) ExitHistory(ctx context.Context, name string) ([]ExitEvent, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.services[name]
	if !ok {
		return nil, ErrServiceNotExist
	}

	out := make([]ExitEvent, len(state.history))
	copy(out, state.history)

	return out, nil
}

// Logs returns the captured output of the service. The in-memory ring is
// served when populated; after an agent restart it is empty and the
// persisted current file is read back instead.
func (s *DefaultService) Logs(ctx context.Context, name string, fsService filesystem.Service) ([]LogEntry, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	state, ok := s.services[name]
	s.mu.Unlock()
	if !ok {
		return nil, ErrServiceNotExist
	}

	if entries := state.ring.Entries(); len(entries) > 0 {
		return entries, nil
	}

	content, err := fsService.ReadFile(ctx, filepath.Join(s.logDirPath(name), constants.CurrentLogFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read log file for %s: %w", name, err)
	}

	return parseLogs(content), nil
}

// ServiceExists reports whether the service is registered.
func (s *DefaultService) ServiceExists(ctx context.Context, name string) bool {
	if ctx.Err() != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.services[name]

	return ok
}

// terminateStale puts down a process recorded in the pid file that this
// agent did not spawn. Stale processes get a short grace, their state is
// unknown and the replacement must not wait a full stop cycle.
func (s *DefaultService) terminateStale(ctx context.Context, name string, fsService filesystem.Service) error {
	pid, err := s.readPidFile(ctx, name, fsService)
	if err != nil || pid == 0 {
		return err
	}
	if !processAlive(pid) {
		return s.clearPidFile(ctx, name, fsService)
	}

	s.logger.Warnf("Found stale process for %s (pid %d), terminating", name, pid)

	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = 0
	}
	_ = signalGroup(pgid, pid, syscall.SIGTERM)

	deadline := time.Now().Add(constants.StaleProcessGracePeriod)
	for time.Now().Before(deadline) && processAlive(pid) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(constants.ProcessWaitPollInterval):
		}
	}
	if processAlive(pid) {
		_ = signalGroup(pgid, pid, syscall.SIGKILL)
	}

	return s.clearPidFile(ctx, name, fsService)
}

// readPidFile returns the pid recorded for the service, 0 if no pid file
// exists.
func (s *DefaultService) readPidFile(ctx context.Context, name string, fsService filesystem.Service) (int, error) {
	content, err := fsService.ReadFile(ctx, s.pidFilePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read pid file for %s: %w", name, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || pid <= 0 {
		// A corrupt pid file is treated as no process, it gets cleaned
		// up on the next start.
		return 0, nil
	}

	return pid, nil
}

func (s *DefaultService) clearPidFile(ctx context.Context, name string, fsService filesystem.Service) error {
	if err := fsService.Remove(ctx, s.pidFilePath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file for %s: %w", name, err)
	}

	return nil
}

// reaped reports whether the reaper goroutine has finished with the process.
func reaped(proc *runningProcess) bool {
	select {
	case <-proc.done:
		return true
	default:
		return false
	}
}

// signalGroup signals the whole process group when a pgid is known and
// falls back to the single process otherwise.
func signalGroup(pgid int, pid int, sig syscall.Signal) error {
	if pgid > 0 {
		return syscall.Kill(-pgid, sig)
	}

	return syscall.Kill(pid, sig)
}

// processAlive checks liveness by sending the null signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return proc.Signal(syscall.Signal(0)) == nil
}

// envList renders the env map as KEY=VALUE pairs in stable order.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}

	return out
}
