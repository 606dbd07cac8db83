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

// Package starvationchecker watches the control loop's liveness. The loop
// stamps a timestamp on every completed tick; a background goroutine raises
// an alarm when no stamp arrives within the threshold, which catches both a
// blocked loop and one that can no longer finish its cycles.
package starvationchecker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/metrics"
	"github.com/warden-systems/warden-core/pkg/sentry"
)

// StarvationChecker detects periods in which the control loop stops
// completing reconciliation cycles. It participates in the loop as a
// manager-shaped component (stamping the timestamp each tick) and runs its
// own one-second watchdog so starvation is reported even when the loop is
// fully blocked.
type StarvationChecker struct {
	lastReconcileTime   time.Time
	ctx                 context.Context //nolint:containedctx // background watchdog lifecycle
	logger              *zap.SugaredLogger
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
	starvationThreshold time.Duration
	mutex               sync.RWMutex
}

// NewStarvationChecker creates a checker and starts its watchdog goroutine.
// The threshold should be several multiples of the tick interval. Callers
// must Stop the checker when shutting down.
func NewStarvationChecker(threshold time.Duration) *StarvationChecker {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &StarvationChecker{
		starvationThreshold: threshold,
		lastReconcileTime:   time.Now(),
		logger:              logger.For(logger.ComponentStarvationChecker),
		ctx:                 ctx,
		cancel:              cancel,
	}

	checker.wg.Add(1)

	go checker.checkStarvationLoop()

	checker.logger.Infof("Starvation checker created with threshold %s", threshold)

	return checker
}

// checkStarvationLoop compares the last stamp against the threshold once per
// second and reports overruns through metrics and sentry.
func (s *StarvationChecker) checkStarvationLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mutex.RLock()
			timeSinceLastReconcile := time.Since(s.lastReconcileTime)
			s.mutex.RUnlock()

			if timeSinceLastReconcile > s.starvationThreshold {
				starvationTime := timeSinceLastReconcile.Seconds()
				metrics.AddStarvationTime(starvationTime)
				sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger, "Control loop starvation detected: %.2f seconds since last reconcile", starvationTime)
			} else {
				s.logger.Debugf("Control loop is healthy, last reconcile was %.2f seconds ago", timeSinceLastReconcile.Seconds())
			}
		}
	}
}

// Stop terminates the watchdog goroutine and waits for it to exit.
func (s *StarvationChecker) Stop() {
	s.logger.Info("Stopping starvation checker")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Starvation checker stopped")
}

// UpdateLastReconcileTime marks now as the most recent completed cycle.
func (s *StarvationChecker) UpdateLastReconcileTime() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastReconcileTime = time.Now()
}

// GetLastReconcileTime returns the timestamp of the most recent completed
// cycle.
func (s *StarvationChecker) GetLastReconcileTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.lastReconcileTime
}

// GetManagerName returns the component name for logging and metrics.
func (s *StarvationChecker) GetManagerName() string {
	return logger.ComponentStarvationChecker
}

// Reconcile stamps the liveness timestamp. The control loop calls it once
// per tick; the signature matches the manager chain so the checker can sit
// at the end of it. It never reports work and never fails.
func (s *StarvationChecker) Reconcile(ctx context.Context, cfg config.FullConfig) (error, bool) {
	s.UpdateLastReconcileTime()

	return nil, false
}
