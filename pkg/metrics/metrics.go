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

package metrics

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/sentry"
	"go.uber.org/zap"
)

const (
	// Component Labels.
	ComponentControlLoop = "control_loop"
	// Manager.
	ComponentBaseFSMManager    = "base_fsm_manager"
	ComponentSupervisorManager = "supervisor_manager"
	// Instances.
	ComponentBaseFSMInstance = "base_fsm_instance"
	ComponentServiceInstance = "service_instance"
	// Services.
	ComponentProcessService = "process_service"
	ComponentHealthMonitor  = "health_monitor"
	ComponentBackupManager  = "backup_manager"
	ComponentScheduler      = "scheduler"
	ComponentHostMonitor    = "host_monitor"
	ComponentFilesystem     = "filesystem"
	ComponentAPIServer      = "api_server"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "warden"
	subsystem = "core"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// Reconcile timing.
	reconcileTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_duration_milliseconds",
			Help:      "Time taken to reconcile (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"component", "instance"},
	)

	// Starvation timer.
	starvationSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_starved_total_seconds",
			Help:      "Total seconds the reconcile loop was starved",
		},
	)

	// Service state metrics.
	serviceCurrentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "service_current_state",
			Help:      "Current state of the service (0=Stopped, 1=Starting, 2=Running, 3=Restarting, 4=Stopping, 5=Failed, -1=Unknown)",
		},
		[]string{"component", "instance"},
	)

	serviceDesiredState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "service_desired_state",
			Help:      "Desired state of the service (0=Stopped, 1=Starting, 2=Running, 3=Restarting, 4=Stopping, 5=Failed, -1=Unknown)",
		},
		[]string{"component", "instance"},
	)

	// Restart counter per service.
	serviceRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "service_restarts_total",
			Help:      "Total number of restart attempts per service",
		},
		[]string{"instance"},
	)

	// Probe metrics.
	probeResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "probe_results_total",
			Help:      "Total number of probe executions by service and verdict",
		},
		[]string{"instance", "verdict"},
	)

	probeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "probe_duration_seconds",
			Help:      "Duration of probe executions in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"instance"},
	)

	// Backup metrics.
	backupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backups_total",
			Help:      "Total number of backup operations by reason and outcome",
		},
		[]string{"reason", "outcome"},
	)

	backupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backup_duration_seconds",
			Help:      "Duration of backup and restore operations in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"operation"},
	)

	backupLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backup_last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful backup",
		},
	)

	backupsRetained = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backups_retained",
			Help:      "Number of backups currently retained after rotation",
		},
	)

	// Filesystem operation metrics.
	filesystemOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "filesystem_ops_total",
			Help:      "Total number of filesystem operations by type and path",
		},
		[]string{"operation", "path", "cached"},
	)

	filesystemOpsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "filesystem_ops_duration_seconds",
			Help:      "Duration of filesystem operations in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation", "cached"},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For("metrics"))
		}
	}()

	return server
}

// printDetailedStackTrace prints a detailed stack trace with more information.
func printDetailedStackTrace() {
	// Get stack trace for all goroutines with a large buffer
	buf := make([]byte, 1024*1024) // Allocate 1MB buffer
	n := runtime.Stack(buf, true)

	// Print the full stack trace
	logger.For("stacktrace").Debugf("=== DETAILED STACK TRACE ===\n%s", string(buf[:n]))
}

// IncErrorCountAndLog increments the error counter for a component and logs a debug message if a logger is provided.
func IncErrorCountAndLog(component, instance string, err error, logger *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if logger != nil {
		// Display detailed stacktrace
		printDetailedStackTrace()
		logger.Debugf("Component %s instance %s reconciliation failed: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveReconcileTime records the time taken for a reconciliation.
func ObserveReconcileTime(component, instance string, duration time.Duration) {
	reconcileTime.WithLabelValues(component, instance).Observe(float64(duration.Milliseconds()))
}

// AddStarvationTime increases the starvation counter by the specified seconds.
func AddStarvationTime(seconds float64) {
	starvationSeconds.Add(seconds)
}

// UpdateServiceState updates the current and desired state metrics for a service.
func UpdateServiceState(component, instance string, currentState, desiredState string) {
	serviceCurrentState.WithLabelValues(component, instance).Set(getStateValue(currentState))
	serviceDesiredState.WithLabelValues(component, instance).Set(getStateValue(desiredState))
}

// getStateValue converts a state string to a numeric value for the metric.
func getStateValue(state string) float64 {
	switch state {
	case "stopped":
		return 0
	case "starting":
		return 1
	case "running":
		return 2
	case "restarting":
		return 3
	case "stopping":
		return 4
	case "failed":
		return 5
	default:
		return -1 // Unknown state
	}
}

// IncServiceRestart counts one restart attempt for a service.
func IncServiceRestart(instance string) {
	serviceRestartsTotal.WithLabelValues(instance).Inc()
}

// RecordProbeResult records one probe execution.
func RecordProbeResult(instance, verdict string, duration time.Duration) {
	probeResultsTotal.WithLabelValues(instance, verdict).Inc()
	probeDuration.WithLabelValues(instance).Observe(duration.Seconds())
}

// RecordBackup records the outcome of a backup operation.
func RecordBackup(reason, outcome string, duration time.Duration) {
	backupsTotal.WithLabelValues(reason, outcome).Inc()
	backupDuration.WithLabelValues("backup").Observe(duration.Seconds())

	if outcome == "success" {
		backupLastSuccess.SetToCurrentTime()
	}
}

// RecordRestore records the duration of a restore operation.
func RecordRestore(duration time.Duration) {
	backupDuration.WithLabelValues("restore").Observe(duration.Seconds())
}

// SetBackupsRetained updates the retained-backups gauge after rotation.
func SetBackupsRetained(count int) {
	backupsRetained.Set(float64(count))
}

// RecordFilesystemOp records a filesystem operation metric.
func RecordFilesystemOp(operation, path string, cached bool, duration time.Duration) {
	cachedStr := "false"
	if cached {
		cachedStr = "true"
	}

	filesystemOpsTotal.WithLabelValues(operation, path, cachedStr).Inc()
	filesystemOpsDuration.WithLabelValues(operation, cachedStr).Observe(duration.Seconds())
}
