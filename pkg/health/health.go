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

// Package health runs the per-service probes and turns their raw results
// into the stable signals the supervisor acts on.
//
// A Prober answers a single question, "does this service look alive right
// now", in one of four ways (process liveness, HTTP GET, TCP connect, or a
// Prometheus exposition scrape). Raw probe results are noisy, so they are
// never acted on directly: the Debouncer requires several consecutive
// failures before a service is declared unhealthy, and the Throttle keeps
// repeated alerts for the same service from flooding the event journal and
// sentry.
package health

import (
	"context"
	"time"

	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/models"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
	"github.com/warden-systems/warden-core/pkg/service/httpclient"
	"github.com/warden-systems/warden-core/pkg/service/process"
)

// Verdict is the outcome of a single probe execution.
type Verdict string

const (
	// Healthy means the probe ran and the service passed it.
	Healthy Verdict = "healthy"
	// Unhealthy means the probe ran and the service failed it.
	Unhealthy Verdict = "unhealthy"
	// ProbeError means the probe itself could not run to completion, for
	// example a timeout or a malformed target. It counts as a failure for
	// debouncing but is reported separately so operators can tell a broken
	// service from a broken check.
	ProbeError Verdict = "probe_error"
)

// Result is one probe execution. At is when the probe started, Latency how
// long it took, Detail a short human-readable explanation of the verdict.
type Result struct {
	Verdict Verdict       `json:"verdict"`
	Detail  string        `json:"detail"`
	Latency time.Duration `json:"latency"`
	At      time.Time     `json:"at"`
}

// Prober runs one kind of health check against a single service.
type Prober interface {
	// Probe executes the check once, bounded by the spec's timeout. Probe
	// never returns an error: failures of the check itself surface as a
	// ProbeError verdict so callers handle every outcome the same way.
	Probe(ctx context.Context, spec config.ProbeConfig) Result
}

// NewProber selects the prober implementation for the configured probe
// type. Services without a configured probe fall back to the process
// check, so every supervised service has at least liveness monitoring.
func NewProber(serviceName string, typ config.ProbeType, procService process.Service, client httpclient.HTTPClient, fsService filesystem.Service) Prober {
	switch typ {
	case config.ProbeTypeHTTP:
		return NewHTTPProber(client)
	case config.ProbeTypeTCP:
		return NewTCPProber()
	case config.ProbeTypeMetrics:
		return NewMetricsProber(client)
	default:
		return NewProcessProber(serviceName, procService, fsService)
	}
}

// Condition is the per-service input to Aggregate. The supervisor fills one
// per managed service from its state machine and debounce state.
type Condition struct {
	// Failed marks a service whose restart budget is exhausted.
	Failed bool
	// Settling marks a service still starting or restarting.
	Settling bool
	// Debouncing marks a running service with recorded probe failures that
	// has not yet crossed the unhealthy threshold.
	Debouncing bool
	// Unhealthy marks a running service past the failure threshold.
	Unhealthy bool
}

// Aggregate classifies the system as a whole. Any terminally failed service
// makes the system critical. A service that is settling, debouncing, or
// unhealthy degrades it. Everything else is healthy.
func Aggregate(conditions []Condition) models.OverallHealth {
	overall := models.OverallHealthy
	for _, c := range conditions {
		if c.Failed {
			return models.OverallCritical
		}
		if c.Settling || c.Debouncing || c.Unhealthy {
			overall = models.OverallDegraded
		}
	}

	return overall
}
