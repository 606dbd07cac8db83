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

package health

import (
	"sync"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"

	"github.com/warden-systems/warden-core/pkg/constants"
)

// Debouncer turns a stream of per-service probe results into a stable
// unhealthy signal. A single failed probe is noise, a run of them is not:
// only after threshold consecutive failures is the service declared
// unhealthy, and one healthy result clears the count. Unhealthy and
// ProbeError verdicts count the same, a check that cannot run tells us
// nothing good about the service.
type Debouncer struct {
	mu        sync.Mutex
	threshold int
	failures  map[string]int
}

// NewDebouncer returns a debouncer that declares a service unhealthy after
// threshold consecutive failures. Non-positive thresholds fall back to the
// default.
func NewDebouncer(threshold int) *Debouncer {
	if threshold <= 0 {
		threshold = constants.DefaultProbeFailureThreshold
	}

	return &Debouncer{
		threshold: threshold,
		failures:  make(map[string]int),
	}
}

// Observe feeds one probe result for the service and reports whether the
// failure threshold has been reached.
func (d *Debouncer) Observe(name string, verdict Verdict) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if verdict == Healthy {
		delete(d.failures, name)

		return false
	}

	d.failures[name]++

	return d.failures[name] >= d.threshold
}

// Failures returns the current consecutive-failure count for the service.
func (d *Debouncer) Failures(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.failures[name]
}

// Pending reports whether the service has recorded failures but has not yet
// crossed the threshold. The supervisor counts such services as degrading
// rather than unhealthy.
func (d *Debouncer) Pending(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.failures[name]

	return n > 0 && n < d.threshold
}

// Reset clears the tracked failures for the service. Called when a service
// is restarted so the fresh incarnation starts with a clean slate.
func (d *Debouncer) Reset(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.failures, name)
}

// Throttle rate-limits alerts per key. A flapping service would otherwise
// emit an unhealthy event on every probe interval, burying everything else
// in the journal and in sentry.
type Throttle struct {
	seen *expiremap.ExpireMap[string, time.Time]
}

// NewThrottle returns a throttle that lets one alert per key through every
// ttl. Non-positive ttls fall back to the default alert throttle window.
func NewThrottle(ttl time.Duration) *Throttle {
	if ttl <= 0 {
		ttl = constants.HealthAlertThrottle
	}

	return &Throttle{
		seen: expiremap.NewEx[string, time.Time](ttl, ttl),
	}
}

// Allow reports whether an alert for the key should be emitted now. The
// first call per key inside the window wins, later calls are suppressed
// until the entry expires.
func (t *Throttle) Allow(key string) bool {
	if _, ok := t.seen.Load(key); ok {
		return false
	}

	t.seen.Set(key, time.Now())

	return true
}
