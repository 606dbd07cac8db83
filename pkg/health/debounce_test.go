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

package health_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/warden-systems/warden-core/pkg/health"
)

var _ = Describe("Debouncer", func() {
	var debouncer *health.Debouncer

	BeforeEach(func() {
		debouncer = health.NewDebouncer(3)
	})

	It("stays quiet below the threshold", func() {
		Expect(debouncer.Observe("api", health.Unhealthy)).To(BeFalse())
		Expect(debouncer.Observe("api", health.Unhealthy)).To(BeFalse())

		Expect(debouncer.Failures("api")).To(Equal(2))
		Expect(debouncer.Pending("api")).To(BeTrue())
	})

	It("declares the service unhealthy at the threshold", func() {
		debouncer.Observe("api", health.Unhealthy)
		debouncer.Observe("api", health.Unhealthy)

		Expect(debouncer.Observe("api", health.Unhealthy)).To(BeTrue())
		Expect(debouncer.Pending("api")).To(BeFalse())

		By("staying unhealthy while failures continue")
		Expect(debouncer.Observe("api", health.Unhealthy)).To(BeTrue())
	})

	It("counts probe errors like failures", func() {
		debouncer.Observe("api", health.ProbeError)
		debouncer.Observe("api", health.Unhealthy)

		Expect(debouncer.Observe("api", health.ProbeError)).To(BeTrue())
	})

	It("resets on a single healthy result", func() {
		debouncer.Observe("api", health.Unhealthy)
		debouncer.Observe("api", health.Unhealthy)

		Expect(debouncer.Observe("api", health.Healthy)).To(BeFalse())
		Expect(debouncer.Failures("api")).To(BeZero())

		By("requiring a full new run of failures afterwards")
		Expect(debouncer.Observe("api", health.Unhealthy)).To(BeFalse())
		Expect(debouncer.Observe("api", health.Unhealthy)).To(BeFalse())
		Expect(debouncer.Observe("api", health.Unhealthy)).To(BeTrue())
	})

	It("tracks services independently", func() {
		debouncer.Observe("api", health.Unhealthy)
		debouncer.Observe("api", health.Unhealthy)

		Expect(debouncer.Failures("db")).To(BeZero())
		Expect(debouncer.Observe("db", health.Unhealthy)).To(BeFalse())
	})

	It("clears a service on Reset", func() {
		debouncer.Observe("api", health.Unhealthy)
		debouncer.Observe("api", health.Unhealthy)

		debouncer.Reset("api")

		Expect(debouncer.Failures("api")).To(BeZero())
		Expect(debouncer.Observe("api", health.Unhealthy)).To(BeFalse())
	})

	It("falls back to the default threshold for non-positive values", func() {
		fallback := health.NewDebouncer(0)

		Expect(fallback.Observe("api", health.Unhealthy)).To(BeFalse())
		Expect(fallback.Observe("api", health.Unhealthy)).To(BeFalse())
		Expect(fallback.Observe("api", health.Unhealthy)).To(BeTrue())
	})
})

var _ = Describe("Throttle", func() {
	It("lets the first alert through and suppresses repeats", func() {
		throttle := health.NewThrottle(time.Minute)

		Expect(throttle.Allow("api")).To(BeTrue())
		Expect(throttle.Allow("api")).To(BeFalse())
		Expect(throttle.Allow("api")).To(BeFalse())
	})

	It("throttles per key", func() {
		throttle := health.NewThrottle(time.Minute)

		Expect(throttle.Allow("api")).To(BeTrue())
		Expect(throttle.Allow("db")).To(BeTrue())
	})

	It("reopens after the window expires", func() {
		throttle := health.NewThrottle(30 * time.Millisecond)

		Expect(throttle.Allow("api")).To(BeTrue())
		Expect(throttle.Allow("api")).To(BeFalse())

		Eventually(func() bool {
			return throttle.Allow("api")
		}, "1s", "20ms").Should(BeTrue())
	})
})
