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

package starvationchecker

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/warden-systems/warden-core/pkg/config"
)

var _ = Describe("StarvationChecker", func() {
	var checker *StarvationChecker
	var ctx context.Context
	var cancel context.CancelFunc

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		checker = NewStarvationChecker(100 * time.Millisecond)
	})

	AfterEach(func() {
		checker.Stop()
		cancel()
	})

	Describe("Background starvation check", func() {
		It("keeps the initial stamp when no reconciles happen", func() {
			time.Sleep(150 * time.Millisecond)

			lastReconcile := checker.GetLastReconcileTime()
			Expect(time.Since(lastReconcile)).To(BeNumerically(">=", 150*time.Millisecond))
		})

		It("refreshes the stamp when Reconcile is called", func() {
			time.Sleep(50 * time.Millisecond)

			_, _ = checker.Reconcile(ctx, config.FullConfig{})

			lastReconcile := checker.GetLastReconcileTime()
			Expect(time.Since(lastReconcile)).To(BeNumerically("<", 50*time.Millisecond))
		})
	})

	Describe("Reconcile", func() {
		It("advances the stamp", func() {
			initialTime := checker.GetLastReconcileTime()

			time.Sleep(50 * time.Millisecond)

			_, _ = checker.Reconcile(ctx, config.FullConfig{})

			newTime := checker.GetLastReconcileTime()
			Expect(newTime).To(BeTemporally(">", initialTime))
		})

		It("stays fresh under frequent reconciles", func() {
			for range 3 {
				_, _ = checker.Reconcile(ctx, config.FullConfig{})
				time.Sleep(30 * time.Millisecond)
			}

			lastReconcile := checker.GetLastReconcileTime()
			Expect(time.Since(lastReconcile)).To(BeNumerically("<", 50*time.Millisecond))
		})
	})

	Describe("Stop", func() {
		It("halts the watchdog", func() {
			initialTime := checker.GetLastReconcileTime()

			checker.Stop()

			time.Sleep(150 * time.Millisecond)

			newTime := checker.GetLastReconcileTime()
			Expect(newTime).To(Equal(initialTime))
		})
	})
})
