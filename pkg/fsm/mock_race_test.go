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

package fsm

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
)

var _ = Describe("MockFSMManager", func() {
	Describe("thread safety", func() {
		// Reconcile reads ReconcileDelay and ReconcileError under the mutex,
		// and every setter writes under the same mutex. These specs exist to
		// fail under the race detector if that invariant is ever broken.

		It("should handle concurrent Reconcile calls and field modifications", func() {
			mock := NewMockFSMManager()

			// Keep the readers alive for the full write phase.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			var wg sync.WaitGroup

			numReaders := 10
			for range numReaders {
				wg.Add(1)

				go func() {
					defer wg.Done()

					for {
						select {
						case <-ctx.Done():
							return
						default:
							_, _ = mock.Reconcile(ctx, SystemSnapshot{}, nil)
						}
					}
				}()
			}

			// Writes interleave with the reads happening inside Reconcile.
			numWrites := 1000
			for i := range numWrites {
				mock.SetReconcileDelay(time.Duration(i) * time.Microsecond)
				mock.SetReconcileError(errors.New("test error"))

				// The builder methods go through the same guarded setters.
				mock.WithReconcileDelay(time.Duration(i) * time.Microsecond)
				mock.WithReconcileError(errors.New("another error"))

				// Small sleep to ensure overlap with Reconcile() calls
				time.Sleep(10 * time.Microsecond)
			}

			cancel()
			wg.Wait()
		})

		It("should handle concurrent modification from multiple goroutines", func() {
			mock := NewMockFSMManager()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			var wg sync.WaitGroup

			// Goroutine 1: Continuously calls Reconcile()
			wg.Add(1)

			go func() {
				defer wg.Done()

				for {
					select {
					case <-ctx.Done():
						return
					default:
						_, _ = mock.Reconcile(ctx, SystemSnapshot{}, nil)
					}
				}
			}()

			// Goroutine 2: Continuously modifies ReconcileDelay
			wg.Add(1)

			go func() {
				defer wg.Done()

				for i := 0; ; i++ {
					select {
					case <-ctx.Done():
						return
					default:
						mock.SetReconcileDelay(time.Duration(i%100) * time.Millisecond)
					}
				}
			}()

			// Goroutine 3: Continuously modifies ReconcileError
			wg.Add(1)

			go func() {
				defer wg.Done()

				for i := 0; ; i++ {
					select {
					case <-ctx.Done():
						return
					default:
						if i%2 == 0 {
							mock.SetReconcileError(errors.New("error"))
						} else {
							mock.SetReconcileError(nil)
						}
					}
				}
			}()

			<-ctx.Done()
			wg.Wait()
		})
	})
})
