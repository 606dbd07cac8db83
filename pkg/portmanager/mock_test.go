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

package portmanager

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MockPortManager", func() {
	It("implements basic functionality correctly", func() {
		pm := NewMockPortManager()

		// Reserve a port
		instanceName := "test-instance"
		err := pm.ReservePort(context.Background(), instanceName, 8500)
		Expect(err).NotTo(HaveOccurred())
		Expect(pm.ReservePortCalled).To(BeTrue())

		// Get the port
		gotPort, exists := pm.GetPort(instanceName)
		Expect(exists).To(BeTrue())
		Expect(gotPort).To(Equal(uint16(8500)))
		Expect(pm.GetPortCalled).To(BeTrue())

		// Release the port
		err = pm.ReleasePort(instanceName)
		Expect(err).NotTo(HaveOccurred())
		Expect(pm.ReleasePortCalled).To(BeTrue())

		// Verify port is released
		_, exists = pm.GetPort(instanceName)
		Expect(exists).To(BeFalse())
	})

	It("rejects a port held by another instance", func() {
		pm := NewMockPortManager()

		err := pm.ReservePort(context.Background(), "first", 8500)
		Expect(err).NotTo(HaveOccurred())

		err = pm.ReservePort(context.Background(), "second", 8500)
		Expect(err).To(MatchError(ErrPortInUse))

		// Re-reserving by the holder is fine
		err = pm.ReservePort(context.Background(), "first", 8500)
		Expect(err).NotTo(HaveOccurred())
	})

	It("handles predefined errors correctly", func() {
		pm := NewMockPortManager()

		expectedErr := errors.New("test error")
		pm.ReservePortError = expectedErr
		pm.ReleasePortError = expectedErr

		err := pm.ReservePort(context.Background(), "test-instance", 8500)
		Expect(err).To(Equal(expectedErr))

		err = pm.ReleasePort("test-instance")
		Expect(err).To(Equal(expectedErr))
	})
})
