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

package serviceregistry

import (
	"github.com/warden-systems/warden-core/pkg/portmanager"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
)

// NewMockRegistry returns a Registry backed by in-memory mocks. Tests that
// need to script filesystem or port behavior reach into the concrete mock
// types through the exported fields.
func NewMockRegistry() *Registry {
	return &Registry{
		PortManager: portmanager.NewMockPortManager(),
		FileSystem:  filesystem.NewMockFileSystem(),
	}
}
