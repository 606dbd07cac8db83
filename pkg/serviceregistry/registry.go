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

// Provider is the service surface handed to every reconcile call. Actions
// reach the filesystem and the port claims through it instead of holding
// their own references.
type Provider interface {
	GetFileSystem() filesystem.Service
	GetPortManager() portmanager.PortManager
}

// Registry bundles the core services shared across all managers.
type Registry struct {
	PortManager portmanager.PortManager
	FileSystem  filesystem.Service
}

var _ Provider = (*Registry)(nil)

// GetFileSystem returns the filesystem service.
func (r *Registry) GetFileSystem() filesystem.Service {
	return r.FileSystem
}

// GetPortManager returns the port manager.
func (r *Registry) GetPortManager() portmanager.PortManager {
	return r.PortManager
}
