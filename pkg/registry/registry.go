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

// Package registry validates service definitions as a dependency graph and
// derives the deterministic order in which services start and stop.
package registry

import (
	"fmt"

	"github.com/warden-systems/warden-core/pkg/config"
)

// Registry is the validated, immutable view of the configured services and
// their dependency ordering. Build one with Validate; a nil Registry has no
// services.
type Registry struct {
	services   map[string]config.ServiceConfig
	deps       map[string][]string
	dependents map[string][]string
	startOrder []string
}

// Validate checks the dependency graph spanned by the given service
// definitions and returns a Registry exposing the derived orderings.
// Duplicate names, self dependencies, references to undeclared services and
// dependency cycles are all reported as *config.ConfigError; in that case no
// Registry is returned and nothing may be started.
func Validate(defs []config.ServiceConfig) (*Registry, error) {
	r := &Registry{
		services:   make(map[string]config.ServiceConfig, len(defs)),
		deps:       make(map[string][]string, len(defs)),
		dependents: make(map[string][]string, len(defs)),
	}

	names := make([]string, 0, len(defs))
	for _, def := range defs {
		if _, dup := r.services[def.Name]; dup {
			return nil, config.NewConfigError(config.KindInvalidValue,
				fmt.Sprintf("duplicate service name %q", def.Name), def.Name)
		}
		r.services[def.Name] = def
		names = append(names, def.Name)
	}

	for _, name := range names {
		seen := make(map[string]bool, len(r.services[name].DependsOn))
		for _, dep := range r.services[name].DependsOn {
			if dep == name {
				return nil, config.NewConfigError(config.KindCyclicDependency,
					fmt.Sprintf("service %q depends on itself", name), name)
			}
			if _, ok := r.services[dep]; !ok {
				return nil, config.NewConfigError(config.KindUnknownDependency,
					fmt.Sprintf("service %q depends on unknown service %q", name, dep), name)
			}
			// Repeated entries in dependsOn collapse to one edge.
			if seen[dep] {
				continue
			}
			seen[dep] = true
			r.deps[name] = append(r.deps[name], dep)
			r.dependents[dep] = append(r.dependents[dep], name)
		}
	}

	order, err := r.sort(names)
	if err != nil {
		return nil, err
	}
	r.startOrder = order

	return r, nil
}

// sort is Kahn's algorithm with a deterministic twist: among all services
// whose dependencies are already placed, the one declared first in the
// config is placed first.
func (r *Registry) sort(names []string) ([]string, error) {
	// Count of dependencies not yet placed in the order.
	pending := make(map[string]int, len(names))
	for _, name := range names {
		pending[name] = len(r.deps[name])
	}

	order := make([]string, 0, len(names))
	placed := make(map[string]bool, len(names))
	for len(order) < len(names) {
		next := ""
		for _, name := range names {
			if !placed[name] && pending[name] == 0 {
				next = name
				break
			}
		}
		if next == "" {
			return nil, r.cycleError(names, placed)
		}

		placed[next] = true
		order = append(order, next)
		for _, dependent := range r.dependents[next] {
			pending[dependent]--
		}
	}

	return order, nil
}

// cycleError names the services participating in dependency cycles. Services
// that never got placed but are merely blocked downstream of a cycle are
// stripped so the error points at the cycle itself.
func (r *Registry) cycleError(names []string, placed map[string]bool) error {
	remaining := make(map[string]bool, len(names))
	for _, name := range names {
		if !placed[name] {
			remaining[name] = true
		}
	}

	for changed := true; changed; {
		changed = false
		for name := range remaining {
			blocked := false
			for _, dependent := range r.dependents[name] {
				if remaining[dependent] {
					blocked = true
					break
				}
			}
			if !blocked {
				delete(remaining, name)
				changed = true
			}
		}
	}

	cycle := make([]string, 0, len(remaining))
	for _, name := range names {
		if remaining[name] {
			cycle = append(cycle, name)
		}
	}

	return config.NewConfigError(config.KindCyclicDependency, "dependency cycle detected", cycle...)
}

// Get returns the definition of the named service.
func (r *Registry) Get(name string) (config.ServiceConfig, bool) {
	def, ok := r.services[name]
	return def, ok
}

// StartOrder returns the service names in start order: every service appears
// after all of its dependencies.
func (r *Registry) StartOrder() []string {
	out := make([]string, len(r.startOrder))
	copy(out, r.startOrder)
	return out
}

// ShutdownOrder returns the exact reverse of StartOrder: every service
// appears before all of its dependencies.
func (r *Registry) ShutdownOrder() []string {
	out := make([]string, len(r.startOrder))
	for i, name := range r.startOrder {
		out[len(out)-1-i] = name
	}
	return out
}

// Dependencies returns the direct dependencies of the named service, in the
// order they were declared.
func (r *Registry) Dependencies(name string) []string {
	return append([]string(nil), r.deps[name]...)
}

// Dependents returns the services that directly depend on the named service,
// in the order the dependents were declared.
func (r *Registry) Dependents(name string) []string {
	return append([]string(nil), r.dependents[name]...)
}
