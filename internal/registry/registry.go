// Copyright 2026 fanjia1024
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

// Package registry holds the in-process table mapping a task name to its
// handler and default invocation options.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"taskflow/internal/step"
)

// Handler is the function a registered task executes on each run attempt.
type Handler func(ctx context.Context, params json.RawMessage, sc *step.Context) (any, error)

// Entry is a single registered task's handler and defaults.
type Entry struct {
	Name              string
	Handler           Handler
	DefaultMaxAttempts int
	BoundQueue        string
}

// Registry maps task_name to {handler, default_max_attempts, bound_queue}.
// Read-mostly: Register overwrites without synchronizing against in-flight
// invocations, since a handler already running keeps its own captured
// reference to the Entry it started with.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register inserts or overwrites the entry for name.
func (r *Registry) Register(name string, handler Handler, defaultMaxAttempts int, boundQueue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = Entry{
		Name:               name,
		Handler:            handler,
		DefaultMaxAttempts: defaultMaxAttempts,
		BoundQueue:         boundQueue,
	}
}

// Lookup returns the entry registered under name, if any.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns every registered task name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}
