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

// Package step implements the per-run handle passed to task handlers:
// step/awaitEvent/sleep/spawnChild, replay counters, and the convention for
// capturing non-deterministic values inside a step body.
package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"taskflow/internal/datastore"
	"taskflow/internal/suspend"
	"taskflow/pkg/metrics"
	"taskflow/pkg/tracing"
)

// SpawnChildInput mirrors the arguments spawn accepts, minus anything the
// Façade itself resolves (registry lookup, effective queue/max attempts)
// happen one level up; spawnChild always goes through the same Façade path.
type SpawnChildInput struct {
	Queue       string
	TaskName    string
	Params      []byte
	Headers     map[string]string
	MaxAttempts int
	AvailableAt time.Time
}

// ChildSpawner is the subset of the Façade's spawn path a Step Context needs
// for spawnChild, kept as its own interface to avoid an import cycle with
// the façade package.
type ChildSpawner interface {
	SpawnChild(ctx context.Context, in SpawnChildInput) (taskID, runID string, err error)
}

// Context is constructed once per run and passed to the handler. It is not
// safe for concurrent use from multiple goroutines: a handler that fans work
// out internally must serialize its step/awaitEvent/sleep calls itself.
type Context struct {
	TaskID string
	RunID  string
	Queue  string
	Attempt int

	adapter datastore.Adapter
	spawner ChildSpawner

	mu         sync.Mutex
	nameCounts map[string]int
}

// New constructs a Step Context for one claimed run.
func New(adapter datastore.Adapter, spawner ChildSpawner, queue, taskID, runID string, attempt int) *Context {
	return &Context{
		TaskID:     taskID,
		RunID:      runID,
		Queue:      queue,
		Attempt:    attempt,
		adapter:    adapter,
		spawner:    spawner,
		nameCounts: make(map[string]int),
	}
}

// canonicalName implements spec's per-run step naming: the k-th occurrence
// of name in this run is "name" for k=1 and "name#k" for k>=2.
func (c *Context) canonicalName(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nameCounts[name]++
	n := c.nameCounts[name]
	if n == 1 {
		return name
	}
	return fmt.Sprintf("%s#%d", name, n)
}

// Step runs body at most once per logical task completion. On replay, a
// step whose checkpoint was already written returns the cached state
// without invoking body at all.
func Step[T any](ctx context.Context, sc *Context, name string, body func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	n := sc.canonicalName(name)

	cp, err := sc.adapter.ReadCheckpoint(ctx, sc.Queue, sc.TaskID, n)
	if err != nil && !errors.Is(err, datastore.ErrNotFound) {
		return zero, fmt.Errorf("step %q: read checkpoint: %w", n, err)
	}
	if err == nil {
		metrics.CheckpointHitTotal.WithLabelValues(sc.Queue).Inc()
		var v T
		if len(cp.State) > 0 {
			if err := json.Unmarshal(cp.State, &v); err != nil {
				return zero, fmt.Errorf("step %q: decode cached state: %w", n, err)
			}
		}
		return v, nil
	}

	stepCtx, span := tracing.StartStepSpan(ctx, sc.RunID, n)
	v, err := body(stepCtx)
	span.End()
	if err != nil {
		return zero, err
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("step %q: encode result: %w", n, err)
	}
	if err := sc.adapter.WriteCheckpoint(ctx, sc.Queue, sc.TaskID, n, encoded, sc.RunID); err != nil && !errors.Is(err, datastore.ErrCheckpointExists) {
		return zero, fmt.Errorf("step %q: write checkpoint: %w", n, err)
	}
	metrics.CheckpointWriteTotal.WithLabelValues(sc.Queue).Inc()
	return v, nil
}

// AwaitEvent is a suspension point: it either returns a cached event's
// payload synchronously, or persists the run as sleeping and raises a
// *suspend.Signal the Execution Engine recovers.
func (c *Context) AwaitEvent(ctx context.Context, name string) (json.RawMessage, error) {
	payload, cached, err := c.adapter.SuspendForEvent(ctx, c.Queue, c.TaskID, c.RunID, name)
	if err != nil {
		return nil, fmt.Errorf("awaitEvent %q: %w", name, err)
	}
	if cached {
		return payload, nil
	}
	return nil, suspend.ForEvent(name)
}

// Sleep is a suspension point: it persists available_at = now + seconds on
// the run and raises a *suspend.Signal.
func (c *Context) Sleep(ctx context.Context, seconds float64) error {
	if err := c.adapter.SuspendForSleep(ctx, c.Queue, c.TaskID, c.RunID, seconds); err != nil {
		return fmt.Errorf("sleep(%0.fs): %w", seconds, err)
	}
	return suspend.ForSleep(seconds)
}

// SpawnChild transactionally spawns a child task. Re-entering the handler on
// resume, if the child's result matters, is the caller's responsibility
// (typically via a preceding Step call that records the child's ids).
func (c *Context) SpawnChild(ctx context.Context, in SpawnChildInput) (taskID, runID string, err error) {
	return c.spawner.SpawnChild(ctx, in)
}

// Now returns the current wall-clock time. Handlers should call this instead
// of time.Now() directly and capture the result inside a Step body so the
// value survives replay instead of drifting on resume.
func (c *Context) Now() time.Time {
	return time.Now()
}

// Rand returns a pseudo-random float64 in [0,1). Like Now, callers should
// capture the result inside a Step body rather than re-drawing it on every
// replay.
func (c *Context) Rand() float64 {
	return rand.Float64()
}
