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

package datastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type cachedEvent struct {
	payload   []byte
	consumed  bool
	emittedAt time.Time
}

type checkpointKey struct {
	taskID string
	name   string
}

// memQueue holds one queue's worth of tasks/runs/checkpoints/events. The
// spec's five per-queue tables (t_/r_/c_/e_/w_<queue>) collapse here into
// four maps; the fifth, waiters, is represented implicitly by a sleeping
// run's WakeEvent field rather than a separate table, since nothing besides
// the claim query ever needs to join against it.
type memQueue struct {
	tasks       map[string]*Task
	runs        map[string]*Run
	checkpoints map[checkpointKey]*Checkpoint
	events      map[string][]*cachedEvent
}

func newMemQueue() *memQueue {
	return &memQueue{
		tasks:       make(map[string]*Task),
		runs:        make(map[string]*Run),
		checkpoints: make(map[checkpointKey]*Checkpoint),
		events:      make(map[string][]*cachedEvent),
	}
}

// Memory is the in-process reference Adapter implementation. It backs unit
// tests and single-process/dev deployments with semantics identical to
// Postgres, including lease expiry and retry backoff.
type Memory struct {
	mu     sync.Mutex
	clock  func() time.Time
	queues map[string]*memQueue
}

// NewMemory creates an empty Memory adapter using the wall clock.
func NewMemory() *Memory {
	return &Memory{
		clock:  time.Now,
		queues: make(map[string]*memQueue),
	}
}

// SetClock overrides the adapter's notion of "now"; test-only.
func (m *Memory) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

func (m *Memory) now() time.Time {
	return m.clock()
}

func (m *Memory) CreateQueue(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[name]; ok {
		return nil // idempotent, per spec §4.7
	}
	m.queues[name] = newMemQueue()
	return nil
}

func (m *Memory) DropQueue(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, name)
	return nil
}

func (m *Memory) ListQueues(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) queue(name string) *memQueue {
	q, ok := m.queues[name]
	if !ok {
		q = newMemQueue()
		m.queues[name] = q
	}
	return q
}

func (m *Memory) SpawnTask(ctx context.Context, in SpawnInput) (string, string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	availableAt := in.AvailableAt
	if availableAt.IsZero() {
		availableAt = now
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	taskID := "task-" + uuid.New().String()
	runID := "run-" + uuid.New().String()

	task := &Task{
		TaskID:           taskID,
		Queue:            in.Queue,
		TaskName:         in.TaskName,
		Params:           in.Params,
		Headers:          in.Headers,
		RetryStrategy:    in.RetryStrategy,
		MaxAttempts:      maxAttempts,
		State:            TaskPending,
		Attempts:         1,
		LastAttemptRunID: runID,
		CreatedAt:        now,
	}
	run := &Run{
		RunID:       runID,
		TaskID:      taskID,
		Attempt:     1,
		State:       RunPending,
		AvailableAt: availableAt,
	}

	q := m.queue(in.Queue)
	q.tasks[taskID] = task
	q.runs[runID] = run
	return taskID, runID, 1, nil
}

func (m *Memory) EmitEvent(ctx context.Context, queue, eventName string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	q.events[eventName] = append(q.events[eventName], &cachedEvent{payload: payload, emittedAt: m.now()})
	return nil
}

func (m *Memory) eventAvailableLocked(q *memQueue, name string) bool {
	for _, e := range q.events[name] {
		if !e.consumed {
			return true
		}
	}
	return false
}

// reclaimExpiredLocked resets any running run whose claim has expired back
// to pending: per spec.md's "a claim is valid only while now < claim_expires_
// at" invariant, an expired claim is indistinguishable from no claim at all,
// so the run (and its task) must become claimable again rather than staying
// orphaned by a worker that crashed mid-execution. m.mu must already be
// held. Returns the number reclaimed.
func (m *Memory) reclaimExpiredLocked(q *memQueue, now time.Time) int {
	var n int
	for _, run := range q.runs {
		if run.State != RunRunning {
			continue
		}
		if run.ClaimExpires == nil || run.ClaimExpires.After(now) {
			continue
		}
		run.State = RunPending
		run.ClaimedBy = ""
		run.ClaimExpires = nil
		if task := q.tasks[run.TaskID]; task != nil {
			task.State = TaskPending
		}
		n++
	}
	return n
}

// ReclaimExpiredRuns resets queue's expired running runs to pending.
// ClaimTasks already does this before selecting candidates; this is exposed
// for a periodic sweep of queues nobody is actively polling.
func (m *Memory) ReclaimExpiredRuns(ctx context.Context, queue string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reclaimExpiredLocked(m.queue(queue), m.now()), nil
}

// ClaimTasks returns eligible runs FIFO by available_at: pending runs,
// sleeping runs whose wake condition (elapsed sleep, or a cached unconsumed
// event matching wake_event) is now satisfied, and running runs reclaimed
// above because their claim expired.
func (m *Memory) ClaimTasks(ctx context.Context, queue string, batchSize int, claimTimeout time.Duration, workerID string) ([]ClaimedRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if batchSize <= 0 {
		return nil, nil
	}
	q := m.queue(queue)
	now := m.now()
	m.reclaimExpiredLocked(q, now)

	type candidate struct {
		run *Run
	}
	var candidates []candidate
	for _, run := range q.runs {
		if run.State != RunPending && run.State != RunSleeping {
			continue
		}
		if run.State == RunSleeping {
			if run.WakeEvent != "" {
				if !m.eventAvailableLocked(q, run.WakeEvent) {
					continue
				}
			} else if run.AvailableAt.After(now) {
				continue
			}
		} else if run.AvailableAt.After(now) {
			continue
		}
		candidates = append(candidates, candidate{run: run})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].run.AvailableAt.Before(candidates[j].run.AvailableAt)
	})

	if batchSize < len(candidates) {
		candidates = candidates[:batchSize]
	}

	expires := now.Add(claimTimeout)
	out := make([]ClaimedRun, 0, len(candidates))
	for _, c := range candidates {
		run := c.run
		run.ClaimedBy = workerID
		run.ClaimExpires = &expires
		run.State = RunRunning
		task := q.tasks[run.TaskID]
		if task != nil {
			task.State = TaskRunning
			if task.FirstStartedAt == nil {
				t := now
				task.FirstStartedAt = &t
			}
		}
		out = append(out, ClaimedRun{
			TaskID:   run.TaskID,
			RunID:    run.RunID,
			Attempt:  run.Attempt,
			TaskName: task.TaskName,
			Params:   task.Params,
			Headers:  task.Headers,
		})
	}
	return out, nil
}

func (m *Memory) lookupOwnedRun(q *memQueue, runID, workerID string) (*Run, error) {
	run, ok := q.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()
	if run.ClaimedBy != workerID || run.ClaimExpires == nil || run.ClaimExpires.Before(now) {
		return nil, ErrNotOwner
	}
	return run, nil
}

func (m *Memory) ExtendClaim(ctx context.Context, queue, runID, workerID string, claimTimeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	run, err := m.lookupOwnedRun(q, runID, workerID)
	if err != nil {
		return err
	}
	expires := m.now().Add(claimTimeout)
	run.ClaimExpires = &expires
	return nil
}

func (m *Memory) CompleteRun(ctx context.Context, queue, runID string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	run, ok := q.runs[runID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	if run.ClaimExpires == nil || run.ClaimExpires.Before(now) {
		return ErrNotOwner
	}
	run.State = RunCompleted
	run.Result = result
	t := now
	run.CompletedAt = &t

	task := q.tasks[run.TaskID]
	task.State = TaskCompleted
	task.CompletedPayload = result
	return nil
}

func (m *Memory) FailRun(ctx context.Context, queue, runID string, reason FailureReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	run, ok := q.runs[runID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	if run.ClaimExpires == nil || run.ClaimExpires.Before(now) {
		return ErrNotOwner
	}
	run.State = RunFailed
	run.FailureReason = &reason
	t := now
	run.FailedAt = &t

	task := q.tasks[run.TaskID]
	task.FailureReason = &reason

	if task.Attempts < task.MaxAttempts {
		nextRunID := "run-" + uuid.New().String()
		nextRun := &Run{
			RunID:       nextRunID,
			TaskID:      task.TaskID,
			Attempt:     task.Attempts + 1,
			State:       RunPending,
			AvailableAt: nextAvailableAt(task.RetryStrategy, task.Attempts, now),
		}
		q.runs[nextRunID] = nextRun
		task.Attempts++
		task.LastAttemptRunID = nextRunID
		task.State = TaskPending
	} else {
		task.State = TaskFailed
	}
	return nil
}

func (m *Memory) SuspendForEvent(ctx context.Context, queue, taskID, runID, eventName string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	run, ok := q.runs[runID]
	if !ok {
		return nil, false, ErrNotFound
	}
	now := m.now()
	if run.ClaimExpires == nil || run.ClaimExpires.Before(now) {
		return nil, false, ErrNotOwner
	}

	for _, e := range q.events[eventName] {
		if !e.consumed {
			e.consumed = true
			return e.payload, true, nil
		}
	}

	run.State = RunSleeping
	run.WakeEvent = eventName
	run.ClaimedBy = ""
	run.ClaimExpires = nil
	task := q.tasks[taskID]
	task.State = TaskSleeping
	return nil, false, nil
}

func (m *Memory) SuspendForSleep(ctx context.Context, queue, taskID, runID string, seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	run, ok := q.runs[runID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	if run.ClaimExpires == nil || run.ClaimExpires.Before(now) {
		return ErrNotOwner
	}
	run.State = RunSleeping
	run.WakeEvent = ""
	run.AvailableAt = now.Add(time.Duration(seconds * float64(time.Second)))
	run.ClaimedBy = ""
	run.ClaimExpires = nil
	task := q.tasks[taskID]
	task.State = TaskSleeping
	return nil
}

func (m *Memory) ReadCheckpoint(ctx context.Context, queue, taskID, name string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	cp, ok := q.checkpoints[checkpointKey{taskID: taskID, name: name}]
	if !ok {
		return nil, ErrNotFound
	}
	cpCopy := *cp
	return &cpCopy, nil
}

func (m *Memory) WriteCheckpoint(ctx context.Context, queue, taskID, name string, state []byte, ownerRunID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	key := checkpointKey{taskID: taskID, name: name}
	if _, ok := q.checkpoints[key]; ok {
		return ErrCheckpointExists
	}
	q.checkpoints[key] = &Checkpoint{
		TaskID:     taskID,
		Name:       name,
		State:      state,
		OwnerRunID: ownerRunID,
		UpdatedAt:  m.now(),
	}
	return nil
}

func (m *Memory) GetTask(ctx context.Context, queue, taskID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	taskCopy := *task
	return &taskCopy, nil
}

func (m *Memory) GetRun(ctx context.Context, queue, runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	run, ok := q.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	runCopy := *run
	return &runCopy, nil
}

var _ Adapter = (*Memory)(nil)
