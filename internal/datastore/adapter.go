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

// Package datastore is the single boundary between taskflow's engine and
// the backing relational store. Adapter is intentionally trait-shaped so
// the in-memory and Postgres implementations are interchangeable in tests
// and in single-process deployments.
package datastore

import (
	"context"
	"errors"
	"time"
)

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSleeping  TaskState = "sleeping"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// RunState is the lifecycle state of a single Run (attempt).
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSleeping  RunState = "sleeping"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Sentinel errors returned by Adapter implementations.
var (
	// ErrNotFound is returned by GetTask/GetRun for an unknown id, and by
	// ReadCheckpoint for a checkpoint that was never written.
	ErrNotFound = errors.New("datastore: not found")
	// ErrNotOwner is returned by ExtendClaim, CompleteRun, FailRun and the
	// suspend calls (not the checkpoint calls) when the caller no longer holds the run's
	// claim (lease expired or stolen by another worker).
	ErrNotOwner = errors.New("datastore: caller does not own the current claim")
	// ErrQueueExists is optionally returned by CreateQueue; adapters may
	// instead treat CreateQueue as idempotent, per spec.
	ErrQueueExists = errors.New("datastore: queue already exists")
	// ErrCheckpointExists is returned by WriteCheckpoint when a checkpoint
	// for (task_id, name) was already written by a prior run.
	ErrCheckpointExists = errors.New("datastore: checkpoint already written")
)

// RetryStrategy overrides the default exponential backoff for a task. Type
// is "fixed" (uses Seconds) or "exponential" (uses Base/Max/Jitter); the
// zero value means "use the adapter default".
type RetryStrategy struct {
	Type    string
	Seconds float64
	Base    float64
	Max     float64
	Jitter  bool
}

// FailureReason is the persisted shape of a handler or configuration error.
type FailureReason struct {
	Message string
	Stack   string
}

// SpawnInput carries everything needed to create a Task and its first Run.
type SpawnInput struct {
	Queue         string
	TaskName      string
	Params        []byte
	Headers       map[string]string
	RetryStrategy *RetryStrategy
	MaxAttempts   int
	Cancellation  string
	AvailableAt   time.Time // zero means "now"
}

// Task is the persisted, queue-scoped unit of work.
type Task struct {
	TaskID            string
	Queue             string
	TaskName          string
	Params            []byte
	Headers           map[string]string
	RetryStrategy     *RetryStrategy
	MaxAttempts       int
	State             TaskState
	Attempts          int
	FirstStartedAt    *time.Time
	LastAttemptRunID  string
	CompletedPayload  []byte
	FailureReason     *FailureReason
	CancelledAt       *time.Time
	CreatedAt         time.Time
}

// Run is a single attempt at executing a Task.
type Run struct {
	RunID         string
	TaskID        string
	Attempt       int
	State         RunState
	ClaimedBy     string
	ClaimExpires  *time.Time
	AvailableAt   time.Time
	WakeEvent     string
	EventPayload  []byte
	StartedAt     *time.Time
	CompletedAt   *time.Time
	FailedAt      *time.Time
	Result        []byte
	FailureReason *FailureReason
}

// ClaimedRun is the shape returned by ClaimTasks: just enough for the
// Execution Engine to look up the handler and invoke it.
type ClaimedRun struct {
	TaskID   string
	RunID    string
	Attempt  int
	TaskName string
	Params   []byte
	Headers  map[string]string
}

// Checkpoint is the persisted record of one completed step.
type Checkpoint struct {
	TaskID     string
	Name       string
	State      []byte
	OwnerRunID string
	UpdatedAt  time.Time
}

// Adapter is the Datastore Adapter (DSA): the sole interface through which
// every other taskflow component reaches the backing store. See spec §6.2.
type Adapter interface {
	CreateQueue(ctx context.Context, name string) error
	DropQueue(ctx context.Context, name string) error
	ListQueues(ctx context.Context) ([]string, error)

	// SpawnTask creates a Task and its first Run, returning their ids and
	// the initial attempt number (always 1).
	SpawnTask(ctx context.Context, in SpawnInput) (taskID, runID string, attempt int, err error)

	// EmitEvent caches payload under (queue, eventName) until a matching
	// waiter consumes it via SuspendForEvent.
	EmitEvent(ctx context.Context, queue, eventName string, payload []byte) error

	// ClaimTasks returns up to batchSize eligible runs (pending, sleeping
	// with availableAt <= now / a matched wake condition, or running with an
	// expired claim), FIFO by availableAt, and marks them claimed by
	// workerID until claimTimeout elapses. It reclaims expired running runs
	// to pending first, in the same atomic operation, so a worker that
	// crashed mid-execution doesn't orphan its run.
	ClaimTasks(ctx context.Context, queue string, batchSize int, claimTimeout time.Duration, workerID string) ([]ClaimedRun, error)

	// ReclaimExpiredRuns resets queue's running runs whose claim has expired
	// (now >= claim_expires_at, per the claim validity invariant) back to
	// pending, returning the count reclaimed. ClaimTasks already does this
	// internally before selecting candidates; this is exposed separately so
	// a queue nobody is actively polling can still be swept periodically.
	ReclaimExpiredRuns(ctx context.Context, queue string) (int, error)

	// ExtendClaim renews a claim's expiry. Returns ErrNotOwner if workerID
	// no longer holds it.
	ExtendClaim(ctx context.Context, queue, runID, workerID string, claimTimeout time.Duration) error

	// CompleteRun marks runID (and its task) completed with result. Returns
	// ErrNotOwner if the caller's claim is gone.
	CompleteRun(ctx context.Context, queue, runID string, result []byte) error

	// FailRun records reason against runID. If the task's attempts remain
	// below max_attempts, a new Run is created with available_at computed
	// by the task's retry strategy (or the adapter default); otherwise the
	// task moves to failed. Returns ErrNotOwner if the caller's claim is gone.
	FailRun(ctx context.Context, queue, runID string, reason FailureReason) error

	// SuspendForEvent atomically checks for a cached, unconsumed event
	// named eventName: if present, consumes it and returns its payload with
	// cached=true (no state transition). Otherwise registers a waiter,
	// moves the run to sleeping, and returns cached=false.
	SuspendForEvent(ctx context.Context, queue, taskID, runID, eventName string) (payload []byte, cached bool, err error)

	// SuspendForSleep moves the run to sleeping with available_at = now +
	// seconds, releasing its claim.
	SuspendForSleep(ctx context.Context, queue, taskID, runID string, seconds float64) error

	// ReadCheckpoint returns ErrNotFound if (taskID, name) was never written.
	ReadCheckpoint(ctx context.Context, queue, taskID, name string) (*Checkpoint, error)

	// WriteCheckpoint writes a checkpoint once; subsequent writes for the
	// same (taskID, name) return ErrCheckpointExists without overwriting.
	WriteCheckpoint(ctx context.Context, queue, taskID, name string, state []byte, ownerRunID string) error

	GetTask(ctx context.Context, queue, taskID string) (*Task, error)
	GetRun(ctx context.Context, queue, runID string) (*Run, error)
}
