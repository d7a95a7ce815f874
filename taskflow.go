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

// Package taskflow is a durable task-execution SDK: register handlers,
// spawn tasks against a queue, and run a worker that claims, executes, and
// retries them against a pluggable Datastore Adapter (in-memory or
// Postgres). The package itself is the Façade of spec §4.7 — it wires the
// Registry, Execution Engine, Claim Lease Manager and Worker Loop behind a
// single handle.
package taskflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskflow/internal/datastore"
	"taskflow/internal/engine"
	"taskflow/internal/lease"
	"taskflow/internal/registry"
	"taskflow/internal/step"
	"taskflow/internal/wakeup"
	"taskflow/internal/worker"
	"taskflow/pkg/log"
)

// SpawnResult is returned by Spawn: the identifiers of the created task and
// its first run.
type SpawnResult struct {
	TaskID  string
	RunID   string
	Attempt int
}

// Facade is the entry point for this package: register task handlers on
// it, spawn work, and start a worker to process it.
type Facade struct {
	adapter      datastore.Adapter
	registry     *registry.Registry
	engine       *engine.Engine
	wakeupQueue  wakeup.Queue
	log          *log.Logger
	defaultQueue string

	mu      sync.Mutex
	workers []*worker.Loop
}

// New constructs a Facade over adapter. defaultQueue is used for registered
// tasks with no bound queue when SpawnOptions.Queue is empty; an
// unregistered task with no queue override fails with ErrUnregisteredTask
// instead. wakeupQueue may be nil. logger may be nil
// (defaults to log.Default()).
func New(adapter datastore.Adapter, defaultQueue string, wakeupQueue wakeup.Queue, logger *log.Logger) *Facade {
	if logger == nil {
		logger = log.Default()
	}
	reg := registry.New()
	f := &Facade{
		adapter:      adapter,
		registry:     reg,
		wakeupQueue:  wakeupQueue,
		log:          logger,
		defaultQueue: defaultQueue,
	}
	f.engine = engine.New(adapter, reg, f, logger.Logger)
	return f
}

// CreateQueue creates a queue. Whether a pre-existing queue is an error is
// up to the adapter (datastore.ErrQueueExists, or silent idempotence).
func (f *Facade) CreateQueue(ctx context.Context, name string) error {
	return f.adapter.CreateQueue(ctx, name)
}

// DropQueue removes a queue. Both adapters treat a missing queue as a
// no-op, so this tolerates it without needing to inspect the error.
func (f *Facade) DropQueue(ctx context.Context, name string) error {
	return f.adapter.DropQueue(ctx, name)
}

// ListQueues returns every known queue name.
func (f *Facade) ListQueues(ctx context.Context) ([]string, error) {
	return f.adapter.ListQueues(ctx)
}

// RegisterTask binds name to handler, overwriting any prior registration.
// In-flight executions keep the handler reference they already captured,
// per the Registry's documented overwrite semantics.
func (f *Facade) RegisterTask(name string, opts RegisterOptions, handler registry.Handler) {
	f.registry.Register(name, handler, opts.DefaultMaxAttempts, opts.Queue)
}

// Spawn creates a task and its first run per spec §4.1's registry
// consultation rules.
func (f *Facade) Spawn(ctx context.Context, name string, params []byte, opts SpawnOptions) (SpawnResult, error) {
	queue, maxAttempts, err := f.resolve(name, opts.Queue, opts.MaxAttempts)
	if err != nil {
		return SpawnResult{}, err
	}
	taskID, runID, attempt, err := f.adapter.SpawnTask(ctx, datastore.SpawnInput{
		Queue:         queue,
		TaskName:      name,
		Params:        params,
		Headers:       opts.Headers,
		RetryStrategy: opts.RetryStrategy,
		MaxAttempts:   maxAttempts,
		Cancellation:  opts.Cancellation,
		AvailableAt:   opts.availableAt(),
	})
	if err != nil {
		return SpawnResult{}, fmt.Errorf("spawn %q: %w", name, err)
	}
	f.notifyWakeup(ctx, queue)
	return SpawnResult{TaskID: taskID, RunID: runID, Attempt: attempt}, nil
}

// resolve implements spec §4.1's queue/max-attempts resolution, shared by
// Spawn and SpawnChild so a child task is bound by the exact same rules as
// a top-level one.
func (f *Facade) resolve(name, queueOverride string, maxAttemptsOverride int) (queue string, maxAttempts int, err error) {
	entry, registered := f.registry.Lookup(name)
	switch {
	case !registered && queueOverride == "":
		return "", 0, fmt.Errorf("%w: %s", ErrUnregisteredTask, name)
	case registered && entry.BoundQueue != "" && queueOverride != "" && entry.BoundQueue != queueOverride:
		return "", 0, fmt.Errorf("%w: %s bound to %q, got %q", ErrQueueMismatch, name, entry.BoundQueue, queueOverride)
	}

	queue = queueOverride
	if queue == "" {
		queue = entry.BoundQueue
	}
	if queue == "" {
		queue = f.defaultQueue
	}

	maxAttempts = maxAttemptsOverride
	if maxAttempts == 0 {
		maxAttempts = entry.DefaultMaxAttempts
	}
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return queue, maxAttempts, nil
}

// SpawnChild implements step.ChildSpawner: every spawnChild call from a
// running handler is resolved through the identical registry rules as a
// top-level Spawn.
func (f *Facade) SpawnChild(ctx context.Context, in step.SpawnChildInput) (taskID, runID string, err error) {
	queue, maxAttempts, err := f.resolve(in.TaskName, in.Queue, in.MaxAttempts)
	if err != nil {
		return "", "", err
	}
	taskID, runID, _, err = f.adapter.SpawnTask(ctx, datastore.SpawnInput{
		Queue:       queue,
		TaskName:    in.TaskName,
		Params:      in.Params,
		Headers:     in.Headers,
		MaxAttempts: maxAttempts,
		AvailableAt: in.AvailableAt,
	})
	if err != nil {
		return "", "", fmt.Errorf("spawnChild %q: %w", in.TaskName, err)
	}
	f.notifyWakeup(ctx, queue)
	return taskID, runID, nil
}

// EmitEvent caches payload under (queue, name) until a matching awaitEvent
// consumes it. A run already sleeping on name becomes claimable and consumes
// the payload when its awaitEvent runs again.
func (f *Facade) EmitEvent(ctx context.Context, queue, name string, payload []byte) error {
	if err := f.adapter.EmitEvent(ctx, queue, name, payload); err != nil {
		return fmt.Errorf("emitEvent %q: %w", name, err)
	}
	f.notifyWakeup(ctx, queue)
	return nil
}

// GetTask returns the task record for id, or datastore.ErrNotFound.
func (f *Facade) GetTask(ctx context.Context, queue, taskID string) (*datastore.Task, error) {
	return f.adapter.GetTask(ctx, queue, taskID)
}

// GetRun returns the run record for id, or datastore.ErrNotFound.
func (f *Facade) GetRun(ctx context.Context, queue, runID string) (*datastore.Run, error) {
	return f.adapter.GetRun(ctx, queue, runID)
}

// CountByStatus returns queue's task counts by state, for an adapter that
// implements datastore.ObservabilityReader. Returns false if it doesn't.
func (f *Facade) CountByStatus(ctx context.Context, queue string) (map[string]int64, bool, error) {
	reader, ok := f.adapter.(datastore.ObservabilityReader)
	if !ok {
		return nil, false, nil
	}
	counts, err := reader.CountByStatus(ctx, queue)
	return counts, true, err
}

// ListStuckRunningRunIDs returns run ids in queue claimed as running whose
// claim expired more than olderThan ago, for an adapter that implements
// datastore.ObservabilityReader. Returns false if it doesn't.
func (f *Facade) ListStuckRunningRunIDs(ctx context.Context, queue string, olderThan time.Duration) ([]string, bool, error) {
	reader, ok := f.adapter.(datastore.ObservabilityReader)
	if !ok {
		return nil, false, nil
	}
	ids, err := reader.ListStuckRunningRunIDs(ctx, queue, olderThan)
	return ids, true, err
}

// ListActiveWorkerIDs returns the distinct worker ids currently holding an
// unexpired claim on queue, for an adapter that implements
// datastore.ObservabilityReader. Returns false if it doesn't.
func (f *Facade) ListActiveWorkerIDs(ctx context.Context, queue string) ([]string, bool, error) {
	reader, ok := f.adapter.(datastore.ObservabilityReader)
	if !ok {
		return nil, false, nil
	}
	ids, err := reader.ListActiveWorkerIDs(ctx, queue)
	return ids, true, err
}

// ClaimTasks claims up to batchSize eligible runs on queue for workerID.
func (f *Facade) ClaimTasks(ctx context.Context, queue string, batchSize int, claimTimeout time.Duration, workerID string) ([]datastore.ClaimedRun, error) {
	return f.adapter.ClaimTasks(ctx, queue, batchSize, claimTimeout, workerID)
}

// ExecuteTask runs one claimed run to completion, suspension, or failure.
// A nil return covers both success and suspension. A non-nil return is one
// of: lease.ErrLeaseLost (the claim was lost mid-execution), ErrNotOwner
// (wrapped; the claim was lost in the narrower window after the handler
// returned but before its outcome was recorded), or a *HandlerError (the
// task's handler itself failed or panicked). All three have already been
// reflected in the datastore where applicable; the return value exists for
// the caller's own logging/metrics, not for recovery.
func (f *Facade) ExecuteTask(ctx context.Context, claimed datastore.ClaimedRun, queue string, claimTimeout time.Duration, workerID string) error {
	err := f.engine.ExecuteTask(ctx, claimed, queue, claimTimeout, workerID)
	switch {
	case err == nil, errors.Is(err, lease.ErrLeaseLost):
		return err
	case errors.Is(err, datastore.ErrNotOwner):
		return fmt.Errorf("%w: %v", ErrNotOwner, err)
	default:
		return asHandlerError(err)
	}
}

// asHandlerError wraps a raw handler error as a *HandlerError, splitting out
// the stack trace the engine appends after a panic recovery.
func asHandlerError(err error) *HandlerError {
	msg := err.Error()
	if strings.HasPrefix(msg, "panic: ") {
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			return &HandlerError{Message: msg[:i], Stack: msg[i+1:]}
		}
	}
	return &HandlerError{Message: msg}
}

// WorkBatch claims up to batchSize runs on queue and executes them
// sequentially in this goroutine, returning the count processed.
func (f *Facade) WorkBatch(ctx context.Context, queue, workerID string, claimTimeout time.Duration, batchSize int) (int, error) {
	return worker.WorkBatch(ctx, f.adapter, f.engine, queue, workerID, claimTimeout, batchSize)
}

// Worker is the handle StartWorker returns: Close drains in-flight runs and
// stops polling.
type Worker struct {
	loop *worker.Loop
}

// Close stops polling and waits for in-flight runs to reach a terminal or
// suspended state.
func (w *Worker) Close() {
	w.loop.Close()
}

// Fatal reports a fatal lease loss when FatalOnLeaseTimeout is set: the
// hosting process should shut down after surfacing the error.
func (w *Worker) Fatal() <-chan error {
	return w.loop.Fatal()
}

// StartWorker starts a Worker Loop against opts.Queue and returns a handle
// whose Close stops it gracefully.
func (f *Facade) StartWorker(ctx context.Context, opts WorkerOptions) *Worker {
	loop := worker.New(f.adapter, f.engine, f.wakeupQueue, worker.Config{
		Queue:               opts.Queue,
		WorkerID:            workerID(opts.Queue),
		Concurrency:         opts.Concurrency,
		PollInterval:        opts.PollInterval,
		ClaimTimeout:        opts.ClaimTimeout,
		MaxPollsPerSecond:   opts.MaxPollsPerSecond,
		FatalOnLeaseTimeout: opts.FatalOnLeaseTimeout,
		OnError:             opts.OnError,
	}, f.log.Logger)
	loop.Start(ctx)

	f.mu.Lock()
	f.workers = append(f.workers, loop)
	f.mu.Unlock()

	return &Worker{loop: loop}
}

func (f *Facade) notifyWakeup(ctx context.Context, queue string) {
	if f.wakeupQueue == nil {
		return
	}
	_ = f.wakeupQueue.NotifyReady(ctx, queue)
}

func workerID(queue string) string {
	return fmt.Sprintf("%s-%d", queue, time.Now().UnixNano())
}
