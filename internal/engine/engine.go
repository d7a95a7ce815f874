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

// Package engine implements executeTask: given a claimed run, it loads the
// registered handler, constructs a Step Context, invokes the handler, and
// translates the outcome into a complete/fail DSA call (a suspension
// outcome requires no further DSA call — the suspending Step Context call
// already persisted it).
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"taskflow/internal/datastore"
	"taskflow/internal/lease"
	"taskflow/internal/registry"
	"taskflow/internal/step"
	"taskflow/internal/suspend"
	"taskflow/pkg/metrics"
	"taskflow/pkg/tracing"
)

var errUnregisteredTask = errors.New("engine: task not registered")

// Engine executes claimed runs against a Registry and a datastore.Adapter.
type Engine struct {
	adapter  datastore.Adapter
	registry *registry.Registry
	spawner  step.ChildSpawner
	log      *slog.Logger
}

// New constructs an Engine. log defaults to slog.Default() when nil.
func New(adapter datastore.Adapter, reg *registry.Registry, spawner step.ChildSpawner, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{adapter: adapter, registry: reg, spawner: spawner, log: log}
}

// ExecuteTask runs one claimed run to completion, suspension, or failure.
// claimTimeout is the lease TTL the run was claimed with; the lease is
// extended on a ticker at claimTimeout/3 for the duration of the call.
// It returns lease.ErrLeaseLost if the claim was lost mid-execution, so the
// Worker Loop can apply its fatalOnLeaseTimeout policy; datastore.ErrNotOwner
// (wrapped) if the claim was lost in the narrower window between the handler
// returning and complete_run/fail_run being recorded; or the raw handler
// error otherwise, which has already been persisted via fail_run and is
// returned only for onError reporting.
func (e *Engine) ExecuteTask(ctx context.Context, claimed datastore.ClaimedRun, queue string, claimTimeout time.Duration, workerID string) error {
	log := e.log.With("task_id", claimed.TaskID, "run_id", claimed.RunID, "queue", queue, "worker_id", workerID)

	entry, ok := e.registry.Lookup(claimed.TaskName)
	if !ok {
		log.Error("task not registered", "task_name", claimed.TaskName)
		if err := e.adapter.FailRun(ctx, queue, claimed.RunID, datastore.FailureReason{Message: "Task not registered"}); err != nil {
			log.Error("fail_run after unregistered task", "error", err)
		}
		metrics.RunTotal.WithLabelValues(queue, claimed.TaskName, "failed").Inc()
		return fmt.Errorf("task %q: %w", claimed.TaskName, errUnregisteredTask)
	}

	ctx, span := tracing.StartRunSpan(ctx, claimed.RunID, claimed.TaskName, queue)
	defer span.End()

	runner := lease.New(e.adapter, lease.Config{ClaimTimeout: claimTimeout}, func(runID string, err error) {
		log.Warn("lease extension failed", "error", err)
	})
	runner.Start(ctx, queue, claimed.RunID, workerID)
	defer runner.Stop()

	sc := step.New(e.adapter, e.spawner, queue, claimed.TaskID, claimed.RunID, claimed.Attempt)

	start := time.Now()
	resultCh := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- handlerOutcome{err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
			}
		}()
		v, err := entry.Handler(ctx, claimed.Params, sc)
		resultCh <- handlerOutcome{value: v, err: err}
	}()

	var outcome handlerOutcome
	select {
	case outcome = <-resultCh:
	case <-runner.Lost():
		log.Warn("claim lost during execution, abandoning run")
		return lease.ErrLeaseLost
	}

	metrics.RunDuration.WithLabelValues(queue, claimed.TaskName).Observe(time.Since(start).Seconds())

	var sig *suspend.Signal
	switch {
	case errors.As(outcome.err, &sig):
		// The datastore call inside AwaitEvent/Sleep already persisted the
		// sleeping state; nothing further to do.
		metrics.SuspendTotal.WithLabelValues(queue, string(sig.Kind)).Inc()
		log.Debug("run suspended", "kind", sig.Kind)
		return nil

	case outcome.err != nil:
		if err := e.fail(ctx, log, queue, claimed, outcome.err); err != nil {
			return err
		}
		return outcome.err

	default:
		return e.complete(ctx, log, queue, claimed, outcome.value)
	}
}

type handlerOutcome struct {
	value any
	err   error
}

// complete persists a handler's successful result. It returns
// datastore.ErrNotOwner (wrapped) if the claim was lost before the
// completion could be recorded, so the caller can distinguish "this worker
// no longer owns the run" from a true handler failure.
func (e *Engine) complete(ctx context.Context, log *slog.Logger, queue string, claimed datastore.ClaimedRun, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return e.fail(ctx, log, queue, claimed, fmt.Errorf("encode handler result: %w", err))
	}
	if err := e.adapter.CompleteRun(ctx, queue, claimed.RunID, encoded); err != nil {
		if errors.Is(err, datastore.ErrNotOwner) {
			log.Warn("complete_run: claim no longer owned, abandoning")
			metrics.ClaimConflictTotal.WithLabelValues(queue).Inc()
			return fmt.Errorf("complete_run: %w", err)
		}
		log.Error("complete_run failed", "error", err)
		return nil
	}
	metrics.RunTotal.WithLabelValues(queue, claimed.TaskName, "completed").Inc()
	return nil
}

// fail persists a handler failure or retry. It returns datastore.ErrNotOwner
// (wrapped) if the claim was lost before fail_run could be recorded.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, queue string, claimed datastore.ClaimedRun, handlerErr error) error {
	reason := datastore.FailureReason{Message: handlerErr.Error()}
	if err := e.adapter.FailRun(ctx, queue, claimed.RunID, reason); err != nil {
		if errors.Is(err, datastore.ErrNotOwner) {
			log.Warn("fail_run: claim no longer owned, abandoning")
			metrics.ClaimConflictTotal.WithLabelValues(queue).Inc()
			return fmt.Errorf("fail_run: %w", err)
		}
		log.Error("fail_run failed", "error", err)
		return nil
	}

	task, err := e.adapter.GetTask(ctx, queue, claimed.TaskID)
	if err != nil {
		log.Error("get_task after fail_run", "error", err)
		return nil
	}
	if task.State == datastore.TaskFailed {
		metrics.RunTotal.WithLabelValues(queue, claimed.TaskName, "failed").Inc()
	} else {
		metrics.RetryTotal.WithLabelValues(queue, claimed.TaskName).Inc()
	}
	return nil
}
