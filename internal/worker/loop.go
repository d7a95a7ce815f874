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

// Package worker implements the Worker Loop: idle -> polling -> dispatching
// -> (running || polling) -> draining -> closed, bounded concurrency, lease
// extension via the Execution Engine, and graceful shutdown.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskflow/internal/datastore"
	"taskflow/internal/engine"
	"taskflow/internal/lease"
	"taskflow/internal/wakeup"
	"taskflow/pkg/metrics"
	"taskflow/pkg/tracing"
)

// Config controls one Loop's polling and dispatch behavior.
type Config struct {
	Queue               string
	WorkerID            string
	Concurrency         int
	PollInterval        time.Duration
	ClaimTimeout        time.Duration
	MaxPollsPerSecond   float64
	FatalOnLeaseTimeout bool
	OnError             func(err error, runID string)
}

func (c Config) normalized() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 60 * time.Second
	}
	if c.MaxPollsPerSecond <= 0 {
		c.MaxPollsPerSecond = 10
	}
	return c
}

// Loop is the Worker Loop bound to one queue.
type Loop struct {
	adapter datastore.Adapter
	engine  *engine.Engine
	wakeup  wakeup.Queue
	cfg     Config
	log     *slog.Logger

	limiter *rate.Limiter

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	fatal chan error
}

// New constructs a Loop. wakeupQueue may be nil, in which case the loop
// polls purely on a fixed interval.
func New(adapter datastore.Adapter, eng *engine.Engine, wakeupQueue wakeup.Queue, cfg Config, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()
	return &Loop{
		adapter: adapter,
		engine:  eng,
		wakeup:  wakeupQueue,
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxPollsPerSecond), 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		fatal:   make(chan error, 1),
	}
}

// Start runs the poll/dispatch loop in its own goroutine.
func (l *Loop) Start(ctx context.Context) {
	go l.run(ctx)
	go l.reclaimSweep(ctx)
}

// reclaimSweep periodically resets this queue's expired running runs to
// pending independently of the claim path. ClaimTasks already reclaims on
// every successful poll, but when the loop is at full concurrency it skips
// polling entirely (see waitForSlotOrWakeup), so a run stuck behind a busy
// worker pool would otherwise wait for a free slot before its lease expiry
// is even noticed. Grounded on the teacher's periodic
// ReclaimOrphanedFromEventStore sweep.
func (l *Loop) reclaimSweep(ctx context.Context) {
	interval := l.cfg.PollInterval * 5
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			n, err := l.adapter.ReclaimExpiredRuns(ctx, l.cfg.Queue)
			if err != nil {
				l.reportError(err, "")
				continue
			}
			if n > 0 {
				l.log.Warn("reclaimed expired claims", "queue", l.cfg.Queue, "count", n)
			}
			if reader, ok := l.adapter.(datastore.ObservabilityReader); ok {
				if counts, err := reader.CountByStatus(ctx, l.cfg.Queue); err == nil {
					backlog := counts[string(datastore.TaskPending)] + counts[string(datastore.TaskSleeping)]
					metrics.QueueBacklog.WithLabelValues(l.cfg.Queue).Set(float64(backlog))
				}
			}
		}
	}
}

// Fatal reports a fatal lease loss when FatalOnLeaseTimeout is set: a worker
// process watching this channel should shut down after surfacing the error.
func (l *Loop) Fatal() <-chan error {
	return l.fatal
}

// Close stops polling and waits for all in-flight runs to reach a terminal
// or suspended state before returning.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.stop) })
	<-l.done
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	var wg sync.WaitGroup
	inflight := make(chan struct{}, l.cfg.Concurrency)

	for {
		select {
		case <-l.stop:
			wg.Wait()
			return
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		available := l.cfg.Concurrency - len(inflight)
		if available <= 0 {
			l.waitForSlotOrWakeup(ctx)
			continue
		}

		if err := l.limiter.Wait(ctx); err != nil {
			wg.Wait()
			return
		}

		pollCtx, pollSpan := tracing.StartPollSpan(ctx, l.cfg.Queue)
		claimed, err := l.adapter.ClaimTasks(pollCtx, l.cfg.Queue, available, l.cfg.ClaimTimeout, l.cfg.WorkerID)
		pollSpan.End()
		if err != nil {
			l.reportError(err, "")
			l.sleepOrWakeup(ctx)
			continue
		}
		metrics.ClaimTotal.WithLabelValues(l.cfg.Queue).Add(float64(len(claimed)))

		if len(claimed) == 0 {
			l.sleepOrWakeup(ctx)
			continue
		}

		for _, run := range claimed {
			run := run
			inflight <- struct{}{}
			wg.Add(1)
			metrics.WorkerBusy.WithLabelValues(l.cfg.WorkerID).Inc()
			go func() {
				defer wg.Done()
				defer func() { <-inflight }()
				defer metrics.WorkerBusy.WithLabelValues(l.cfg.WorkerID).Dec()

				err := l.engine.ExecuteTask(ctx, run, l.cfg.Queue, l.cfg.ClaimTimeout, l.cfg.WorkerID)
				if err == nil {
					return
				}
				if errors.Is(err, lease.ErrLeaseLost) {
					l.reportError(err, run.RunID)
					if l.cfg.FatalOnLeaseTimeout {
						select {
						case l.fatal <- err:
						default:
						}
					}
					return
				}
				l.reportError(err, run.RunID)
			}()
		}
	}
}

func (l *Loop) reportError(err error, runID string) {
	if l.cfg.OnError != nil {
		l.cfg.OnError(err, runID)
	} else {
		l.log.Error("worker loop error", "error", err, "run_id", runID)
	}
}

// waitForSlotOrWakeup blocks briefly while at capacity; it doesn't claim,
// it just waits one PollInterval (or until stop or ctx cancellation) to
// avoid a hot loop. Wakeup hints are not consulted here.
func (l *Loop) waitForSlotOrWakeup(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-l.stop:
	case <-time.After(l.cfg.PollInterval):
	}
}

// sleepOrWakeup waits for pollInterval, returning early on any wakeup hint;
// only hints naming this loop's queue are counted in WakeupSignalTotal.
func (l *Loop) sleepOrWakeup(ctx context.Context) {
	if l.wakeup == nil {
		select {
		case <-ctx.Done():
		case <-l.stop:
		case <-time.After(l.cfg.PollInterval):
		}
		return
	}
	queue, ok := l.wakeup.Receive(ctx, l.cfg.PollInterval)
	if ok && queue == l.cfg.Queue {
		metrics.WakeupSignalTotal.WithLabelValues(l.cfg.Queue, wakeupTransport(l.wakeup)).Inc()
	}
}

func wakeupTransport(q wakeup.Queue) string {
	if _, ok := q.(*wakeup.Redis); ok {
		return "redis"
	}
	return "memory"
}

// WorkBatch is a one-shot synchronous pass: claim up to batchSize runs and
// execute each sequentially, with no lease manager beyond what the engine
// itself starts per run. Returns the number of claims processed.
func WorkBatch(ctx context.Context, adapter datastore.Adapter, eng *engine.Engine, queue, workerID string, claimTimeout time.Duration, batchSize int) (int, error) {
	claimed, err := adapter.ClaimTasks(ctx, queue, batchSize, claimTimeout, workerID)
	if err != nil {
		return 0, err
	}
	for _, run := range claimed {
		_ = eng.ExecuteTask(ctx, run, queue, claimTimeout, workerID)
	}
	return len(claimed), nil
}
