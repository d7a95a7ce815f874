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

// Package metrics exposes the prometheus metrics taskflow's worker loop,
// execution engine and lease manager record against.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRegistry is the registry every metric below is registered against;
// callers expose it through their own HTTP handler (promhttp.HandlerFor).
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RunDuration, RunTotal, RetryTotal,
		ClaimTotal, ClaimConflictTotal,
		LeaseExtendTotal, LeaseLostTotal,
		CheckpointWriteTotal, CheckpointHitTotal,
		SuspendTotal, WakeupSignalTotal,
		QueueBacklog, WorkerBusy,
	)
}

// RunDuration is handler execution time in seconds for one run attempt, by
// queue and task, recorded for every outcome (completed, failed, retried or
// suspended).
var RunDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "taskflow_run_duration_seconds",
		Help:    "Handler execution time in seconds for one run attempt.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"queue", "task"},
)

// RunTotal counts runs reaching a terminal outcome, by status. Suspensions
// are counted by SuspendTotal and retries by RetryTotal.
var RunTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskflow_run_total",
		Help: "Runs reaching a terminal outcome, by status (completed|failed).",
	},
	[]string{"queue", "task", "status"},
)

// RetryTotal counts handler failures that resulted in a scheduled retry.
var RetryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskflow_retry_total",
		Help: "Handler failures that resulted in a scheduled retry.",
	},
	[]string{"queue", "task"},
)

// ClaimTotal counts runs claimed by the worker loop, by queue.
var ClaimTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskflow_claim_total",
		Help: "Runs claimed by a worker, by queue.",
	},
	[]string{"queue"},
)

// ClaimConflictTotal counts runs where this worker's claim was found gone
// at completion or failure time (datastore.ErrNotOwner): another worker's
// reclaim or claim won the race after this worker's handler had already
// started. Expected under contention or after a slow handler outlives its
// lease, not itself an error.
var ClaimConflictTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskflow_claim_conflict_total",
		Help: "Runs whose claim was found gone when recording completion or failure.",
	},
	[]string{"queue"},
)

// LeaseExtendTotal counts successful heartbeat lease extensions.
var LeaseExtendTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskflow_lease_extend_total",
		Help: "Successful claim lease extensions.",
	},
	[]string{"queue"},
)

// LeaseLostTotal counts heartbeat extensions that failed because the lease
// was reassigned or expired before renewal.
var LeaseLostTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskflow_lease_lost_total",
		Help: "Lease extensions that failed because ownership was lost.",
	},
	[]string{"queue"},
)

// CheckpointWriteTotal counts step checkpoint writes (first execution).
var CheckpointWriteTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskflow_checkpoint_write_total",
		Help: "Step checkpoints written for the first time.",
	},
	[]string{"queue"},
)

// CheckpointHitTotal counts step calls served from an existing checkpoint
// during replay, instead of re-invoking the step body.
var CheckpointHitTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskflow_checkpoint_hit_total",
		Help: "Step calls served from an existing checkpoint during replay.",
	},
	[]string{"queue"},
)

// SuspendTotal counts runs suspended awaiting an event or sleep deadline.
var SuspendTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskflow_suspend_total",
		Help: "Runs suspended awaiting an event or sleep deadline, by reason.",
	},
	[]string{"queue", "reason"}, // reason: event | sleep
)

// WakeupSignalTotal counts wakeup hints received by the worker loop's fast
// path (in-memory channel or Redis pub/sub); purely advisory traffic.
var WakeupSignalTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskflow_wakeup_signal_total",
		Help: "Wakeup hints received by the worker loop's fast dispatch path.",
	},
	[]string{"queue", "transport"}, // transport: memory | redis
)

// QueueBacklog is the count of pending plus sleeping tasks per queue,
// sampled by the worker loop's reclaim sweep (every five poll intervals).
var QueueBacklog = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "taskflow_queue_backlog",
		Help: "Pending plus sleeping tasks in a queue.",
	},
	[]string{"queue"},
)

// WorkerBusy is the number of runs currently executing on a given worker.
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "taskflow_worker_busy",
		Help: "Runs currently executing on a worker.",
	},
	[]string{"worker_id"},
)
