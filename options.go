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

package taskflow

import (
	"time"

	"taskflow/internal/datastore"
)

// RegisterOptions configures a task binding passed to RegisterTask.
type RegisterOptions struct {
	// Queue binds this task name to a specific queue; Spawn calls for this
	// name must either omit Queue or agree with it.
	Queue string
	// DefaultMaxAttempts is used when a Spawn call for this name doesn't
	// supply MaxAttempts. Zero means the facade-wide default (1).
	DefaultMaxAttempts int
}

// SpawnOptions customizes one Spawn call. All fields are optional.
type SpawnOptions struct {
	// Queue overrides the task's bound queue, or selects one for an
	// unregistered task. Required if the task isn't registered.
	Queue string
	// MaxAttempts overrides the registered default.
	MaxAttempts int
	// RunAt is an absolute time for the first attempt to become eligible.
	// Takes precedence over RunAfter if both are set.
	RunAt time.Time
	// RunAfter delays the first attempt by this duration from now.
	RunAfter time.Duration
	// RetryStrategy overrides the adapter's default backoff for this task.
	RetryStrategy *datastore.RetryStrategy
	// Cancellation is an opaque token passed to the adapter in
	// SpawnInput.Cancellation. Neither the Memory nor the Postgres adapter
	// stores it, and it does not appear on datastore.Task.
	Cancellation string
	// Headers are opaque metadata carried alongside Params.
	Headers map[string]string
}

func (o SpawnOptions) availableAt() time.Time {
	if !o.RunAt.IsZero() {
		return o.RunAt
	}
	if o.RunAfter > 0 {
		return time.Now().Add(o.RunAfter)
	}
	return time.Time{}
}

// WorkerOptions configures StartWorker.
type WorkerOptions struct {
	Queue               string
	Concurrency         int
	PollInterval        time.Duration
	ClaimTimeout        time.Duration
	MaxPollsPerSecond   float64
	FatalOnLeaseTimeout bool
	OnError             func(err error, runID string)
}
