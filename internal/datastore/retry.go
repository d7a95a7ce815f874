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
	"math"
	"math/rand"
	"time"
)

const (
	defaultBackoffBase = 1 * time.Second
	defaultBackoffMax  = 60 * time.Second
)

// nextAvailableAt computes the available_at for the run created after a
// failed attempt, given the task's retry strategy (nil uses the default
// exponential backoff) and the attempt number that just failed. Both
// adapter implementations call this so a task's retry timing is identical
// regardless of backend — the computation itself still only ever runs
// inside the adapter, never in the SDK layer, per the time ownership rule.
func nextAvailableAt(strategy *RetryStrategy, failedAttempt int, now time.Time) time.Time {
	if strategy != nil && strategy.Type == "fixed" {
		return now.Add(time.Duration(strategy.Seconds * float64(time.Second)))
	}

	base := defaultBackoffBase
	max := defaultBackoffMax
	jitter := false
	if strategy != nil && strategy.Type == "exponential" {
		if strategy.Base > 0 {
			base = time.Duration(strategy.Base * float64(time.Second))
		}
		if strategy.Max > 0 {
			max = time.Duration(strategy.Max * float64(time.Second))
		}
		jitter = strategy.Jitter
	}

	backoff := time.Duration(float64(base) * math.Pow(2, float64(failedAttempt-1)))
	if backoff > max {
		backoff = max
	}
	if jitter && backoff > 0 {
		backoff = time.Duration(rand.Int63n(int64(backoff)))
	}
	return now.Add(backoff)
}
