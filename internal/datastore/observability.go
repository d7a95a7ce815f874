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
	"time"
)

// ObservabilityReader is an optional capability an Adapter may implement
// for operational visibility: queue backlog by state, and runs that have
// stayed running well after their claim expired (a worker that crashed or
// stalled, and whose run nothing has reclaimed yet).
// Callers should type-assert for it rather than requiring it on Adapter,
// since a minimal backend has no obligation to support it.
type ObservabilityReader interface {
	// CountByStatus returns the number of tasks in queue in each TaskState,
	// keyed by the state string.
	CountByStatus(ctx context.Context, queue string) (map[string]int64, error)
	// ListStuckRunningRunIDs returns run ids in queue whose state is
	// running and whose claim expiry is more than olderThan in the past,
	// i.e. a lease extension should have happened by now and didn't.
	ListStuckRunningRunIDs(ctx context.Context, queue string, olderThan time.Duration) ([]string, error)
	// ListActiveWorkerIDs returns the distinct worker ids currently holding
	// an unexpired claim in queue, grounded on the teacher's
	// pgStore.ListActiveWorkerIDs (job_claims with expires_at > now()).
	ListActiveWorkerIDs(ctx context.Context, queue string) ([]string, error)
}

var (
	_ ObservabilityReader = (*Memory)(nil)
	_ ObservabilityReader = (*Postgres)(nil)
)

// CountByStatus implements ObservabilityReader for Memory.
func (m *Memory) CountByStatus(ctx context.Context, queue string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	counts := make(map[string]int64)
	for _, task := range q.tasks {
		counts[string(task.State)]++
	}
	return counts, nil
}

// ListStuckRunningRunIDs implements ObservabilityReader for Memory.
func (m *Memory) ListStuckRunningRunIDs(ctx context.Context, queue string, olderThan time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	cutoff := m.now().Add(-olderThan)
	var ids []string
	for _, run := range q.runs {
		if run.State != RunRunning {
			continue
		}
		if run.ClaimExpires != nil && run.ClaimExpires.Before(cutoff) {
			ids = append(ids, run.RunID)
		}
	}
	return ids, nil
}

// ListActiveWorkerIDs implements ObservabilityReader for Memory.
func (m *Memory) ListActiveWorkerIDs(ctx context.Context, queue string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	now := m.now()
	seen := make(map[string]bool)
	var ids []string
	for _, run := range q.runs {
		if run.ClaimedBy == "" || run.ClaimExpires == nil || run.ClaimExpires.Before(now) {
			continue
		}
		if !seen[run.ClaimedBy] {
			seen[run.ClaimedBy] = true
			ids = append(ids, run.ClaimedBy)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CountByStatus implements ObservabilityReader for Postgres.
func (p *Postgres) CountByStatus(ctx context.Context, queue string) (map[string]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT state, count(*) FROM `+taskTable(queue)+` GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// ListStuckRunningRunIDs implements ObservabilityReader for Postgres.
func (p *Postgres) ListStuckRunningRunIDs(ctx context.Context, queue string, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := p.pool.Query(ctx,
		`SELECT run_id FROM `+runTable(queue)+` WHERE state = 'running' AND claim_expires_at < $1 ORDER BY run_id`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListActiveWorkerIDs implements ObservabilityReader for Postgres.
func (p *Postgres) ListActiveWorkerIDs(ctx context.Context, queue string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT claimed_by FROM `+runTable(queue)+` WHERE claimed_by IS NOT NULL AND claim_expires_at > now() ORDER BY claimed_by`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
