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

import "fmt"

// Per spec §6.2: createQueue/dropQueue operate on five per-queue tables,
// t_/r_/c_/e_/w_<queue>, named directly after the queue so multiple queues
// never share storage and dropQueue is a straight DROP TABLE.

func taskTable(queue string) string  { return "t_" + queue }
func runTable(queue string) string   { return "r_" + queue }
func checkpointTable(queue string) string { return "c_" + queue }
func eventTable(queue string) string { return "e_" + queue }
func waiterTable(queue string) string { return "w_" + queue }

func createQueueDDL(queue string) []string {
	t, r, c, e, w := taskTable(queue), runTable(queue), checkpointTable(queue), eventTable(queue), waiterTable(queue)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			task_id TEXT PRIMARY KEY,
			task_name TEXT NOT NULL,
			params BYTEA,
			headers JSONB,
			retry_strategy JSONB,
			max_attempts INT NOT NULL DEFAULT 1,
			state TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 1,
			first_started_at TIMESTAMPTZ,
			last_attempt_run_id TEXT,
			completed_payload BYTEA,
			failure_message TEXT,
			failure_stack TEXT,
			cancelled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, t),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES %s(task_id),
			attempt INT NOT NULL,
			state TEXT NOT NULL,
			claimed_by TEXT,
			claim_expires_at TIMESTAMPTZ,
			available_at TIMESTAMPTZ NOT NULL,
			wake_event TEXT,
			event_payload BYTEA,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			failed_at TIMESTAMPTZ,
			result BYTEA,
			failure_message TEXT,
			failure_stack TEXT
		)`, r, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_claim_idx ON %s (state, available_at)`, r, r),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			task_id TEXT NOT NULL,
			name TEXT NOT NULL,
			state BYTEA,
			owner_run_id TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (task_id, name)
		)`, c),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			event_name TEXT NOT NULL,
			payload BYTEA,
			consumed BOOLEAN NOT NULL DEFAULT false,
			emitted_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, e),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_pending_idx ON %s (event_name, consumed, id)`, e, e),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			task_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			event_name TEXT NOT NULL,
			PRIMARY KEY (task_id, run_id)
		)`, w),
	}
}

func dropQueueDDL(queue string) []string {
	return []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, waiterTable(queue)),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, eventTable(queue)),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, checkpointTable(queue)),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, runTable(queue)),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, taskTable(queue)),
	}
}
