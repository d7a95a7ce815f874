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
	"testing"
	"time"
)

func TestMemory_SpawnAndClaim(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.CreateQueue(ctx, "default"); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	taskID, runID, attempt, err := m.SpawnTask(ctx, SpawnInput{Queue: "default", TaskName: "doubler", Params: []byte(`{"value":21}`), MaxAttempts: 1})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	if attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", attempt)
	}

	claimed, err := m.ClaimTasks(ctx, "default", 10, time.Minute, "worker-1")
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 1 || claimed[0].RunID != runID || claimed[0].TaskID != taskID {
		t.Fatalf("unexpected claim result: %+v", claimed)
	}

	again, err := m.ClaimTasks(ctx, "default", 10, time.Minute, "worker-2")
	if err != nil {
		t.Fatalf("ClaimTasks (second): %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no further claimable runs while claim is live, got %d", len(again))
	}
}

func TestMemory_ClaimTasksBatchSizeZero(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.CreateQueue(ctx, "q")
	_, _, _, _ = m.SpawnTask(ctx, SpawnInput{Queue: "q", TaskName: "t", MaxAttempts: 1})
	claimed, err := m.ClaimTasks(ctx, "q", 0, time.Minute, "w1")
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected empty result for batchSize=0, got %d", len(claimed))
	}
}

func TestMemory_CompleteRun(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.CreateQueue(ctx, "q")
	taskID, runID, _, _ := m.SpawnTask(ctx, SpawnInput{Queue: "q", TaskName: "t", MaxAttempts: 1})
	if _, err := m.ClaimTasks(ctx, "q", 1, time.Minute, "w1"); err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if err := m.CompleteRun(ctx, "q", runID, []byte(`{"doubled":42}`)); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	task, err := m.GetTask(ctx, "q", taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != TaskCompleted || string(task.CompletedPayload) != `{"doubled":42}` {
		t.Fatalf("unexpected task after complete: %+v", task)
	}
}

func TestMemory_FailRunRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.CreateQueue(ctx, "q")
	taskID, runID1, _, _ := m.SpawnTask(ctx, SpawnInput{Queue: "q", TaskName: "t", MaxAttempts: 2})

	if _, err := m.ClaimTasks(ctx, "q", 1, time.Minute, "w1"); err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if err := m.FailRun(ctx, "q", runID1, FailureReason{Message: "boom"}); err != nil {
		t.Fatalf("FailRun: %v", err)
	}
	task, _ := m.GetTask(ctx, "q", taskID)
	if task.State != TaskPending || task.Attempts != 2 {
		t.Fatalf("expected retry scheduled, got state=%s attempts=%d", task.State, task.Attempts)
	}

	// Jump the clock forward past the backoff window so the new run is
	// eligible; the default base backoff is 1s.
	m.SetClock(func() time.Time { return time.Now().Add(2 * time.Second) })
	claimed, err := m.ClaimTasks(ctx, "q", 1, time.Minute, "w1")
	if err != nil {
		t.Fatalf("ClaimTasks (retry): %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected retried run to be claimable, got %d", len(claimed))
	}
	if err := m.FailRun(ctx, "q", claimed[0].RunID, FailureReason{Message: "boom again"}); err != nil {
		t.Fatalf("FailRun (final): %v", err)
	}
	task, _ = m.GetTask(ctx, "q", taskID)
	if task.State != TaskFailed {
		t.Fatalf("expected task failed after exhausting attempts, got %s", task.State)
	}
}

func TestMemory_SuspendForEventCachedBeforeAwait(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.CreateQueue(ctx, "q")
	if err := m.EmitEvent(ctx, "q", "e", []byte(`{"data":"cached"}`)); err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}
	taskID, runID, _, _ := m.SpawnTask(ctx, SpawnInput{Queue: "q", TaskName: "t", MaxAttempts: 1})
	if _, err := m.ClaimTasks(ctx, "q", 1, time.Minute, "w1"); err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	payload, cached, err := m.SuspendForEvent(ctx, "q", taskID, runID, "e")
	if err != nil {
		t.Fatalf("SuspendForEvent: %v", err)
	}
	if !cached || string(payload) != `{"data":"cached"}` {
		t.Fatalf("expected cached payload, got cached=%v payload=%s", cached, payload)
	}
}

func TestMemory_SuspendForEventThenDeliveredLater(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.CreateQueue(ctx, "q")
	taskID, runID, _, _ := m.SpawnTask(ctx, SpawnInput{Queue: "q", TaskName: "t", MaxAttempts: 1})
	if _, err := m.ClaimTasks(ctx, "q", 1, time.Minute, "w1"); err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	_, cached, err := m.SuspendForEvent(ctx, "q", taskID, runID, "e")
	if err != nil {
		t.Fatalf("SuspendForEvent: %v", err)
	}
	if cached {
		t.Fatal("expected no cached event yet")
	}
	task, _ := m.GetTask(ctx, "q", taskID)
	if task.State != TaskSleeping {
		t.Fatalf("expected task sleeping, got %s", task.State)
	}

	claimed, err := m.ClaimTasks(ctx, "q", 1, time.Minute, "w1")
	if err != nil {
		t.Fatalf("ClaimTasks while no event cached: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("run should not be claimable before its event arrives, got %d", len(claimed))
	}

	if err := m.EmitEvent(ctx, "q", "e", []byte(`{"eventInput":0.42}`)); err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}
	claimed, err = m.ClaimTasks(ctx, "q", 1, time.Minute, "w1")
	if err != nil {
		t.Fatalf("ClaimTasks after event: %v", err)
	}
	if len(claimed) != 1 || claimed[0].RunID != runID {
		t.Fatalf("expected the sleeping run to become claimable, got %+v", claimed)
	}
}

func TestMemory_CheckpointWriteOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.CreateQueue(ctx, "q")
	if err := m.WriteCheckpoint(ctx, "q", "task-1", "step-a", []byte("42"), "run-1"); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}
	if err := m.WriteCheckpoint(ctx, "q", "task-1", "step-a", []byte("99"), "run-2"); err != ErrCheckpointExists {
		t.Fatalf("expected ErrCheckpointExists, got %v", err)
	}
	cp, err := m.ReadCheckpoint(ctx, "q", "task-1", "step-a")
	if err != nil {
		t.Fatalf("ReadCheckpoint: %v", err)
	}
	if string(cp.State) != "42" {
		t.Fatalf("checkpoint state mutated: %s", cp.State)
	}
}

func TestMemory_GetUnknownReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.CreateQueue(ctx, "q")
	if _, err := m.GetTask(ctx, "q", "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.GetRun(ctx, "q", "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_CreateDropQueueRestoresEmptyState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.CreateQueue(ctx, "q"); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	_, _, _, _ = m.SpawnTask(ctx, SpawnInput{Queue: "q", TaskName: "t", MaxAttempts: 1})
	if err := m.DropQueue(ctx, "q"); err != nil {
		t.Fatalf("DropQueue: %v", err)
	}
	if err := m.CreateQueue(ctx, "q"); err != nil {
		t.Fatalf("CreateQueue (again): %v", err)
	}
	queues, err := m.ListQueues(ctx)
	if err != nil {
		t.Fatalf("ListQueues: %v", err)
	}
	if len(queues) != 1 || queues[0] != "q" {
		t.Fatalf("unexpected queues: %v", queues)
	}
}

func TestMemory_ClaimTasksReclaimsExpiredRunningRun(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	m.SetClock(func() time.Time { return now })

	if err := m.CreateQueue(ctx, "q"); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	if _, _, _, err := m.SpawnTask(ctx, SpawnInput{Queue: "q", TaskName: "t", MaxAttempts: 1}); err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}

	first, err := m.ClaimTasks(ctx, "q", 1, time.Minute, "worker-1")
	if err != nil || len(first) != 1 {
		t.Fatalf("first ClaimTasks: claimed=%v err=%v", first, err)
	}

	// worker-1 crashes mid-execution; its lease expires.
	now = now.Add(2 * time.Minute)

	second, err := m.ClaimTasks(ctx, "q", 1, time.Minute, "worker-2")
	if err != nil {
		t.Fatalf("second ClaimTasks: %v", err)
	}
	if len(second) != 1 || second[0].RunID != first[0].RunID {
		t.Fatalf("expected expired run %q to be reclaimed, got %v", first[0].RunID, second)
	}

	run, err := m.GetRun(ctx, "q", first[0].RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.ClaimedBy != "worker-2" {
		t.Fatalf("expected run reclaimed by worker-2, got %q", run.ClaimedBy)
	}
}

func TestMemory_ReclaimExpiredRunsResetsWithoutClaiming(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	m.SetClock(func() time.Time { return now })

	if err := m.CreateQueue(ctx, "q"); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	if _, _, _, err := m.SpawnTask(ctx, SpawnInput{Queue: "q", TaskName: "t", MaxAttempts: 1}); err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	claimed, err := m.ClaimTasks(ctx, "q", 1, time.Minute, "worker-1")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimTasks: claimed=%v err=%v", claimed, err)
	}

	now = now.Add(2 * time.Minute)
	n, err := m.ReclaimExpiredRuns(ctx, "q")
	if err != nil {
		t.Fatalf("ReclaimExpiredRuns: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", n)
	}

	run, err := m.GetRun(ctx, "q", claimed[0].RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.State != RunPending || run.ClaimedBy != "" {
		t.Fatalf("expected run reset to pending and unclaimed, got state=%s claimedBy=%q", run.State, run.ClaimedBy)
	}
}
