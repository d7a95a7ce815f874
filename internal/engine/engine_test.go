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

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"taskflow/internal/datastore"
	"taskflow/internal/registry"
	"taskflow/internal/step"
)

type noopSpawner struct{}

func (noopSpawner) SpawnChild(ctx context.Context, in step.SpawnChildInput) (string, string, error) {
	return "", "", nil
}

func claim(t *testing.T, m *datastore.Memory, queue, taskName string, params []byte, maxAttempts int) datastore.ClaimedRun {
	t.Helper()
	if err := m.CreateQueue(context.Background(), queue); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	_, _, _, err := m.SpawnTask(context.Background(), datastore.SpawnInput{Queue: queue, TaskName: taskName, Params: params, MaxAttempts: maxAttempts})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	claimed, err := m.ClaimTasks(context.Background(), queue, 1, time.Minute, "worker-1")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimTasks: claimed=%v err=%v", claimed, err)
	}
	return claimed[0]
}

func TestEngine_CompletesOnSuccess(t *testing.T) {
	m := datastore.NewMemory()
	reg := registry.New()
	reg.Register("doubler", func(ctx context.Context, params json.RawMessage, sc *step.Context) (any, error) {
		var in struct{ Value int }
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, err
		}
		return map[string]int{"doubled": in.Value * 2}, nil
	}, 1, "")

	e := New(m, reg, noopSpawner{}, nil)
	claimed := claim(t, m, "q", "doubler", []byte(`{"Value":21}`), 1)

	e.ExecuteTask(context.Background(), claimed, "q", time.Minute, "worker-1")

	task, err := m.GetTask(context.Background(), "q", claimed.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != datastore.TaskCompleted {
		t.Fatalf("expected completed, got %s", task.State)
	}
	if string(task.CompletedPayload) != `{"doubled":42}` {
		t.Fatalf("unexpected payload: %s", task.CompletedPayload)
	}
}

func TestEngine_FailsAndRetriesOnHandlerError(t *testing.T) {
	m := datastore.NewMemory()
	reg := registry.New()
	reg.Register("flaky", func(ctx context.Context, params json.RawMessage, sc *step.Context) (any, error) {
		return nil, errors.New("boom")
	}, 1, "")

	e := New(m, reg, noopSpawner{}, nil)
	claimed := claim(t, m, "q", "flaky", nil, 2)

	e.ExecuteTask(context.Background(), claimed, "q", time.Minute, "worker-1")

	task, err := m.GetTask(context.Background(), "q", claimed.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != datastore.TaskPending || task.Attempts != 2 {
		t.Fatalf("expected retry scheduled, got state=%s attempts=%d", task.State, task.Attempts)
	}
}

func TestEngine_UnregisteredTaskFailsWithoutRetry(t *testing.T) {
	m := datastore.NewMemory()
	reg := registry.New()
	e := New(m, reg, noopSpawner{}, nil)
	claimed := claim(t, m, "q", "ghost", nil, 5)

	e.ExecuteTask(context.Background(), claimed, "q", time.Minute, "worker-1")

	task, err := m.GetTask(context.Background(), "q", claimed.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != datastore.TaskFailed {
		t.Fatalf("expected unregistered task to fail immediately, got %s", task.State)
	}
}

func TestEngine_SuspendLeavesRunSleepingWithoutCompleteOrFail(t *testing.T) {
	m := datastore.NewMemory()
	reg := registry.New()
	reg.Register("waiter", func(ctx context.Context, params json.RawMessage, sc *step.Context) (any, error) {
		payload, err := sc.AwaitEvent(ctx, "e")
		if err != nil {
			return nil, err
		}
		return map[string]json.RawMessage{"received": payload}, nil
	}, 1, "")

	e := New(m, reg, noopSpawner{}, nil)
	claimed := claim(t, m, "q", "waiter", nil, 1)

	e.ExecuteTask(context.Background(), claimed, "q", time.Minute, "worker-1")

	task, err := m.GetTask(context.Background(), "q", claimed.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != datastore.TaskSleeping {
		t.Fatalf("expected sleeping, got %s", task.State)
	}
}
