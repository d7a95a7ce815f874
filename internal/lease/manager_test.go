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

package lease

import (
	"context"
	"testing"
	"time"

	"taskflow/internal/datastore"
)

func claimedRun(t *testing.T, m *datastore.Memory, queue string) string {
	t.Helper()
	if err := m.CreateQueue(context.Background(), queue); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	_, _, _, err := m.SpawnTask(context.Background(), datastore.SpawnInput{Queue: queue, TaskName: "t", MaxAttempts: 1})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	claimed, err := m.ClaimTasks(context.Background(), queue, 1, 50*time.Millisecond, "worker-1")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimTasks: claimed=%v err=%v", claimed, err)
	}
	return claimed[0].RunID
}

func TestRunner_ExtendsUntilStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := datastore.NewMemory()
	runID := claimedRun(t, m, "q")

	r := New(m, Config{ClaimTimeout: 50 * time.Millisecond, Interval: 10 * time.Millisecond}, nil)
	r.Start(ctx, "q", runID, "worker-1")
	defer r.Stop()

	time.Sleep(80 * time.Millisecond)

	select {
	case <-r.Lost():
		t.Fatal("lease should not be reported lost while extension succeeds")
	default:
	}

	run, err := m.GetRun(ctx, "q", runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.ClaimExpires == nil || run.ClaimExpires.Before(time.Now()) {
		t.Fatalf("expected claim to still be extended, got %+v", run.ClaimExpires)
	}
}

func TestRunner_ReportsLostWhenNotOwner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := datastore.NewMemory()
	runID := claimedRun(t, m, "q")

	r := New(m, Config{ClaimTimeout: 50 * time.Millisecond, Interval: 10 * time.Millisecond}, nil)
	// A different worker id will never hold this claim, so every
	// extension attempt is refused with ErrNotOwner.
	r.Start(ctx, "q", runID, "someone-else")
	defer r.Stop()

	select {
	case <-r.Lost():
	case <-time.After(time.Second):
		t.Fatal("expected lease loss to be reported")
	}
}
