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

package wakeup

import (
	"context"
	"testing"
	"time"
)

func TestMemory_NotifyThenReceive(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()

	if err := q.NotifyReady(ctx, "default"); err != nil {
		t.Fatalf("NotifyReady: %v", err)
	}
	queue, ok := q.Receive(ctx, time.Second)
	if !ok || queue != "default" {
		t.Fatalf("expected hint for default, got queue=%q ok=%v", queue, ok)
	}
}

func TestMemory_ReceiveTimesOutWithoutHint(t *testing.T) {
	q := NewMemory(4)
	_, ok := q.Receive(context.Background(), 20*time.Millisecond)
	if ok {
		t.Fatal("expected no hint to be available")
	}
}

func TestMemory_NotifyReadyDoesNotBlockWhenFull(t *testing.T) {
	q := NewMemory(1)
	ctx := context.Background()
	if err := q.NotifyReady(ctx, "a"); err != nil {
		t.Fatalf("NotifyReady: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = q.NotifyReady(ctx, "b")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyReady blocked on a full buffer")
	}
}

func TestMemory_IgnoresEmptyQueueName(t *testing.T) {
	q := NewMemory(1)
	if err := q.NotifyReady(context.Background(), ""); err != nil {
		t.Fatalf("NotifyReady: %v", err)
	}
	if _, ok := q.Receive(context.Background(), 10*time.Millisecond); ok {
		t.Fatal("expected no hint for an empty queue name")
	}
}
