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

package registry

import (
	"context"
	"encoding/json"
	"testing"

	"taskflow/internal/step"
)

func noop(ctx context.Context, params json.RawMessage, sc *step.Context) (any, error) {
	return nil, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()
	r.Register("doubler", noop, 3, "math")

	e, ok := r.Lookup("doubler")
	if !ok {
		t.Fatal("expected doubler to be registered")
	}
	if e.DefaultMaxAttempts != 3 || e.BoundQueue != "math" {
		t.Fatalf("unexpected entry: %+v", e)
	}

	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected missing task to be unregistered")
	}
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	r := New()
	r.Register("t", noop, 1, "")
	r.Register("t", noop, 5, "other")

	e, ok := r.Lookup("t")
	if !ok || e.DefaultMaxAttempts != 5 || e.BoundQueue != "other" {
		t.Fatalf("expected overwrite to take effect, got %+v", e)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := New()
	r.Register("a", noop, 1, "")
	r.Register("b", noop, 1, "")

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d: %v", len(names), names)
	}
}
