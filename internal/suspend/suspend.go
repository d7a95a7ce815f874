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

// Package suspend carries the in-process control-flow signal a handler
// raises from awaitEvent/sleep once the datastore has already persisted the
// run as sleeping. It is never a failure: the Execution Engine catches it
// and returns normally.
package suspend

import "fmt"

// Kind distinguishes the two suspension causes.
type Kind string

const (
	KindEvent Kind = "event"
	KindSleep Kind = "sleep"
)

// Signal is raised by Context.AwaitEvent/Context.Sleep after the
// corresponding datastore call has already moved the run to sleeping. It
// satisfies error only so it can travel up the handler's return path;
// callers must recover it with As, never by comparing Error() strings.
type Signal struct {
	Kind    Kind
	Event   string
	Seconds float64
}

func (s *Signal) Error() string {
	switch s.Kind {
	case KindEvent:
		return fmt.Sprintf("suspend: awaiting event %q", s.Event)
	case KindSleep:
		return fmt.Sprintf("suspend: sleeping %.fs", s.Seconds)
	default:
		return "suspend: suspended"
	}
}

// ForEvent builds the signal raised by awaitEvent after a Waiter row has
// been written and the run parked at state=sleeping.
func ForEvent(event string) *Signal {
	return &Signal{Kind: KindEvent, Event: event}
}

// ForSleep builds the signal raised by sleep after available_at has been
// advanced and the run parked at state=sleeping.
func ForSleep(seconds float64) *Signal {
	return &Signal{Kind: KindSleep, Seconds: seconds}
}
