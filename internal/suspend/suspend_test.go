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

package suspend

import (
	"errors"
	"testing"
)

func TestSignal_RecoverableWithErrorsAs(t *testing.T) {
	var err error = ForEvent("payment.captured")

	var sig *Signal
	if !errors.As(err, &sig) {
		t.Fatal("expected errors.As to recover the suspend signal")
	}
	if sig.Kind != KindEvent || sig.Event != "payment.captured" {
		t.Fatalf("unexpected signal: %+v", sig)
	}
}

func TestSignal_SleepCarriesSeconds(t *testing.T) {
	sig := ForSleep(30)
	if sig.Kind != KindSleep || sig.Seconds != 30 {
		t.Fatalf("unexpected sleep signal: %+v", sig)
	}
}

func TestSignal_NotConfusedWithOrdinaryError(t *testing.T) {
	var sig *Signal
	if errors.As(errors.New("boom"), &sig) {
		t.Fatal("ordinary errors must not be recovered as a suspend signal")
	}
}
