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

// Package errors provides small error-wrapping helpers shared across
// taskflow's internal packages; it does not depend on anything under
// internal/ so every layer, including the datastore adapters, can use it.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions common to every adapter implementation.
var (
	ErrNotFound   = errors.New("taskflow: not found")
	ErrInvalidArg = errors.New("taskflow: invalid argument")
)

// Wrap annotates err with msg, preserving it for errors.Is/errors.As.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
