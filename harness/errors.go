// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package harness

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Session when a selector matches nothing.
	ErrNotFound = errors.New("element not found")

	// ErrNotVisible is returned by a Session when a click target is hidden.
	ErrNotVisible = errors.New("element not visible")

	// ErrTimedOut marks a wait condition that never became true within its budget.
	ErrTimedOut = errors.New("timed out")
)

// NavigationError means the application under test could not be reached.
// It is fatal to a run.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// ActionError means an interaction target was missing or not interactable.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// CaptureError is a failed screenshot or text extraction. Captures are
// diagnostics, so these are logged and never change a step's outcome.
type CaptureError struct {
	Capture string
	Err     error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Capture, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}
