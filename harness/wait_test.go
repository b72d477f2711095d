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

package harness_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/harness/fakesession"
)

func TestAwaitImmediatePass(t *testing.T) {
	s := fakesession.New(appPage)
	res := harness.Await(context.Background(), s, always(true), time.Second, 100*time.Millisecond)
	if res.Outcome != harness.WaitPassed {
		t.Fatalf("Outcome = %v, want passed", res.Outcome)
	}
	if res.Polls != 1 {
		t.Errorf("Polls = %d, want 1", res.Polls)
	}
	if res.Elapsed > 50*time.Millisecond {
		t.Errorf("Elapsed = %v, want ~0", res.Elapsed)
	}
}

func TestAwaitTimeoutBounds(t *testing.T) {
	s := fakesession.New(appPage)
	timeout := 300 * time.Millisecond
	interval := 100 * time.Millisecond
	res := harness.Await(context.Background(), s, always(false), timeout, interval)
	if res.Outcome != harness.WaitTimedOut {
		t.Fatalf("Outcome = %v, want timed out", res.Outcome)
	}
	if res.Elapsed < timeout {
		t.Errorf("Elapsed = %v, want >= %v", res.Elapsed, timeout)
	}
	// Allow some scheduler slack on top of the one-interval bound.
	if res.Elapsed > timeout+interval+100*time.Millisecond {
		t.Errorf("Elapsed = %v, want <= %v", res.Elapsed, timeout+interval)
	}
	if res.Polls < 4 {
		t.Errorf("Polls = %d, want at least 4 (initial, 3 intervals)", res.Polls)
	}
}

func TestAwaitSnapshotOnTimeout(t *testing.T) {
	s := fakesession.New(appPage)
	res := harness.Await(context.Background(), s, harness.SelectorHasClass{Selector: "#ui", Class: "visible"}, 50*time.Millisecond, 10*time.Millisecond)
	if res.Outcome != harness.WaitTimedOut {
		t.Fatalf("Outcome = %v, want timed out", res.Outcome)
	}
	if !strings.Contains(res.Snapshot, `#ui has .visible=false`) || !strings.Contains(res.Snapshot, `class="hud"`) {
		t.Errorf("Snapshot = %q", res.Snapshot)
	}
}

func TestAwaitCancelled(t *testing.T) {
	s := fakesession.New(appPage)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	res := harness.Await(ctx, s, always(false), 10*time.Second, 20*time.Millisecond)
	if res.Outcome != harness.WaitCancelled {
		t.Fatalf("Outcome = %v, want cancelled", res.Outcome)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("Await took %v after cancellation", d)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
}

func TestAwaitErrorIsNotYet(t *testing.T) {
	s := fakesession.New(appPage)
	calls := 0
	cond := harness.Custom{Name: "flaky", Fn: func(context.Context, harness.Session) (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("transient")
		}
		return true, nil
	}}
	res := harness.Await(context.Background(), s, cond, time.Second, 10*time.Millisecond)
	if res.Outcome != harness.WaitPassed {
		t.Fatalf("Outcome = %v, want passed", res.Outcome)
	}
	if res.Polls != 3 {
		t.Errorf("Polls = %d, want 3", res.Polls)
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil after success", res.Err)
	}
}

func TestAwaitObservesDelayedMutation(t *testing.T) {
	s := newApp()
	if err := s.Navigate(context.Background(), "http://app.test/"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	res := harness.Await(context.Background(), s, harness.SelectorVisible{Selector: "#start-btn"}, time.Second, 5*time.Millisecond)
	if res.Outcome != harness.WaitPassed {
		t.Fatalf("Outcome = %v (%s), want passed", res.Outcome, res.Snapshot)
	}
	if res.Polls < 2 {
		t.Errorf("Polls = %d, want the button to appear after the first check", res.Polls)
	}
}

func TestConditions(t *testing.T) {
	s := fakesession.New(appPage)
	ctx := context.Background()
	tests := []struct {
		name string
		cond harness.Condition
		want bool
	}{
		{"visible", harness.SelectorVisible{Selector: "#settings-btn"}, true},
		{"hidden attr", harness.SelectorVisible{Selector: "#controls-hint"}, false},
		{"display none", harness.SelectorVisible{Selector: "#start-btn"}, false},
		{"hidden class", harness.SelectorVisible{Selector: "#late"}, false},
		{"missing", harness.SelectorVisible{Selector: "#nope"}, false},
		{"has class", harness.SelectorHasClass{Selector: "#ui", Class: "hud"}, true},
		{"lacks class", harness.SelectorHasClass{Selector: "#ui", Class: "visible"}, false},
		{"count", harness.ElementCountAtLeast{Selector: "button", N: 2}, true},
		{"count short", harness.ElementCountAtLeast{Selector: "button", N: 3}, false},
		{"text", harness.TextMatches{Selector: "#zone-label", Pattern: regexp.MustCompile(`(?i)tundra`)}, true},
		{"text mismatch", harness.TextMatches{Selector: "#zone-label", Pattern: regexp.MustCompile(`Mountain`)}, false},
		{"text missing", harness.TextMatches{Selector: "#nope", Pattern: regexp.MustCompile(`.`)}, false},
		{"immediate", harness.Immediate{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, snap, err := tc.cond.Check(ctx, s)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if got != tc.want {
				t.Errorf("Check = %v, want %v (snapshot %q)", got, tc.want, snap)
			}
			if snap == "" {
				t.Error("empty snapshot")
			}
		})
	}
	if calls := s.Calls(); len(calls) != 0 {
		t.Errorf("conditions interacted with the session: %v", calls)
	}
}
