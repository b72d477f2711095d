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
	"context"
	"time"
)

// DefaultPollInterval is the cadence at which conditions are re-checked.
const DefaultPollInterval = 200 * time.Millisecond

// WaitOutcome is the result of Await.
type WaitOutcome int

const (
	WaitPassed WaitOutcome = iota
	WaitTimedOut
	WaitCancelled
)

func (o WaitOutcome) String() string {
	switch o {
	case WaitPassed:
		return "passed"
	case WaitTimedOut:
		return "timed out"
	case WaitCancelled:
		return "cancelled"
	}
	return "unknown"
}

// WaitResult describes how a wait ended.
type WaitResult struct {
	Outcome WaitOutcome
	Elapsed time.Duration
	Polls   int
	// Snapshot is the last thing the condition observed.
	Snapshot string
	// Err is the last error returned by the condition, if any. A failing
	// check counts as "not yet" rather than ending the wait.
	Err error
}

// Await polls cond against s until it holds or timeout elapses.
//
// The condition is checked once immediately, so a condition that already
// holds returns without delay. Between checks the caller is suspended for
// interval; the last sleep is shortened so that a final check happens at the
// deadline. If ctx is done, Await returns WaitCancelled at once.
func Await(ctx context.Context, s Session, cond Condition, timeout, interval time.Duration) WaitResult {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	start := time.Now()
	deadline := start.Add(timeout)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var res WaitResult
	for {
		if err := ctx.Err(); err != nil {
			res.Outcome = WaitCancelled
			res.Err = err
			break
		}
		ok, snap, err := check(ctx, s, cond, deadline.Add(interval))
		res.Polls++
		res.Err = err
		if err != nil {
			res.Snapshot = err.Error()
		} else {
			res.Snapshot = snap
		}
		if ctx.Err() != nil {
			res.Outcome = WaitCancelled
			res.Err = ctx.Err()
			break
		}
		if ok && err == nil {
			res.Outcome = WaitPassed
			break
		}
		now := time.Now()
		if !now.Before(deadline) {
			res.Outcome = WaitTimedOut
			break
		}
		wait := interval
		if rem := deadline.Sub(now); rem < wait {
			wait = rem
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			res.Outcome = WaitCancelled
			res.Err = ctx.Err()
		case <-timer.C:
			continue
		}
		break
	}
	res.Elapsed = time.Since(start)
	return res
}

// check bounds a single evaluation so a hung session cannot stretch the wait
// past its deadline plus one interval.
func check(ctx context.Context, s Session, cond Condition, limit time.Time) (bool, string, error) {
	checkCtx, cancel := context.WithDeadline(ctx, limit)
	defer cancel()
	return cond.Check(checkCtx, s)
}
