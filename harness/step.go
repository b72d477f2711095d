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
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"time"
)

// Criticality decides whether a failing step halts its scenario.
type Criticality int

const (
	// CriticalityDefault is resolved by Scenario.Normalized.
	CriticalityDefault Criticality = iota
	Critical
	NonCritical
)

func (c Criticality) String() string {
	switch c {
	case Critical:
		return "critical"
	case NonCritical:
		return "non-critical"
	}
	return "default"
}

// Step is one action plus the condition that proves the action took effect.
type Step struct {
	Name    string
	Action  Action
	WaitFor Condition
	// Timeout bounds the action and the wait together.
	Timeout      time.Duration
	PollInterval time.Duration
	Criticality  Criticality
	// Retries re-applies a failed action, never a navigation, within Timeout.
	Retries int
	// Settle is a fixed delay after the condition holds and before the
	// success captures. Only for transitions with no observable end state,
	// such as a CSS fade.
	Settle    time.Duration
	OnSuccess []Capture
	OnFailure []Capture
}

// IsCritical reports whether a failure of this step halts the scenario.
// An unresolved default counts as critical.
func (s Step) IsCritical() bool {
	return s.Criticality != NonCritical
}

// Validate checks the static structure of the step.
func (s Step) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("step name is required"))
	}
	if s.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("step %q: timeout must be positive, got %v", s.Name, s.Timeout))
	}
	if s.Retries < 0 {
		errs = append(errs, fmt.Errorf("step %q: retries must not be negative", s.Name))
	}
	if s.Settle < 0 || s.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("step %q: durations must not be negative", s.Name))
	}
	success := screenshotNames(s.OnSuccess)
	for _, n := range append(slices.Clone(success), screenshotNames(s.OnFailure)...) {
		if n == "" {
			errs = append(errs, fmt.Errorf("step %q: screenshot name is required", s.Name))
		} else if !filepath.IsLocal(n) {
			errs = append(errs, fmt.Errorf("step %q: screenshot %q must stay inside the output directory", s.Name, n))
		}
	}
	for _, n := range screenshotNames(s.OnFailure) {
		if slices.Contains(success, n) {
			errs = append(errs, fmt.Errorf("step %q: failure screenshot %q shadows a success screenshot", s.Name, n))
		}
	}
	return errors.Join(errs...)
}

// StepOutcome is the result of a single step.
type StepOutcome string

const (
	StepPassed       StepOutcome = "passed"
	StepTimedOut     StepOutcome = "timed_out"
	StepActionFailed StepOutcome = "action_failed"
)

// StepResult records how one step went.
type StepResult struct {
	Index    int           `json:"index"`
	Step     string        `json:"step"`
	Action   string        `json:"action"`
	WaitFor  string        `json:"wait_for"`
	Outcome  StepOutcome   `json:"outcome"`
	Critical bool          `json:"critical"`
	Elapsed  time.Duration `json:"elapsed"`
	Attempts int           `json:"attempts"`
	Forced   bool          `json:"forced,omitempty"`
	// Snapshot is the last state the wait condition observed.
	Snapshot    string     `json:"snapshot,omitempty"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	Diagnostics []string   `json:"diagnostics,omitempty"`

	err error
}

func (r StepResult) Passed() bool {
	return r.Outcome == StepPassed
}

// Err returns the typed error behind a failed step. It is nil for decoded
// results.
func (r StepResult) Err() error {
	return r.err
}

// captureTimeout bounds each capture so a wedged browser cannot hold up the run.
const captureTimeout = 15 * time.Second

// StepRunner executes steps against a session.
type StepRunner struct {
	// Dir receives screenshots.
	Dir string
	// BaseURL resolves relative navigation targets.
	BaseURL string
	// PollInterval is used for steps that do not set their own.
	PollInterval time.Duration
	Logf         func(format string, args ...any)
	// Debug dumps the page HTML to the log on failures.
	Debug bool
}

// ExecuteStep runs a single step with default settings, saving screenshots to dir.
func ExecuteStep(ctx context.Context, s Session, step Step, dir string) (StepResult, error) {
	r := &StepRunner{Dir: dir}
	return r.Execute(ctx, s, step)
}

// Execute applies the step's action, waits for its condition and runs the
// matching captures. A failing step is reported in the result; the error is
// only non-nil when ctx ended before the step could finish, in which case the
// result must be discarded.
func (r *StepRunner) Execute(ctx context.Context, s Session, step Step) (StepResult, error) {
	start := time.Now()
	deadline := start.Add(step.Timeout)

	action := step.Action
	if action == nil {
		action = NoOp{}
	}
	switch nav := action.(type) {
	case Navigate:
		action = nav.resolve(r.BaseURL)
	case *Navigate:
		if nav != nil {
			action = nav.resolve(r.BaseURL)
		}
	}
	cond := step.WaitFor
	if cond == nil {
		cond = Immediate{}
	}
	interval := step.PollInterval
	if interval <= 0 {
		interval = r.PollInterval
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	res := StepResult{
		Step:     step.Name,
		Action:   action.String(),
		WaitFor:  cond.String(),
		Critical: step.IsCritical(),
		Forced:   isForced(action),
	}
	if res.Forced {
		r.logf("Step %q: forcing %s", step.Name, action)
	}

	if err := r.apply(ctx, s, action, step, deadline, interval, &res); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Outcome = StepActionFailed
		res.err = err
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		r.logf("Step %q: action failed: %v", step.Name, err)
		r.failed(ctx, s, step, &res)
		return res, nil
	}

	wr := Await(ctx, s, cond, time.Until(deadline), interval)
	res.Snapshot = wr.Snapshot
	res.Elapsed = time.Since(start)
	switch wr.Outcome {
	case WaitCancelled:
		return res, ctx.Err()
	case WaitTimedOut:
		res.Outcome = StepTimedOut
		res.err = fmt.Errorf("%w: %s after %v", ErrTimedOut, cond, step.Timeout)
		res.Error = res.err.Error()
		r.logf("Step %q: timed out waiting for %s (%s)", step.Name, cond, wr.Snapshot)
		r.failed(ctx, s, step, &res)
		return res, nil
	}

	if step.Settle > 0 {
		t := time.NewTimer(step.Settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return res, ctx.Err()
		case <-t.C:
		}
	}
	res.Outcome = StepPassed
	r.capture(ctx, s, step.OnSuccess, &res)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	r.logf("Step %q passed in %v", step.Name, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (r *StepRunner) apply(ctx context.Context, s Session, action Action, step Step, deadline time.Time, interval time.Duration, res *StepResult) error {
	actCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	for {
		res.Attempts++
		err := action.Apply(actCtx, s)
		if err == nil || ctx.Err() != nil {
			return err
		}
		var navErr *NavigationError
		if errors.As(err, &navErr) || res.Attempts > step.Retries {
			return err
		}
		r.logf("Step %q: attempt %d failed, retrying: %v", step.Name, res.Attempts, err)
		t := time.NewTimer(interval)
		select {
		case <-actCtx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

// failed runs the failure captures, adding an error screenshot when the
// step did not declare one.
func (r *StepRunner) failed(ctx context.Context, s Session, step Step, res *StepResult) {
	captures := step.OnFailure
	if !hasScreenshot(captures) {
		captures = append(slices.Clone(captures), Screenshot{Name: errorScreenshotName(step.Name)})
	}
	if r.Debug {
		dctx, cancel := context.WithTimeout(ctx, captureTimeout)
		if html, err := s.OuterHTML(dctx, "html"); err != nil {
			r.logf("DEBUG: Failed to capture HTML: %v", err)
		} else {
			r.logf("DEBUG: HTML Dump for %s:\n%s", step.Name, html)
		}
		cancel()
	}
	r.capture(ctx, s, captures, res)
}

func (r *StepRunner) capture(ctx context.Context, s Session, captures []Capture, res *StepResult) {
	for _, c := range captures {
		if ctx.Err() != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, captureTimeout)
		a, err := c.Capture(cctx, s, r.Dir)
		cancel()
		if err != nil {
			r.logf("Step %q: %v", res.Step, err)
			res.Diagnostics = append(res.Diagnostics, err.Error())
			continue
		}
		if a.Path != "" {
			r.logf("Saved %s to %s", a.Kind, a.Path)
		}
		res.Artifacts = append(res.Artifacts, a)
	}
}

func (r *StepRunner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
