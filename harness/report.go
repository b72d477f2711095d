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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the overall verdict of a run.
type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Aborted Outcome = "aborted"
)

// Report is the record of one scenario run. It is appended to while the run
// is in progress and becomes read-only once sealed. All methods are safe for
// concurrent use.
type Report struct {
	mu sync.Mutex

	id          string
	scenario    string
	description string
	baseURL     string
	dir         string
	totalSteps  int
	startedAt   time.Time
	finishedAt  time.Time
	outcome     Outcome
	abortReason string
	steps       []StepResult
	artifacts   []Artifact
	console     []ConsoleMessage
	diagnostics []string
	sealed      bool
}

func newReport(sc Scenario, baseURL, dir string) *Report {
	return &Report{
		id:          uuid.NewString(),
		scenario:    sc.Name,
		description: sc.Description,
		baseURL:     baseURL,
		dir:         dir,
		totalSteps:  len(sc.Steps),
		startedAt:   time.Now(),
	}
}

func (r *Report) appendStep(res StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.steps = append(r.steps, res)
}

func (r *Report) addArtifact(a Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.artifacts = append(r.artifacts, a)
}

func (r *Report) addConsole(m ConsoleMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.console = append(r.console, m)
}

func (r *Report) addDiagnostic(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.diagnostics = append(r.diagnostics, fmt.Sprintf(format, args...))
}

// seal fixes the outcome. Later mutations are ignored.
func (r *Report) seal(outcome Outcome, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.outcome = outcome
	r.abortReason = reason
	r.finishedAt = time.Now()
	r.sealed = true
}

func (r *Report) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

func (r *Report) Scenario() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scenario
}

func (r *Report) Description() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.description
}

func (r *Report) BaseURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baseURL
}

// Dir is the artifact directory of the run.
func (r *Report) Dir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir
}

// TotalSteps is the number of steps in the scenario, run or not.
func (r *Report) TotalSteps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalSteps
}

func (r *Report) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

func (r *Report) FinishedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt
}

// Outcome is empty until the report is sealed.
func (r *Report) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

func (r *Report) AbortReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortReason
}

func (r *Report) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

func (r *Report) Passed() bool {
	return r.Outcome() == Passed
}

func (r *Report) Steps() []StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.steps)
}

func (r *Report) Console() []ConsoleMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.console)
}

func (r *Report) Diagnostics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.diagnostics)
}

// Elapsed is the wall time of the run, or the time so far if it is still going.
func (r *Report) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finishedAt.IsZero() {
		return time.Since(r.startedAt)
	}
	return r.finishedAt.Sub(r.startedAt)
}

// FailingSteps returns the steps that did not pass, critical ones first.
func (r *Report) FailingSteps() []StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var crit, other []StepResult
	for _, s := range r.steps {
		if s.Passed() {
			continue
		}
		if s.Critical {
			crit = append(crit, s)
		} else {
			other = append(other, s)
		}
	}
	return append(crit, other...)
}

// Artifacts returns every artifact of the run in capture order.
func (r *Report) Artifacts() []Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.artifacts)
	for _, s := range r.steps {
		out = append(out, s.Artifacts...)
	}
	return out
}

// ArtifactPaths returns the files written during the run.
func (r *Report) ArtifactPaths() []string {
	var paths []string
	for _, a := range r.Artifacts() {
		if a.Path != "" {
			paths = append(paths, a.Path)
		}
	}
	return paths
}

// Latency is the distribution of step durations.
func (r *Report) Latency() *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &Histogram{}
	for _, s := range r.steps {
		h.Observe(s.Elapsed)
	}
	return h
}

// Summary is a short human-readable account of the run.
func (r *Report) Summary() string {
	var b strings.Builder
	steps := r.Steps()
	passed := 0
	for _, s := range steps {
		if s.Passed() {
			passed++
		}
	}
	outcome := r.Outcome()
	if outcome == "" {
		outcome = "running"
	}
	fmt.Fprintf(&b, "%s: %s (%d/%d steps passed, %d run) in %v\n",
		r.Scenario(), strings.ToUpper(string(outcome)), passed, r.TotalSteps(), len(steps), r.Elapsed().Round(time.Millisecond))
	if reason := r.AbortReason(); reason != "" {
		fmt.Fprintf(&b, "  aborted: %s\n", reason)
	}
	for _, s := range r.FailingSteps() {
		tag := "non-critical"
		if s.Critical {
			tag = "CRITICAL"
		}
		fmt.Fprintf(&b, "  [%s] %s: %s: %s\n", tag, s.Step, s.Outcome, s.Error)
		if s.Snapshot != "" {
			fmt.Fprintf(&b, "      last seen: %s\n", s.Snapshot)
		}
	}
	for _, s := range steps {
		if s.Forced {
			fmt.Fprintf(&b, "  forced click in %s\n", s.Step)
		}
	}
	if len(steps) > 0 {
		fmt.Fprintf(&b, "  step latency %s\n", r.Latency())
	}
	if n := len(r.ArtifactPaths()); n > 0 {
		fmt.Fprintf(&b, "  %d artifacts in %s\n", n, r.Dir())
	}
	return b.String()
}

type reportJSON struct {
	ID          string           `json:"id"`
	Scenario    string           `json:"scenario"`
	Description string           `json:"description,omitempty"`
	BaseURL     string           `json:"baseUrl,omitempty"`
	Dir         string           `json:"dir,omitempty"`
	TotalSteps  int              `json:"totalSteps"`
	StartedAt   time.Time        `json:"startedAt"`
	FinishedAt  time.Time        `json:"finishedAt"`
	Outcome     Outcome          `json:"outcome"`
	AbortReason string           `json:"abortReason,omitempty"`
	Steps       []StepResult     `json:"steps"`
	Artifacts   []Artifact       `json:"artifacts,omitempty"`
	Console     []ConsoleMessage `json:"console,omitempty"`
	Diagnostics []string         `json:"diagnostics,omitempty"`
}

func (r *Report) MarshalJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := r.steps
	if steps == nil {
		steps = []StepResult{}
	}
	return json.Marshal(reportJSON{
		ID:          r.id,
		Scenario:    r.scenario,
		Description: r.description,
		BaseURL:     r.baseURL,
		Dir:         r.dir,
		TotalSteps:  r.totalSteps,
		StartedAt:   r.startedAt,
		FinishedAt:  r.finishedAt,
		Outcome:     r.outcome,
		AbortReason: r.abortReason,
		Steps:       steps,
		Artifacts:   r.artifacts,
		Console:     r.console,
		Diagnostics: r.diagnostics,
	})
}

// UnmarshalJSON decodes a stored report. Decoded reports are sealed.
func (r *Report) UnmarshalJSON(data []byte) error {
	var v reportJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = v.ID
	r.scenario = v.Scenario
	r.description = v.Description
	r.baseURL = v.BaseURL
	r.dir = v.Dir
	r.totalSteps = v.TotalSteps
	r.startedAt = v.StartedAt
	r.finishedAt = v.FinishedAt
	r.outcome = v.Outcome
	r.abortReason = v.AbortReason
	r.steps = v.Steps
	r.artifacts = v.Artifacts
	r.console = v.Console
	r.diagnostics = v.Diagnostics
	r.sealed = true
	return nil
}

// WriteFile saves the report as indented JSON.
func (r *Report) WriteFile(path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ReadReportFile loads a report written by WriteFile.
func ReadReportFile(path string) (*Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &r, nil
}
