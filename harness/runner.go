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
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL   = "http://localhost:5173"
	DefaultOutputDir = "verification"
	ReportFileName   = "report.json"
)

// consoleDrainTimeout bounds how long a finished run waits for the console
// feed to close.
const consoleDrainTimeout = 2 * time.Second

var tracer = otel.Tracer("github.com/ttbt-io/sceneverify/harness")

// Runner executes scenarios. A Runner may be used by several goroutines at
// once; every run opens its own session and report.
type Runner struct {
	Opener  Opener
	BaseURL string
	// OutputDir is the parent of the per-scenario artifact directories.
	OutputDir string
	// ScenarioTimeout bounds a whole run. Zero means no limit beyond ctx.
	ScenarioTimeout time.Duration
	PollInterval    time.Duration
	Observer        Observer
	Logf            func(format string, args ...any)
	Debug           bool
}

// Run executes sc against a fresh session and returns its sealed report.
// Run never returns a nil report and never panics because of the session.
func (r *Runner) Run(ctx context.Context, sc Scenario) *Report {
	sc = sc.Normalized()
	baseURL := r.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	outDir := r.OutputDir
	if outDir == "" {
		outDir = DefaultOutputDir
	}
	rep := newReport(sc, baseURL, filepath.Join(outDir, sc.Slug()))

	ctx, span := tracer.Start(ctx, "scenario "+sc.Name, trace.WithAttributes(
		attribute.String("scenario", sc.Name),
		attribute.String("run.id", rep.ID()),
		attribute.Int("steps", len(sc.Steps)),
	))
	defer span.End()

	r.notify(Event{Type: EventRunStarted, RunID: rep.ID(), Scenario: sc.Name, Time: rep.StartedAt()})
	r.logf("Running scenario %q (%d steps) against %s", sc.Name, len(sc.Steps), baseURL)

	outcome, reason := r.run(ctx, sc, rep)
	rep.seal(outcome, reason)

	if err := rep.WriteFile(filepath.Join(rep.Dir(), ReportFileName)); err != nil {
		r.logf("Failed to save report: %v", err)
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if outcome != Passed {
		span.SetStatus(codes.Error, string(outcome))
	}
	r.notify(Event{Type: EventRunFinished, RunID: rep.ID(), Scenario: sc.Name, Time: rep.FinishedAt(), Outcome: outcome, Elapsed: rep.Elapsed()})
	r.logf("Scenario %q %s in %v", sc.Name, outcome, rep.Elapsed().Round(time.Millisecond))
	return rep
}

func (r *Runner) run(ctx context.Context, sc Scenario, rep *Report) (outcome Outcome, reason string) {
	defer func() {
		if p := recover(); p != nil {
			r.logf("Scenario %q panicked: %v\n%s", sc.Name, p, debug.Stack())
			outcome, reason = Aborted, fmt.Sprintf("panic: %v", p)
		}
	}()

	if err := sc.Validate(); err != nil {
		return Aborted, fmt.Sprintf("invalid scenario: %v", err)
	}

	if r.ScenarioTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ScenarioTimeout)
		defer cancel()
	}

	sess, err := r.Opener.Open(ctx)
	if err != nil {
		return Aborted, fmt.Sprintf("open session: %v", err)
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		ch := sess.Console()
		if ch == nil {
			return
		}
		for m := range ch {
			rep.addConsole(m)
		}
	}()
	defer func() {
		if err := sess.Close(); err != nil {
			r.logf("Failed to close session: %v", err)
			rep.addDiagnostic("close session: %v", err)
		}
		select {
		case <-drained:
		case <-time.After(consoleDrainTimeout):
			rep.addDiagnostic("console feed did not close")
		}
	}()

	steps := &StepRunner{
		Dir:          rep.Dir(),
		BaseURL:      rep.BaseURL(),
		PollInterval: r.PollInterval,
		Logf:         r.logf,
		Debug:        r.Debug,
	}

	if len(sc.Steps) > 0 && !isNavigate(sc.Steps[0].Action) {
		if err := r.openBaseURL(ctx, sess, steps, rep); err != nil {
			if ctx.Err() != nil {
				return Aborted, interruption(ctx)
			}
			return Aborted, err.Error()
		}
	}

	outcome = Passed
	for i, st := range sc.Steps {
		if ctx.Err() != nil {
			return Aborted, interruption(ctx)
		}
		r.notify(Event{Type: EventStepStarted, RunID: rep.ID(), Scenario: sc.Name, Time: time.Now(), Index: i, Step: st.Name})
		sctx, span := tracer.Start(ctx, "step "+st.Name, trace.WithAttributes(
			attribute.Int("index", i),
			attribute.Bool("critical", st.IsCritical()),
		))
		res, err := steps.Execute(sctx, sess, st)
		if err != nil {
			span.SetStatus(codes.Error, "interrupted")
			span.End()
			return Aborted, interruption(ctx)
		}
		span.SetAttributes(
			attribute.String("outcome", string(res.Outcome)),
			attribute.Int("attempts", res.Attempts),
			attribute.Bool("forced", res.Forced),
		)
		if !res.Passed() {
			span.SetStatus(codes.Error, res.Error)
		}
		span.End()

		res.Index = i
		rep.appendStep(res)
		r.notify(Event{Type: EventStepFinished, RunID: rep.ID(), Scenario: sc.Name, Time: time.Now(), Index: i, Step: st.Name, Result: &res})

		if res.Passed() {
			continue
		}
		var navErr *NavigationError
		if errors.As(res.Err(), &navErr) {
			return Aborted, navErr.Error()
		}
		if res.Critical {
			r.logf("Critical step %q failed, halting scenario %q", st.Name, sc.Name)
			return Failed, ""
		}
		r.logf("Non-critical step %q failed, continuing", st.Name)
	}
	return outcome, ""
}

// openBaseURL loads the application before a scenario that does not start
// with its own navigation. It produces no step result.
func (r *Runner) openBaseURL(ctx context.Context, sess Session, steps *StepRunner, rep *Report) error {
	url := rep.BaseURL()
	nctx, cancel := context.WithTimeout(ctx, defaultNavigateTimeout)
	defer cancel()
	err := Navigate{URL: url}.Apply(nctx, sess)
	if err == nil {
		return nil
	}
	r.logf("Failed to open %s: %v", url, err)
	shot := Screenshot{Name: "error_navigate.png"}
	cctx, ccancel := context.WithTimeout(ctx, captureTimeout)
	defer ccancel()
	if a, cerr := shot.Capture(cctx, sess, steps.Dir); cerr != nil {
		rep.addDiagnostic("%v", cerr)
	} else {
		rep.addArtifact(a)
	}
	return err
}

const defaultNavigateTimeout = 30 * time.Second

func interruption(ctx context.Context) string {
	if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		return "scenario deadline exceeded"
	}
	return fmt.Sprintf("run interrupted: %v", context.Cause(ctx))
}

func (r *Runner) notify(e Event) {
	if r.Observer != nil {
		r.Observer.Notify(e)
	}
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
