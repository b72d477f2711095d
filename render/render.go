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

// Package render formats reports for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/reportstore"
)

// Renderer styles output for one writer. Colors are dropped when the
// writer is not a terminal.
type Renderer struct {
	box     lipgloss.Style
	header  lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
}

func New(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		box: r.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1),
		header:  r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		success: r.NewStyle().Foreground(lipgloss.Color("2")),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")),
		failure: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

func (r *Renderer) outcome(o harness.Outcome) string {
	label := strings.ToUpper(string(o))
	switch o {
	case harness.Passed:
		return r.success.Render(label)
	case harness.Failed:
		return r.failure.Render(label)
	}
	return r.warning.Render(label)
}

func (r *Renderer) step(res harness.StepResult) string {
	switch {
	case res.Passed():
		return r.success.Render("ok")
	case res.Critical:
		return r.failure.Render(string(res.Outcome))
	}
	return r.warning.Render(string(res.Outcome))
}

// Report renders a boxed summary of rep: one line per step followed by
// failure details.
func (r *Renderer) Report(rep *harness.Report) string {
	var sb strings.Builder
	steps := rep.Steps()
	passed := 0
	for _, s := range steps {
		if s.Passed() {
			passed++
		}
	}
	fmt.Fprintf(&sb, "%s %s  %s\n",
		r.header.Render(rep.Scenario()),
		r.outcome(rep.Outcome()),
		r.muted.Render(fmt.Sprintf("%d/%d steps passed in %v", passed, rep.TotalSteps(), rep.Elapsed().Round(time.Millisecond))))
	if rep.Outcome() == harness.Aborted {
		fmt.Fprintf(&sb, "  %s %s\n", r.failure.Render("aborted:"), rep.AbortReason())
	}

	width := 0
	for _, s := range steps {
		width = max(width, len(s.Step))
	}
	for _, s := range steps {
		flags := ""
		if s.Forced {
			flags += r.warning.Render(" forced")
		}
		if s.Attempts > 1 {
			flags += r.muted.Render(fmt.Sprintf(" %d attempts", s.Attempts))
		}
		fmt.Fprintf(&sb, "  %2d %-*s  %s %s%s\n", s.Index+1, width, s.Step, r.step(s),
			r.muted.Render(s.Elapsed.Round(time.Millisecond).String()), flags)
		if !s.Passed() {
			fmt.Fprintf(&sb, "     %s\n", s.Error)
			if s.Snapshot != "" {
				fmt.Fprintf(&sb, "     %s %s\n", r.muted.Render("last seen:"), s.Snapshot)
			}
		}
	}
	if skipped := rep.TotalSteps() - len(steps); skipped > 0 && rep.Outcome() != harness.Passed {
		fmt.Fprintf(&sb, "  %s\n", r.muted.Render(fmt.Sprintf("%d steps not run", skipped)))
	}

	errs := 0
	for _, m := range rep.Console() {
		if m.Level == harness.ConsoleError || m.Level == harness.ConsoleException {
			errs++
		}
	}
	footer := fmt.Sprintf("%d artifacts in %s", len(rep.Artifacts()), rep.Dir())
	if len(steps) > 0 {
		footer = fmt.Sprintf("step latency %s\n%s", rep.Latency(), footer)
	}
	if errs > 0 {
		footer += fmt.Sprintf(", %d console errors", errs)
	}
	if n := len(rep.Diagnostics()); n > 0 {
		footer += fmt.Sprintf(", %d diagnostics", n)
	}
	sb.WriteString(r.muted.Render(footer))
	return r.box.Render(sb.String())
}

// Reports renders a table of stored reports.
func (r *Renderer) Reports(metas []reportstore.Meta) string {
	if len(metas) == 0 {
		return r.muted.Render("no reports")
	}
	var sb strings.Builder
	var latency harness.Histogram
	sb.WriteString(r.header.Render(fmt.Sprintf("%-36s  %-20s  %-8s  %-20s  %s", "ID", "SCENARIO", "OUTCOME", "STARTED", "STEPS")))
	for _, m := range metas {
		// Pad before styling; escape codes would throw off the width.
		outcome := fmt.Sprintf("%-8s", strings.ToUpper(string(m.Outcome)))
		switch m.Outcome {
		case harness.Passed:
			outcome = r.success.Render(outcome)
		case harness.Failed:
			outcome = r.failure.Render(outcome)
		default:
			outcome = r.warning.Render(outcome)
		}
		fmt.Fprintf(&sb, "\n%-36s  %-20s  %s  %-20s  %d/%d",
			m.ID, m.Scenario, outcome, m.StartedAt.Local().Format(time.DateTime), m.StepsPassed, m.TotalSteps)
		if len(m.Failing) > 0 {
			sb.WriteString(r.muted.Render("  failing: " + strings.Join(m.Failing, ", ")))
		}
		latency.Merge(m.Latency)
	}
	sb.WriteString("\n" + r.muted.Render(fmt.Sprintf("step latency over %d runs: %s", len(metas), &latency)))
	return sb.String()
}
