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

// Package scenario defines verification scenarios: the builtin ones and
// those loaded from YAML files.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ttbt-io/sceneverify/harness"
)

// File is the YAML form of a scenario.
//
//	name: controls-ui
//	steps:
//	  - name: load
//	    action: {navigate: /index.html}
//	    wait_for: {visible: "#start-btn"}
//	    timeout: 30s
//	    on_success: [{screenshot: landing.png}]
type File struct {
	Name        string     `yaml:"name" validate:"required"`
	Description string     `yaml:"description,omitempty"`
	Steps       []StepSpec `yaml:"steps" validate:"required,min=1,dive"`
}

type StepSpec struct {
	Name         string         `yaml:"name" validate:"required"`
	Action       ActionSpec     `yaml:"action,omitempty"`
	WaitFor      *ConditionSpec `yaml:"wait_for,omitempty"`
	Timeout      time.Duration  `yaml:"timeout" validate:"gt=0"`
	PollInterval time.Duration  `yaml:"poll_interval,omitempty" validate:"gte=0"`
	// Critical overrides the default: navigation and the first interaction
	// are critical.
	Critical  *bool         `yaml:"critical,omitempty"`
	Retries   int           `yaml:"retries,omitempty" validate:"gte=0,lte=100"`
	Settle    time.Duration `yaml:"settle,omitempty" validate:"gte=0"`
	OnSuccess []CaptureSpec `yaml:"on_success,omitempty" validate:"dive"`
	OnFailure []CaptureSpec `yaml:"on_failure,omitempty" validate:"dive"`
}

// ActionSpec sets at most one action. An empty ActionSpec observes only.
type ActionSpec struct {
	Navigate      *string    `yaml:"navigate,omitempty"`
	Click         *ClickSpec `yaml:"click,omitempty"`
	Press         string     `yaml:"press,omitempty"`
	DispatchClick string     `yaml:"dispatch_click,omitempty"`
}

type ClickSpec struct {
	Selector string   `yaml:"selector,omitempty"`
	X        *float64 `yaml:"x,omitempty"`
	Y        *float64 `yaml:"y,omitempty"`
	Force    bool     `yaml:"force,omitempty"`
}

// ConditionSpec sets exactly one condition.
type ConditionSpec struct {
	Visible      string         `yaml:"visible,omitempty"`
	HasClass     *HasClassSpec  `yaml:"has_class,omitempty"`
	CountAtLeast *CountSpec     `yaml:"count_at_least,omitempty"`
	TextMatches  *TextMatchSpec `yaml:"text_matches,omitempty"`
}

type HasClassSpec struct {
	Selector string `yaml:"selector" validate:"required"`
	Class    string `yaml:"class" validate:"required"`
}

type CountSpec struct {
	Selector string `yaml:"selector" validate:"required"`
	N        int    `yaml:"n" validate:"gte=1"`
}

type TextMatchSpec struct {
	Selector string `yaml:"selector" validate:"required"`
	Pattern  string `yaml:"pattern" validate:"required"`
}

// CaptureSpec sets exactly one of Screenshot, Text or HTML.
type CaptureSpec struct {
	Screenshot        string `yaml:"screenshot,omitempty"`
	DisableAnimations bool   `yaml:"disable_animations,omitempty"`
	Text              string `yaml:"text,omitempty"`
	HTML              string `yaml:"html,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a scenario from a YAML file.
func Load(path string) (harness.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return harness.Scenario{}, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return harness.Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a YAML scenario. Unknown fields are rejected.
func Parse(data []byte) (harness.Scenario, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return harness.Scenario{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return f.Build()
}

// Build validates f and converts it to a harness.Scenario.
func (f File) Build() (harness.Scenario, error) {
	if err := validate.Struct(f); err != nil {
		return harness.Scenario{}, fmt.Errorf("invalid scenario: %w", err)
	}
	sc := harness.Scenario{Name: f.Name, Description: f.Description}
	var errs []error
	for i, s := range f.Steps {
		st, err := s.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i+1, s.Name, err))
			continue
		}
		sc.Steps = append(sc.Steps, st)
	}
	if err := errors.Join(errs...); err != nil {
		return harness.Scenario{}, fmt.Errorf("invalid scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return harness.Scenario{}, fmt.Errorf("invalid scenario: %w", err)
	}
	return sc, nil
}

func (s StepSpec) build() (harness.Step, error) {
	st := harness.Step{
		Name:         s.Name,
		Timeout:      s.Timeout,
		PollInterval: s.PollInterval,
		Retries:      s.Retries,
		Settle:       s.Settle,
	}
	if s.Critical != nil {
		st.Criticality = harness.NonCritical
		if *s.Critical {
			st.Criticality = harness.Critical
		}
	}
	var err error
	if st.Action, err = s.Action.build(); err != nil {
		return st, err
	}
	if s.WaitFor != nil {
		if st.WaitFor, err = s.WaitFor.build(); err != nil {
			return st, err
		}
	}
	if st.OnSuccess, err = buildCaptures(s.OnSuccess); err != nil {
		return st, err
	}
	if st.OnFailure, err = buildCaptures(s.OnFailure); err != nil {
		return st, err
	}
	return st, nil
}

func (a ActionSpec) build() (harness.Action, error) {
	var actions []harness.Action
	if a.Navigate != nil {
		actions = append(actions, harness.Navigate{URL: *a.Navigate})
	}
	if c := a.Click; c != nil {
		switch {
		case c.Selector != "" && (c.X != nil || c.Y != nil):
			return nil, errors.New("click takes a selector or coordinates, not both")
		case c.Selector == "" && (c.X == nil || c.Y == nil):
			return nil, errors.New("click needs a selector or both x and y")
		case c.Selector != "":
			actions = append(actions, harness.Click{Selector: c.Selector, Force: c.Force})
		default:
			actions = append(actions, harness.Click{X: *c.X, Y: *c.Y, Force: c.Force})
		}
	}
	if a.Press != "" {
		actions = append(actions, harness.PressKey{Key: a.Press})
	}
	if a.DispatchClick != "" {
		actions = append(actions, harness.DispatchClick{ID: a.DispatchClick})
	}
	switch len(actions) {
	case 0:
		return harness.NoOp{}, nil
	case 1:
		return actions[0], nil
	}
	return nil, fmt.Errorf("step has %d actions, want at most one", len(actions))
}

func (c ConditionSpec) build() (harness.Condition, error) {
	var conds []harness.Condition
	if c.Visible != "" {
		conds = append(conds, harness.SelectorVisible{Selector: c.Visible})
	}
	if h := c.HasClass; h != nil {
		if err := validate.Struct(h); err != nil {
			return nil, err
		}
		conds = append(conds, harness.SelectorHasClass{Selector: h.Selector, Class: h.Class})
	}
	if n := c.CountAtLeast; n != nil {
		if err := validate.Struct(n); err != nil {
			return nil, err
		}
		conds = append(conds, harness.ElementCountAtLeast{Selector: n.Selector, N: n.N})
	}
	if t := c.TextMatches; t != nil {
		if err := validate.Struct(t); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(t.Pattern)
		if err != nil {
			return nil, fmt.Errorf("text_matches: %w", err)
		}
		conds = append(conds, harness.TextMatches{Selector: t.Selector, Pattern: re})
	}
	if len(conds) != 1 {
		return nil, fmt.Errorf("wait_for has %d conditions, want exactly one", len(conds))
	}
	return conds[0], nil
}

func buildCaptures(specs []CaptureSpec) ([]harness.Capture, error) {
	var out []harness.Capture
	for _, c := range specs {
		n := 0
		if c.Screenshot != "" {
			n++
			out = append(out, harness.Screenshot{Name: c.Screenshot, DisableAnimations: c.DisableAnimations})
		}
		if c.Text != "" {
			n++
			out = append(out, harness.ExtractText{Selector: c.Text})
		}
		if c.HTML != "" {
			n++
			out = append(out, harness.DumpHTML{Selector: c.HTML})
		}
		if n != 1 {
			return nil, fmt.Errorf("capture must set exactly one of screenshot, text or html")
		}
		if c.DisableAnimations && c.Screenshot == "" {
			return nil, fmt.Errorf("disable_animations only applies to screenshots")
		}
	}
	return out, nil
}
