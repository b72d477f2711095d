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
	"regexp"
	"strings"
)

// Condition is a predicate over the observable state of a Session.
// Checking a Condition must never mutate application state.
//
// Check reports whether the condition holds and a short description of what
// was observed, which is kept as the diagnostic snapshot when a wait times out.
type Condition interface {
	Check(ctx context.Context, s Session) (ok bool, snapshot string, err error)
	String() string
}

// SelectorVisible holds when an element matching Selector is rendered and
// not hidden.
type SelectorVisible struct {
	Selector string
}

func (c SelectorVisible) Check(ctx context.Context, s Session) (bool, string, error) {
	vis, err := s.SelectorVisible(ctx, c.Selector)
	if err != nil {
		return false, "", err
	}
	return vis, fmt.Sprintf("%s visible=%t", c.Selector, vis), nil
}

func (c SelectorVisible) String() string {
	return "visible " + c.Selector
}

// SelectorHasClass holds when the first element matching Selector carries Class.
type SelectorHasClass struct {
	Selector string
	Class    string
}

func (c SelectorHasClass) Check(ctx context.Context, s Session) (bool, string, error) {
	ok, err := s.HasClass(ctx, c.Selector, c.Class)
	if err != nil {
		return false, "", err
	}
	snap := fmt.Sprintf("%s has .%s=%t", c.Selector, c.Class, ok)
	if !ok {
		// Record what the element looked like instead; the dump is the
		// most useful thing to have when a class never shows up.
		if html, err := s.OuterHTML(ctx, c.Selector); err == nil {
			snap += ": " + truncate(html, 300)
		} else if errors.Is(err, ErrNotFound) {
			snap += ": element not found"
		}
	}
	return ok, snap, nil
}

func (c SelectorHasClass) String() string {
	return fmt.Sprintf("%s.%s", c.Selector, c.Class)
}

// ElementCountAtLeast holds when at least N elements match Selector.
type ElementCountAtLeast struct {
	Selector string
	N        int
}

func (c ElementCountAtLeast) Check(ctx context.Context, s Session) (bool, string, error) {
	n, err := s.ElementCount(ctx, c.Selector)
	if err != nil {
		return false, "", err
	}
	return n >= c.N, fmt.Sprintf("%s count=%d", c.Selector, n), nil
}

func (c ElementCountAtLeast) String() string {
	return fmt.Sprintf("count(%s) >= %d", c.Selector, c.N)
}

// TextMatches holds when the text of the element matching Selector matches Pattern.
type TextMatches struct {
	Selector string
	Pattern  *regexp.Regexp
}

func (c TextMatches) Check(ctx context.Context, s Session) (bool, string, error) {
	text, err := s.InnerText(ctx, c.Selector)
	if errors.Is(err, ErrNotFound) {
		return false, c.Selector + " not found", nil
	}
	if err != nil {
		return false, "", err
	}
	text = strings.TrimSpace(text)
	return c.Pattern.MatchString(text), fmt.Sprintf("%s text=%q", c.Selector, truncate(text, 120)), nil
}

func (c TextMatches) String() string {
	return fmt.Sprintf("text(%s) =~ /%s/", c.Selector, c.Pattern)
}

// Custom wraps an arbitrary read-only predicate.
type Custom struct {
	Name string
	Fn   func(ctx context.Context, s Session) (bool, error)
}

func (c Custom) Check(ctx context.Context, s Session) (bool, string, error) {
	ok, err := c.Fn(ctx, s)
	if err != nil {
		return false, "", err
	}
	return ok, fmt.Sprintf("%s=%t", c.Name, ok), nil
}

func (c Custom) String() string {
	return c.Name
}

// Immediate is the condition used for steps without a wait condition. It
// holds at once, so the step is verified by its action alone, and says so in
// the step's snapshot.
type Immediate struct{}

func (Immediate) Check(context.Context, Session) (bool, string, error) {
	return true, "no wait condition; verified by action only", nil
}

func (Immediate) String() string {
	return "immediate"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
