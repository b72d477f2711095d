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
	"net/url"
	"strings"
)

// Action is a single interaction applied to a Session.
type Action interface {
	Apply(ctx context.Context, s Session) error
	String() string
}

// Navigate loads URL. A relative URL is resolved against the Runner's base URL.
type Navigate struct {
	URL string
}

func (a Navigate) Apply(ctx context.Context, s Session) error {
	if err := s.Navigate(ctx, a.URL); err != nil {
		var navErr *NavigationError
		if errors.As(err, &navErr) {
			return err
		}
		return &NavigationError{URL: a.URL, Err: err}
	}
	return nil
}

func (a Navigate) String() string {
	return "navigate " + a.URL
}

// resolve returns a copy of a with URL made absolute against base.
func (a Navigate) resolve(base string) Navigate {
	if base == "" {
		return a
	}
	ref, err := url.Parse(a.URL)
	if err != nil || ref.IsAbs() {
		return a
	}
	b, err := url.Parse(base)
	if err != nil {
		return a
	}
	if a.URL == "" {
		return Navigate{URL: b.String()}
	}
	if !strings.HasSuffix(b.Path, "/") {
		b.Path += "/"
	}
	return Navigate{URL: b.ResolveReference(ref).String()}
}

// Click clicks an element, or the viewport at (X, Y) when Selector is empty.
//
// Force dispatches the click directly on the element, bypassing visibility
// and overlap checks. Forced clicks are logged and reported.
type Click struct {
	Selector string
	X, Y     float64
	Force    bool
}

func (a Click) Apply(ctx context.Context, s Session) error {
	err := s.Click(ctx, ClickTarget{Selector: a.Selector, X: a.X, Y: a.Y}, ClickOptions{Force: a.Force})
	if err != nil {
		return &ActionError{Action: a.String(), Err: err}
	}
	return nil
}

func (a Click) String() string {
	t := ClickTarget{Selector: a.Selector, X: a.X, Y: a.Y}
	if a.Force {
		return "force click " + t.String()
	}
	return "click " + t.String()
}

// PressKey sends a single key press to the focused page.
type PressKey struct {
	Key string
}

func (a PressKey) Apply(ctx context.Context, s Session) error {
	if err := s.PressKey(ctx, a.Key); err != nil {
		return &ActionError{Action: a.String(), Err: err}
	}
	return nil
}

func (a PressKey) String() string {
	return fmt.Sprintf("press %q", a.Key)
}

// DispatchClick invokes click() on the element with the given id. It is the
// fallback for controls that ignore synthesized pointer input.
type DispatchClick struct {
	ID string
}

func (a DispatchClick) Apply(ctx context.Context, s Session) error {
	if err := s.DispatchClick(ctx, a.ID); err != nil {
		return &ActionError{Action: a.String(), Err: err}
	}
	return nil
}

func (a DispatchClick) String() string {
	return "dispatch click #" + a.ID
}

// NoOp does nothing. It is used for pure observation steps.
type NoOp struct{}

func (NoOp) Apply(context.Context, Session) error {
	return nil
}

func (NoOp) String() string {
	return "observe"
}

// isInteraction reports whether a is a user input action.
func isInteraction(a Action) bool {
	switch a.(type) {
	case Click, *Click, PressKey, *PressKey, DispatchClick, *DispatchClick:
		return true
	}
	return false
}

func isNavigate(a Action) bool {
	switch a.(type) {
	case Navigate, *Navigate:
		return true
	}
	return false
}

func isForced(a Action) bool {
	switch c := a.(type) {
	case Click:
		return c.Force
	case *Click:
		return c.Force
	}
	return false
}
