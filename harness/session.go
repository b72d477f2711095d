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
	"fmt"
	"time"
)

// ConsoleLevel is the severity of a browser console message.
type ConsoleLevel string

const (
	ConsoleLog       ConsoleLevel = "log"
	ConsoleInfo      ConsoleLevel = "info"
	ConsoleWarning   ConsoleLevel = "warning"
	ConsoleError     ConsoleLevel = "error"
	ConsoleException ConsoleLevel = "exception"
)

// ConsoleMessage is one line from the application's console feed.
type ConsoleMessage struct {
	Time  time.Time    `json:"time"`
	Level ConsoleLevel `json:"level"`
	Text  string       `json:"text"`
}

// ClickTarget is either a CSS selector or viewport coordinates.
// Coordinates are used when Selector is empty.
type ClickTarget struct {
	Selector string
	X, Y     float64
}

func (t ClickTarget) String() string {
	if t.Selector != "" {
		return t.Selector
	}
	return fmt.Sprintf("(%.0f,%.0f)", t.X, t.Y)
}

// ClickOptions modify how a click is delivered.
type ClickOptions struct {
	// Force bypasses visibility and hit-test checks and dispatches the click
	// directly on the element.
	Force bool
}

// ScreenshotOptions modify how a screenshot is taken.
type ScreenshotOptions struct {
	// DisableAnimations freezes CSS transitions and animations and hides the
	// caret before capturing.
	DisableAnimations bool
}

// Session is one live connection to a running instance of the application
// under test. Implementations need not be safe for concurrent use: a Session
// is owned by exactly one Runner for the duration of a run.
type Session interface {
	Navigate(ctx context.Context, url string) error

	SelectorVisible(ctx context.Context, selector string) (bool, error)
	HasClass(ctx context.Context, selector, className string) (bool, error)
	ElementCount(ctx context.Context, selector string) (int, error)
	// InnerText returns ErrNotFound when nothing matches selector.
	InnerText(ctx context.Context, selector string) (string, error)
	// OuterHTML returns ErrNotFound when nothing matches selector.
	OuterHTML(ctx context.Context, selector string) (string, error)

	Click(ctx context.Context, target ClickTarget, opts ClickOptions) error
	PressKey(ctx context.Context, key string) error
	// DispatchClick calls click() on the element with the given id without
	// going through input emulation.
	DispatchClick(ctx context.Context, id string) error

	Screenshot(ctx context.Context, path string, opts ScreenshotOptions) error

	// Console is the asynchronous console feed. It may be nil. It is closed
	// when the session is closed.
	Console() <-chan ConsoleMessage

	Close() error
}

// Opener opens a new, isolated Session.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context) (Session, error)

func (f OpenerFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}
