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

// Package fakesession is an in-memory harness.Session over a static HTML
// document. Clicks, key presses and navigations trigger scripted DOM
// mutations, optionally after a delay, which stand in for the application's
// asynchronous transitions.
package fakesession

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ttbt-io/sceneverify/harness"
)

var ErrClosed = errors.New("session closed")

// Mutation changes the document. It runs with the session locked.
type Mutation func(s *Session)

type trigger int

const (
	onClick trigger = iota
	onKey
	onNavigate
)

type rule struct {
	trigger   trigger
	target    string
	delay     time.Duration
	mutations []Mutation
}

// Session is a scripted fake browser tab.
type Session struct {
	mu         sync.Mutex
	page       string
	doc        *goquery.Document
	generation int
	url        string
	rules      []rule
	navErr     error
	shotErr    error
	timers     []*time.Timer
	console    chan harness.ConsoleMessage
	closed     bool
	calls      []string
}

// New returns a session that serves page on every navigation.
func New(page string) *Session {
	s := &Session{
		page:    page,
		console: make(chan harness.ConsoleMessage, 256),
	}
	s.doc = mustParse(page)
	return s
}

func mustParse(page string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		panic(fmt.Sprintf("fakesession: bad page: %v", err))
	}
	return doc
}

// OnClick applies mutations after delay when selector is clicked. An empty
// selector matches clicks at viewport coordinates.
func (s *Session) OnClick(selector string, delay time.Duration, m ...Mutation) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule{trigger: onClick, target: selector, delay: delay, mutations: m})
	return s
}

// OnKey applies mutations after delay when key is pressed.
func (s *Session) OnKey(key string, delay time.Duration, m ...Mutation) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule{trigger: onKey, target: key, delay: delay, mutations: m})
	return s
}

// OnNavigate applies mutations after delay once the page has loaded.
func (s *Session) OnNavigate(delay time.Duration, m ...Mutation) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule{trigger: onNavigate, delay: delay, mutations: m})
	return s
}

// Unreachable makes every navigation fail with err.
func (s *Session) Unreachable(err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navErr = err
	return s
}

// FailScreenshots makes every screenshot fail with err.
func (s *Session) FailScreenshots(err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shotErr = err
	return s
}

// Log emits a console message.
func (s *Session) Log(level harness.ConsoleLevel, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logLocked(level, text)
}

func (s *Session) logLocked(level harness.ConsoleLevel, text string) {
	if s.closed {
		return
	}
	select {
	case s.console <- harness.ConsoleMessage{Time: time.Now(), Level: level, Text: text}:
	default:
	}
}

// Calls returns the interactions received so far, in order.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// URL is the last page navigated to.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// HTML returns the current document.
func (s *Session) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, _ := s.doc.Html()
	return h
}

func (s *Session) enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.calls = append(s.calls, "navigate "+url)
	if s.navErr != nil {
		return s.navErr
	}
	s.stopTimersLocked()
	s.generation++
	s.doc = mustParse(s.page)
	s.url = url
	s.fireLocked(onNavigate, "")
	return nil
}

func (s *Session) SelectorVisible(ctx context.Context, selector string) (bool, error) {
	if err := s.enter(ctx); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	vis := false
	s.doc.Find(selector).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		vis = visible(el)
		return !vis
	})
	return vis, nil
}

func (s *Session) HasClass(ctx context.Context, selector, className string) (bool, error) {
	if err := s.enter(ctx); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return s.doc.Find(selector).First().HasClass(className), nil
}

func (s *Session) ElementCount(ctx context.Context, selector string) (int, error) {
	if err := s.enter(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return s.doc.Find(selector).Length(), nil
}

func (s *Session) InnerText(ctx context.Context, selector string) (string, error) {
	if err := s.enter(ctx); err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	el := s.doc.Find(selector).First()
	if el.Length() == 0 {
		return "", fmt.Errorf("%s: %w", selector, harness.ErrNotFound)
	}
	return el.Text(), nil
}

func (s *Session) OuterHTML(ctx context.Context, selector string) (string, error) {
	if err := s.enter(ctx); err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	el := s.doc.Find(selector).First()
	if el.Length() == 0 {
		return "", fmt.Errorf("%s: %w", selector, harness.ErrNotFound)
	}
	return goquery.OuterHtml(el)
}

func (s *Session) Click(ctx context.Context, target harness.ClickTarget, opts harness.ClickOptions) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	call := "click " + target.String()
	if opts.Force {
		call = "force " + call
	}
	s.calls = append(s.calls, call)
	if target.Selector == "" {
		s.fireLocked(onClick, "")
		return nil
	}
	el := s.doc.Find(target.Selector).First()
	if el.Length() == 0 {
		return fmt.Errorf("%s: %w", target.Selector, harness.ErrNotFound)
	}
	if !opts.Force && !visible(el) {
		return fmt.Errorf("%s: %w", target.Selector, harness.ErrNotVisible)
	}
	s.fireLocked(onClick, target.Selector)
	return nil
}

func (s *Session) PressKey(ctx context.Context, key string) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.calls = append(s.calls, "key "+key)
	s.fireLocked(onKey, key)
	return nil
}

func (s *Session) DispatchClick(ctx context.Context, id string) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	sel := "#" + id
	s.calls = append(s.calls, "dispatch "+sel)
	if s.doc.Find(sel).Length() == 0 {
		return fmt.Errorf("%s: %w", sel, harness.ErrNotFound)
	}
	s.fireLocked(onClick, sel)
	return nil
}

func (s *Session) Screenshot(ctx context.Context, path string, opts harness.ScreenshotOptions) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	call := "screenshot " + path
	if opts.DisableAnimations {
		call += " (no animations)"
	}
	s.calls = append(s.calls, call)
	if s.shotErr != nil {
		return s.shotErr
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func (s *Session) Console() <-chan harness.ConsoleMessage {
	return s.console
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stopTimersLocked()
	close(s.console)
	return nil
}

func (s *Session) fireLocked(t trigger, target string) {
	for _, r := range s.rules {
		if r.trigger != t || r.target != target {
			continue
		}
		if r.delay <= 0 {
			s.applyLocked(r.mutations)
			continue
		}
		gen := s.generation
		muts := r.mutations
		s.timers = append(s.timers, time.AfterFunc(r.delay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closed || s.generation != gen {
				return
			}
			s.applyLocked(muts)
		}))
	}
}

func (s *Session) applyLocked(muts []Mutation) {
	for _, m := range muts {
		m(s)
	}
}

func (s *Session) stopTimersLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// Opener returns an Opener that builds a new session for every run.
func Opener(build func() *Session) harness.Opener {
	return harness.OpenerFunc(func(ctx context.Context) (harness.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return build(), nil
	})
}
