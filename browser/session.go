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

package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/ttbt-io/sceneverify/harness"
)

// Session drives one browser tab through the DevTools protocol.
type Session struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	mu      sync.Mutex
	closed  bool
	console chan harness.ConsoleMessage
}

var _ harness.Session = (*Session)(nil)

// run executes actions on the tab, bounded by the deadline and cancellation
// of ctx. The tab itself outlives ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := s.ctx
	if dl, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, dl)
		defer cancel()
	}
	runCtx, cancel := context.WithCancel(runCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

type lookup struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return &harness.NavigationError{URL: url, Err: err}
	}
	return nil
}

// visibleJS is true when any match has layout and is not hidden by style.
const visibleJS = `(function(sel) {
	const elements = document.querySelectorAll(sel);
	for (let i = 0; i < elements.length; i++) {
		const el = elements[i];
		const style = window.getComputedStyle(el);
		if (el.offsetHeight !== 0 && style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0') {
			return true;
		}
	}
	return false;
})(%s)`

func (s *Session) SelectorVisible(ctx context.Context, selector string) (bool, error) {
	var vis bool
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(visibleJS, quote(selector)), &vis))
	return vis, err
}

func (s *Session) HasClass(ctx context.Context, selector, className string) (bool, error) {
	var ok bool
	js := fmt.Sprintf(`(function(sel, cls) {
		const el = document.querySelector(sel);
		return el !== null && el.classList.contains(cls);
	})(%s, %s)`, quote(selector), quote(className))
	err := s.run(ctx, chromedp.Evaluate(js, &ok))
	return ok, err
}

func (s *Session) ElementCount(ctx context.Context, selector string) (int, error) {
	var n int
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(`document.querySelectorAll(%s).length`, quote(selector)), &n))
	return n, err
}

func (s *Session) find(ctx context.Context, selector, property string) (string, error) {
	var res lookup
	js := fmt.Sprintf(`(function(sel) {
		const el = document.querySelector(sel);
		return el === null ? {found: false, text: ''} : {found: true, text: el.%s};
	})(%s)`, property, quote(selector))
	if err := s.run(ctx, chromedp.Evaluate(js, &res)); err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("%s: %w", selector, harness.ErrNotFound)
	}
	return res.Text, nil
}

func (s *Session) InnerText(ctx context.Context, selector string) (string, error) {
	return s.find(ctx, selector, "innerText")
}

func (s *Session) OuterHTML(ctx context.Context, selector string) (string, error) {
	return s.find(ctx, selector, "outerHTML")
}

// clickJS clicks the first match directly, skipping hit testing.
const clickJS = `(function(el) {
	if (el === null) return false;
	el.click();
	return true;
})(%s)`

func (s *Session) Click(ctx context.Context, target harness.ClickTarget, opts harness.ClickOptions) error {
	if target.Selector == "" {
		return s.run(ctx, chromedp.MouseClickXY(target.X, target.Y))
	}
	if opts.Force {
		return s.jsClick(ctx, fmt.Sprintf(clickJS, "document.querySelector("+quote(target.Selector)+")"), target.Selector)
	}
	n, err := s.ElementCount(ctx, target.Selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", target.Selector, harness.ErrNotFound)
	}
	vis, err := s.SelectorVisible(ctx, target.Selector)
	if err != nil {
		return err
	}
	if !vis {
		return fmt.Errorf("%s: %w", target.Selector, harness.ErrNotVisible)
	}
	return s.run(ctx, chromedp.Click(target.Selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (s *Session) DispatchClick(ctx context.Context, id string) error {
	return s.jsClick(ctx, fmt.Sprintf(clickJS, "document.getElementById("+quote(id)+")"), "#"+id)
}

func (s *Session) jsClick(ctx context.Context, js, what string) error {
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", what, harness.ErrNotFound)
	}
	return nil
}

var keyNames = map[string]string{
	"enter":      kb.Enter,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"tab":        kb.Tab,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"space":      " ",
}

// keySequence maps a key name such as "Enter" or "2" to the input
// chromedp.KeyEvent expects.
func keySequence(key string) string {
	if k, ok := keyNames[strings.ToLower(key)]; ok {
		return k
	}
	return key
}

func (s *Session) PressKey(ctx context.Context, key string) error {
	return s.run(ctx, chromedp.KeyEvent(keySequence(key)))
}

// freezeJS stops transitions and animations and hides the caret.
const freezeJS = `(function() {
	if (document.getElementById('sceneverify-freeze')) return;
	const style = document.createElement('style');
	style.id = 'sceneverify-freeze';
	style.innerHTML = '*,*::before,*::after{-webkit-transition-duration:0s!important;transition-duration:0s!important;-webkit-animation-duration:0s!important;animation-duration:0s!important;animation-play-state:paused!important;caret-color:transparent!important;}';
	document.head.appendChild(style);
})()`

// thawJS undoes freezeJS.
const thawJS = `(function() {
	const style = document.getElementById('sceneverify-freeze');
	if (style) style.remove();
})()`

const thawTimeout = 5 * time.Second

// Screenshot saves a PNG of the viewport to path. With DisableAnimations the
// page is frozen only for the capture itself.
func (s *Session) Screenshot(ctx context.Context, path string, opts harness.ScreenshotOptions) error {
	var buf []byte
	var actions []chromedp.Action
	if opts.DisableAnimations {
		actions = append(actions, chromedp.Evaluate(freezeJS, nil))
		defer func() {
			tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), thawTimeout)
			defer cancel()
			// The tab may be gone already.
			_ = s.run(tctx, chromedp.Evaluate(thawJS, nil))
		}()
	}
	actions = append(actions, chromedp.CaptureScreenshot(&buf))
	if err := s.run(ctx, actions...); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write screenshot to file: %w", err)
	}
	return nil
}

func (s *Session) Console() <-chan harness.ConsoleMessage {
	return s.console
}

func (s *Session) onEvent(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		ts := time.Now()
		if ev.Timestamp != nil {
			ts = ev.Timestamp.Time()
		}
		s.emit(harness.ConsoleMessage{Time: ts, Level: consoleLevel(ev.Type), Text: formatArgs(ev.Args)})
	case *runtime.EventExceptionThrown:
		ts := time.Now()
		if ev.Timestamp != nil {
			ts = ev.Timestamp.Time()
		}
		s.emit(harness.ConsoleMessage{Time: ts, Level: harness.ConsoleException, Text: exceptionText(ev.ExceptionDetails)})
	}
}

func (s *Session) emit(m harness.ConsoleMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.console <- m:
	default:
	}
}

func consoleLevel(t runtime.APIType) harness.ConsoleLevel {
	switch t {
	case runtime.APITypeError, runtime.APITypeAssert:
		return harness.ConsoleError
	case runtime.APITypeWarning:
		return harness.ConsoleWarning
	case runtime.APITypeInfo:
		return harness.ConsoleInfo
	}
	return harness.ConsoleLog
}

func formatArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		switch {
		case len(a.Value) > 0:
			var str string
			if err := json.Unmarshal(a.Value, &str); err == nil {
				parts = append(parts, str)
			} else {
				parts = append(parts, string(a.Value))
			}
		case a.UnserializableValue != "":
			parts = append(parts, a.UnserializableValue.String())
		default:
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

func exceptionText(d *runtime.ExceptionDetails) string {
	if d == nil {
		return ""
	}
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}

// Close closes the tab and releases the browser allocator.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.console)
	s.mu.Unlock()

	s.cancelTab()
	s.cancelAlloc()
	return nil
}
