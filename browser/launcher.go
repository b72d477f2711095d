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

// Package browser implements harness.Session with chromedp.
package browser

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/ttbt-io/sceneverify/harness"
)

const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Options configure how browsers are started.
type Options struct {
	// ChromeURL is the DevTools endpoint of an already running browser. When
	// empty, a local headless Chrome is started for every session.
	ChromeURL string
	// ExecPath overrides the Chrome binary for local browsers.
	ExecPath string
	Width    int
	Height   int
	// Headful shows the browser window for local browsers.
	Headful bool
	Debug   bool
	Logf    func(format string, args ...any)
}

// ParseViewport parses a WIDTHxHEIGHT string such as "1280x720".
func ParseViewport(s string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid viewport %q, want WIDTHxHEIGHT", s)
	}
	if width, err = strconv.Atoi(strings.TrimSpace(w)); err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid viewport width %q", w)
	}
	if height, err = strconv.Atoi(strings.TrimSpace(h)); err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid viewport height %q", h)
	}
	return width, height, nil
}

// Launcher opens a new browser session per run.
type Launcher struct {
	opts Options
}

var _ harness.Opener = (*Launcher)(nil)

func NewLauncher(opts Options) *Launcher {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	return &Launcher{opts: opts}
}

// execOptions are the flags the scene needs to render without a GPU and to
// start audio without a user gesture.
func (l *Launcher) execOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("enable-unsafe-swiftshader", true),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.WindowSize(l.opts.Width, l.opts.Height),
	)
	if l.opts.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if l.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.opts.ExecPath))
	}
	return opts
}

// Open starts a browser tab. The tab is not bound to ctx: it lives until
// the session is closed.
func (l *Launcher) Open(ctx context.Context) (harness.Session, error) {
	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(l.opts.Logf),
		chromedp.WithErrorf(l.opts.Logf),
	}
	if l.opts.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(l.opts.Logf))
	}
	if l.opts.ChromeURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), l.opts.ChromeURL)
		ctxOpts = append(ctxOpts, chromedp.WithNewBrowserContext())
	} else {
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), l.execOptions()...)
	}
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, ctxOpts...)

	s := &Session{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		console:     make(chan harness.ConsoleMessage, 256),
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	if err := s.run(ctx, chromedp.EmulateViewport(int64(l.opts.Width), int64(l.opts.Height))); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	if l.opts.Debug {
		l.opts.Logf("Browser session ready (%dx%d)", l.opts.Width, l.opts.Height)
	}
	return s, nil
}
