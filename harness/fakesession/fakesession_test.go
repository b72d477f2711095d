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

package fakesession

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ttbt-io/sceneverify/harness"
)

const page = `<html><body>
<div id="wrap" style="opacity: 0"><span id="inner">x</span></div>
<button id="go">Go</button>
<div id="panel" hidden>Panel</div>
</body></html>`

func TestVisibility(t *testing.T) {
	s := New(page)
	ctx := context.Background()
	for sel, want := range map[string]bool{
		"#inner": false,
		"#go":    true,
		"#panel": false,
		"#none":  false,
		"div":    false,
	} {
		got, err := s.SelectorVisible(ctx, sel)
		if err != nil {
			t.Fatalf("SelectorVisible(%s): %v", sel, err)
		}
		if got != want {
			t.Errorf("SelectorVisible(%s) = %v, want %v", sel, got, want)
		}
	}
}

func TestDelayedMutation(t *testing.T) {
	s := New(page).OnClick("#go", 30*time.Millisecond, Show("#panel"), SetText("#panel", "Open"))
	ctx := context.Background()
	if err := s.Click(ctx, harness.ClickTarget{Selector: "#go"}, harness.ClickOptions{}); err != nil {
		t.Fatalf("Click: %v", err)
	}
	if vis, _ := s.SelectorVisible(ctx, "#panel"); vis {
		t.Fatal("panel visible before the delay")
	}
	time.Sleep(80 * time.Millisecond)
	if vis, _ := s.SelectorVisible(ctx, "#panel"); !vis {
		t.Fatal("panel not visible after the delay")
	}
	if text, _ := s.InnerText(ctx, "#panel"); text != "Open" {
		t.Errorf("InnerText = %q", text)
	}
}

func TestNavigateResetsPage(t *testing.T) {
	s := New(page).OnClick("#go", 50*time.Millisecond, AddClass("#go", "pressed"))
	ctx := context.Background()
	if err := s.Click(ctx, harness.ClickTarget{Selector: "#go"}, harness.ClickOptions{}); err != nil {
		t.Fatalf("Click: %v", err)
	}
	if err := s.Navigate(ctx, "http://app.test/"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if ok, _ := s.HasClass(ctx, "#go", "pressed"); ok {
		t.Error("mutation from the previous page applied after navigation")
	}
}

func TestClickChecks(t *testing.T) {
	s := New(page)
	ctx := context.Background()
	if err := s.Click(ctx, harness.ClickTarget{Selector: "#missing"}, harness.ClickOptions{}); !errors.Is(err, harness.ErrNotFound) {
		t.Errorf("missing: %v", err)
	}
	if err := s.Click(ctx, harness.ClickTarget{Selector: "#panel"}, harness.ClickOptions{}); !errors.Is(err, harness.ErrNotVisible) {
		t.Errorf("hidden: %v", err)
	}
	if err := s.Click(ctx, harness.ClickTarget{Selector: "#panel"}, harness.ClickOptions{Force: true}); err != nil {
		t.Errorf("forced: %v", err)
	}
	if err := s.DispatchClick(ctx, "panel"); err != nil {
		t.Errorf("dispatch: %v", err)
	}
	want := []string{"click #missing", "click #panel", "force click #panel", "dispatch #panel"}
	got := s.Calls()
	if len(got) != len(want) {
		t.Fatalf("Calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCloseEndsConsole(t *testing.T) {
	s := New(page)
	s.Log(harness.ConsoleWarning, "low fps")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var msgs []harness.ConsoleMessage
	for m := range s.Console() {
		msgs = append(msgs, m)
	}
	if len(msgs) != 1 || msgs[0].Level != harness.ConsoleWarning {
		t.Errorf("messages = %+v", msgs)
	}
	if err := s.Screenshot(context.Background(), filepath.Join(t.TempDir(), "x.png"), harness.ScreenshotOptions{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Screenshot after close = %v", err)
	}
	s.Log(harness.ConsoleLog, "ignored")
}
