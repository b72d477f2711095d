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

package harness_test

import (
	"context"
	"testing"
	"time"

	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/harness/fakesession"
)

const appPage = `<!DOCTYPE html>
<html><body>
<canvas id="scene"></canvas>
<div id="landing"><button id="start-btn" style="display: none">Start</button></div>
<div id="ui" class="hud">
  <button id="settings-btn">Settings</button>
  <div id="controls-hint" hidden>WASD to move</div>
</div>
<div id="zone-label-container"><div id="zone-label">Tundra</div></div>
<div id="late" class="hidden">Late</div>
</body></html>`

// newApp returns a fake of the application: the start button appears shortly
// after load and clicking it brings up the HUD.
func newApp() *fakesession.Session {
	return fakesession.New(appPage).
		OnNavigate(20*time.Millisecond, fakesession.Show("#start-btn")).
		OnClick("#start-btn", 50*time.Millisecond,
			fakesession.AddClass("#ui", "visible"),
			fakesession.Emit(harness.ConsoleInfo, "game started"))
}

func always(v bool) harness.Condition {
	return harness.Custom{Name: "always", Fn: func(context.Context, harness.Session) (bool, error) {
		return v, nil
	}}
}

func launchAndStart() harness.Scenario {
	return harness.Scenario{
		Name: "launch-and-start",
		Steps: []harness.Step{
			{
				Name:      "load",
				Action:    harness.Navigate{URL: "/"},
				WaitFor:   harness.SelectorVisible{Selector: "#start-btn"},
				Timeout:   2 * time.Second,
				OnSuccess: []harness.Capture{harness.Screenshot{Name: "landing.png"}},
			},
			{
				Name:      "start",
				Action:    harness.Click{Selector: "#start-btn"},
				WaitFor:   harness.SelectorHasClass{Selector: "#ui", Class: "visible"},
				Timeout:   2 * time.Second,
				OnSuccess: []harness.Capture{harness.Screenshot{Name: "hud.png"}},
			},
		},
	}
}

func newRunner(t *testing.T, build func() *fakesession.Session) *harness.Runner {
	t.Helper()
	return &harness.Runner{
		Opener:       fakesession.Opener(build),
		BaseURL:      "http://app.test:5173",
		OutputDir:    t.TempDir(),
		PollInterval: 10 * time.Millisecond,
		Logf:         t.Logf,
	}
}
