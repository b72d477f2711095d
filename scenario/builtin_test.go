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

package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/harness/fakesession"
)

const scenePage = `<!DOCTYPE html>
<html><body>
<canvas id="scene"></canvas>
<div id="instructions">Click anywhere to look around</div>
<div id="landing"><button id="start-btn" style="opacity: 0">Begin</button></div>
<div id="ui">
  <button id="settings-btn">Settings</button>
  <div id="controls-hint">WASD to move, 1-5 to change zone</div>
</div>
<div id="zone-label-container">
  <div id="zone-label">Tundra</div>
  <div id="zone-subtitle">Where the wind never stops</div>
</div>
<div id="field-note-container"><p id="field-note-text">Lichen grows a few millimetres a year.</p></div>
</body></html>`

// newScene fakes the application the builtin scenarios were written for.
func newScene() *fakesession.Session {
	s := fakesession.New(scenePage).
		OnNavigate(10*time.Millisecond, fakesession.Show("#start-btn")).
		OnClick("#start-btn", 20*time.Millisecond,
			fakesession.AddClass("#ui", "visible"),
			fakesession.AddClass("#zone-label", "label-visible")).
		OnClick("#start-btn", 40*time.Millisecond, fakesession.AddClass("#zone-subtitle", "visible")).
		OnClick("#start-btn", 60*time.Millisecond, fakesession.AddClass("#field-note-container", "visible")).
		OnClick("", 20*time.Millisecond, fakesession.AddClass("#instructions", "fade-out"))
	for _, z := range zones {
		s.OnKey(z.key, 20*time.Millisecond, fakesession.SetText("#zone-label", z.name))
	}
	return s
}

func runBuiltin(t *testing.T, sc harness.Scenario, build func() *fakesession.Session) *harness.Report {
	t.Helper()
	r := &harness.Runner{
		Opener:       fakesession.Opener(build),
		BaseURL:      "http://localhost:5173",
		OutputDir:    t.TempDir(),
		PollInterval: 10 * time.Millisecond,
		Logf:         t.Logf,
	}
	return r.Run(context.Background(), sc)
}

func TestBuiltinNames(t *testing.T) {
	var names []string
	for _, sc := range Builtin() {
		names = append(names, sc.Name)
		assert.NoError(t, sc.Validate(), sc.Name)
	}
	assert.Equal(t, []string{"app-initial", "controls-ui", "enrichment", "launch-and-start", "ui", "zones"}, names)

	sc, ok := Lookup("zones")
	require.True(t, ok)
	assert.Len(t, sc.Steps, 6)
	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestBuiltinCriticality(t *testing.T) {
	sc := ControlsUI().Normalized()
	assert.True(t, sc.Steps[0].IsCritical(), "navigation")
	assert.True(t, sc.Steps[1].IsCritical(), "first interaction")
	assert.False(t, sc.Steps[2].IsCritical(), "hint check")
}

func TestBuiltinsPass(t *testing.T) {
	for _, sc := range Builtin() {
		t.Run(sc.Name, func(t *testing.T) {
			var settle time.Duration
			for _, st := range sc.Steps {
				settle += st.Settle
			}
			if settle > 0 && testing.Short() {
				t.Skipf("settles for %v", settle)
			}
			t.Parallel()
			rep := runBuiltin(t, sc, newScene)
			require.Equal(t, harness.Passed, rep.Outcome(), rep.Summary())
			assert.Len(t, rep.Steps(), len(sc.Steps))
			for _, p := range rep.ArtifactPaths() {
				_, err := os.Stat(p)
				assert.NoError(t, err)
			}
		})
	}
}

func TestControlsUIArtifacts(t *testing.T) {
	rep := runBuiltin(t, ControlsUI(), newScene)
	require.True(t, rep.Passed(), rep.Summary())

	var names []string
	var hint string
	for _, a := range rep.Artifacts() {
		names = append(names, a.Name)
		if a.Kind == harness.ArtifactText {
			hint = a.Text
		}
	}
	assert.Equal(t, []string{"landing.png", "#controls-hint", "controls_ui.png"}, names)
	assert.Equal(t, "WASD to move, 1-5 to change zone", hint)
	assert.FileExists(t, filepath.Join(rep.Dir(), "controls_ui.png"))
}

func TestLaunchAndStartHaltsWithoutHUD(t *testing.T) {
	rep := runBuiltin(t, shorten(LaunchAndStart()), func() *fakesession.Session {
		return fakesession.New(scenePage).OnNavigate(0, fakesession.Show("#start-btn"))
	})
	assert.Equal(t, harness.Failed, rep.Outcome())
	failing := rep.FailingSteps()
	require.Len(t, failing, 1)
	assert.Equal(t, "start", failing[0].Step)
	assert.Equal(t, harness.StepTimedOut, failing[0].Outcome)
}

func TestEnrichmentDumpsMissingLabel(t *testing.T) {
	rep := runBuiltin(t, shorten(Enrichment()), func() *fakesession.Session {
		return fakesession.New(scenePage).OnNavigate(0, fakesession.Show("#start-btn"))
	})
	// Only the start button gate is critical.
	assert.Equal(t, harness.Passed, rep.Outcome())
	steps := rep.Steps()
	require.Len(t, steps, 6)
	label := steps[3]
	assert.Equal(t, harness.StepTimedOut, label.Outcome)
	var kinds []harness.ArtifactKind
	for _, a := range label.Artifacts {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []harness.ArtifactKind{harness.ArtifactScreenshot, harness.ArtifactHTML}, kinds)
	assert.Contains(t, label.Snapshot, "has .label-visible=false")
}

func TestZonesWaitForLabel(t *testing.T) {
	rep := runBuiltin(t, shorten(Zones()), func() *fakesession.Session {
		return fakesession.New(scenePage).OnClick("", 0, fakesession.AddClass("#instructions", "fade-out"))
	})
	// Zone switches are not critical.
	assert.Equal(t, harness.Passed, rep.Outcome())
	steps := rep.Steps()
	require.Len(t, steps, 6)
	for _, st := range steps[2:] {
		assert.Equal(t, harness.StepTimedOut, st.Outcome, st.Step)
		assert.Equal(t, `#zone-label text="Tundra"`, st.Snapshot, st.Step)
	}

	rep = runBuiltin(t, shorten(Zones()), newScene)
	require.Equal(t, harness.Passed, rep.Outcome(), rep.Summary())
}

// shorten caps every timeout so failing runs finish quickly.
func shorten(sc harness.Scenario) harness.Scenario {
	for i := range sc.Steps {
		sc.Steps[i].Timeout = 200 * time.Millisecond
		sc.Steps[i].Settle = 0
	}
	return sc
}
