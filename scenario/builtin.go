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
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ttbt-io/sceneverify/harness"
)

// Builtin returns the scenarios that ship with the binary, sorted by name.
func Builtin() []harness.Scenario {
	out := []harness.Scenario{
		LaunchAndStart(),
		AppInitial(),
		Enrichment(),
		UI(),
		ControlsUI(),
		Zones(),
	}
	slices.SortFunc(out, func(a, b harness.Scenario) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Lookup returns the builtin scenario with the given name.
func Lookup(name string) (harness.Scenario, bool) {
	for _, sc := range Builtin() {
		if sc.Name == name {
			return sc, true
		}
	}
	return harness.Scenario{}, false
}

func shot(name string) harness.Capture {
	return harness.Screenshot{Name: name}
}

// LaunchAndStart loads the landing screen and starts the experience.
func LaunchAndStart() harness.Scenario {
	return harness.Scenario{
		Name:        "launch-and-start",
		Description: "Landing screen loads and the start button brings up the HUD.",
		Steps: []harness.Step{
			{
				Name:        "load",
				Action:      harness.Navigate{URL: "/"},
				WaitFor:     harness.SelectorVisible{Selector: "#start-btn"},
				Timeout:     30 * time.Second,
				Criticality: harness.Critical,
				OnSuccess:   []harness.Capture{shot("launch_landing.png")},
			},
			{
				Name:        "start",
				Action:      harness.Click{Selector: "#start-btn"},
				WaitFor:     harness.SelectorHasClass{Selector: "#ui", Class: "visible"},
				Timeout:     60 * time.Second,
				Criticality: harness.Critical,
				OnSuccess:   []harness.Capture{shot("launch_hud.png")},
			},
		},
	}
}

// AppInitial checks that the scene renders and that the first click clears
// the instructions overlay.
func AppInitial() harness.Scenario {
	return harness.Scenario{
		Name:        "app-initial",
		Description: "Scene renders, then a click in the centre dismisses the overlay.",
		Steps: []harness.Step{
			{
				Name:    "canvas",
				Action:  harness.Navigate{URL: "/"},
				WaitFor: harness.SelectorVisible{Selector: "canvas"},
				Timeout: 30 * time.Second,
				// Terrain generation has no DOM signal.
				Settle:    3 * time.Second,
				OnSuccess: []harness.Capture{shot("verification_initial.png")},
			},
			{
				Name:    "dismiss overlay",
				Action:  harness.Click{X: 640, Y: 360},
				WaitFor: harness.SelectorHasClass{Selector: "#instructions", Class: "fade-out"},
				Timeout: 10 * time.Second,
				// The fade-out class is set when the CSS transition starts.
				Settle:    2 * time.Second,
				OnSuccess: []harness.Capture{shot("verification_clean.png")},
			},
		},
	}
}

// Enrichment follows the intro sequence: zone label, subtitle and the first
// field note.
func Enrichment() harness.Scenario {
	return harness.Scenario{
		Name:        "enrichment",
		Description: "Zone label, subtitle and field note appear after starting.",
		Steps: []harness.Step{
			{
				Name:    "load",
				Action:  harness.Navigate{URL: "/"},
				Timeout: 60 * time.Second,
			},
			{
				Name:        "start button",
				WaitFor:     harness.SelectorVisible{Selector: "#start-btn"},
				Timeout:     30 * time.Second,
				Criticality: harness.Critical,
				OnFailure:   []harness.Capture{shot("verification_error_start.png")},
			},
			{
				Name: "start",
				// The button is animated in and fails hit testing while it moves.
				Action:  harness.Click{Selector: "#start-btn", Force: true},
				Timeout: 10 * time.Second,
			},
			{
				Name:    "zone label",
				WaitFor: harness.SelectorHasClass{Selector: "#zone-label", Class: "label-visible"},
				Timeout: 10 * time.Second,
				OnFailure: []harness.Capture{
					shot("verification_error_label.png"),
					harness.DumpHTML{Selector: "#zone-label-container"},
				},
			},
			{
				Name:    "zone subtitle",
				WaitFor: harness.SelectorHasClass{Selector: "#zone-subtitle", Class: "visible"},
				Timeout: 10 * time.Second,
				OnSuccess: []harness.Capture{
					harness.ExtractText{Selector: "#zone-subtitle"},
					shot("verification_intro.png"),
				},
				OnFailure: []harness.Capture{shot("verification_error_subtitle.png")},
			},
			{
				Name:    "field note",
				WaitFor: harness.SelectorHasClass{Selector: "#field-note-container", Class: "visible"},
				// Notes are triggered by camera position, which moves on its own.
				Timeout: 30 * time.Second,
				OnSuccess: []harness.Capture{
					harness.ExtractText{Selector: "#field-note-text"},
					shot("verification_field_note.png"),
				},
				OnFailure: []harness.Capture{
					shot("verification_error_fieldnote.png"),
					harness.DumpHTML{Selector: "#field-note-container"},
				},
			},
		},
	}
}

// UI walks from the landing screen to the HUD and the settings menu.
func UI() harness.Scenario {
	return harness.Scenario{
		Name:        "ui",
		Description: "Landing screen, HUD and settings menu.",
		Steps: []harness.Step{
			{
				Name:      "landing",
				Action:    harness.Navigate{URL: "/"},
				WaitFor:   harness.SelectorVisible{Selector: "#start-btn"},
				Timeout:   30 * time.Second,
				OnSuccess: []harness.Capture{shot("verification_1_landing.png")},
				OnFailure: []harness.Capture{shot("verification_error_landing.png")},
			},
			{
				Name:    "hud",
				Action:  harness.Click{Selector: "#start-btn"},
				WaitFor: harness.SelectorHasClass{Selector: "#ui", Class: "visible"},
				Timeout: 60 * time.Second,
				// HUD fades in after the class is applied.
				Settle:    time.Second,
				OnSuccess: []harness.Capture{shot("verification_2_hud.png")},
				OnFailure: []harness.Capture{shot("verification_error_hud.png")},
			},
			{
				Name:    "settings button",
				WaitFor: harness.SelectorVisible{Selector: "#settings-btn"},
				Timeout: 10 * time.Second,
			},
			{
				Name: "settings",
				// Overlapping layers confuse hit testing on the settings button.
				Action:  harness.Click{Selector: "#settings-btn", Force: true},
				Timeout: 10 * time.Second,
				// The menu fades in and exposes no ready state.
				Settle:    2 * time.Second,
				OnSuccess: []harness.Capture{shot("verification_3_settings.png")},
				OnFailure: []harness.Capture{shot("verification_error_settings.png")},
			},
		},
	}
}

// ControlsUI starts the experience through a DOM click and checks the
// control hints.
func ControlsUI() harness.Scenario {
	return harness.Scenario{
		Name:        "controls-ui",
		Description: "HUD shows the control hints after a script-initiated start.",
		Steps: []harness.Step{
			{
				Name:      "landing",
				Action:    harness.Navigate{URL: "/index.html"},
				WaitFor:   harness.SelectorVisible{Selector: "#start-btn"},
				Timeout:   30 * time.Second,
				OnSuccess: []harness.Capture{shot("landing.png")},
			},
			{
				Name:    "start",
				Action:  harness.DispatchClick{ID: "start-btn"},
				WaitFor: harness.SelectorHasClass{Selector: "#ui", Class: "visible"},
				Timeout: 60 * time.Second,
				// Fade in of the HUD.
				Settle:    2 * time.Second,
				OnFailure: []harness.Capture{shot("ui_timeout.png")},
			},
			{
				Name:    "controls hint",
				WaitFor: harness.SelectorVisible{Selector: "#controls-hint"},
				Timeout: 10 * time.Second,
				OnSuccess: []harness.Capture{
					harness.ExtractText{Selector: "#controls-hint"},
					harness.Screenshot{Name: "controls_ui.png", DisableAnimations: true},
				},
			},
		},
	}
}

var zones = []struct {
	key, name string
}{
	{"2", "mountain"},
	{"3", "river"},
	{"4", "forest"},
	{"5", "sky"},
}

// Zones steps through every zone with the number keys.
func Zones() harness.Scenario {
	sc := harness.Scenario{
		Name:        "zones",
		Description: "Number keys switch between the five zones.",
		Steps: []harness.Step{
			{
				Name:    "load",
				Action:  harness.Navigate{URL: "/"},
				WaitFor: harness.SelectorVisible{Selector: "canvas"},
				Timeout: 30 * time.Second,
			},
			{
				Name:    "tundra",
				Action:  harness.Click{X: 100, Y: 100},
				WaitFor: harness.SelectorHasClass{Selector: "#instructions", Class: "fade-out"},
				Timeout: 10 * time.Second,
				// Overlay fade.
				Settle:    2 * time.Second,
				OnSuccess: []harness.Capture{shot("zone1_tundra.png")},
			},
		},
	}
	// The app's keydown handler rewrites #zone-label to "Zone n: Name", so
	// each step waits for the new name instead of a fixed delay.
	for i, z := range zones {
		sc.Steps = append(sc.Steps, harness.Step{
			Name:    z.name,
			Action:  harness.PressKey{Key: z.key},
			WaitFor: harness.TextMatches{Selector: "#zone-label", Pattern: regexp.MustCompile(`(?i)\b` + z.name + `\b`)},
			Timeout: 10 * time.Second,
			// The label switches before the scene finishes fading in.
			Settle:    time.Second,
			OnSuccess: []harness.Capture{shot(zoneShot(i+2, z.name))},
		})
	}
	return sc
}

func zoneShot(n int, name string) string {
	return "zone" + string(rune('0'+n)) + "_" + name + ".png"
}
