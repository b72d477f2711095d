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
	"errors"
	"fmt"
	"path/filepath"
	"slices"
)

// Scenario is an ordered, branch-free list of steps run against one session.
type Scenario struct {
	Name        string
	Description string
	Steps       []Step
}

// Slug is the scenario's directory name under the output directory.
func (sc Scenario) Slug() string {
	if s := Slug(sc.Name); s != "" {
		return s
	}
	return "scenario"
}

// Validate checks every step and the artifact names across the scenario.
func (sc Scenario) Validate() error {
	var errs []error
	if sc.Name == "" {
		errs = append(errs, errors.New("scenario name is required"))
	}
	if len(sc.Steps) == 0 {
		errs = append(errs, fmt.Errorf("scenario %q has no steps", sc.Name))
	}
	names := make(map[string]bool)
	files := make(map[string]string)
	for i, st := range sc.Steps {
		if err := st.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i+1, err))
		}
		if st.Name != "" && names[st.Name] {
			errs = append(errs, fmt.Errorf("step %d: duplicate step name %q", i+1, st.Name))
		}
		names[st.Name] = true
		for _, n := range writtenScreenshots(st) {
			key := filepath.Clean(n)
			if other, ok := files[key]; ok && other != st.Name {
				errs = append(errs, fmt.Errorf("step %d: screenshot %q already written by step %q", i+1, n, other))
			}
			files[key] = st.Name
		}
	}
	return errors.Join(errs...)
}

// Normalized returns a copy of the scenario with every step's criticality
// resolved. Unless set explicitly, navigation steps and the first user
// interaction are critical and everything else is not.
func (sc Scenario) Normalized() Scenario {
	out := sc
	out.Steps = slices.Clone(sc.Steps)
	seenInteraction := false
	for i := range out.Steps {
		st := &out.Steps[i]
		first := false
		if isInteraction(st.Action) && !seenInteraction {
			seenInteraction = true
			first = true
		}
		if st.Criticality != CriticalityDefault {
			continue
		}
		if isNavigate(st.Action) || first {
			st.Criticality = Critical
		} else {
			st.Criticality = NonCritical
		}
	}
	return out
}
