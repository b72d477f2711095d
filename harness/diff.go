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
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Fingerprint renders the parts of a report that should be identical across
// repeated runs of the same scenario against the same application. Timings,
// IDs and snapshots are left out.
func Fingerprint(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", r.Scenario())
	fmt.Fprintf(&b, "outcome %s\n", r.Outcome())
	if reason := r.AbortReason(); reason != "" {
		fmt.Fprintf(&b, "aborted %s\n", reason)
	}
	for _, s := range r.Steps() {
		crit := "non-critical"
		if s.Critical {
			crit = "critical"
		}
		fmt.Fprintf(&b, "step %d %q %s: %s [%s] %s\n", s.Index, s.Step, s.Action, s.WaitFor, crit, s.Outcome)
		if s.Forced {
			b.WriteString("  forced\n")
		}
		if s.Error != "" {
			fmt.Fprintf(&b, "  error %s\n", s.Error)
		}
		for _, a := range s.Artifacts {
			if a.Kind == ArtifactScreenshot {
				fmt.Fprintf(&b, "  %s %s\n", a.Kind, a.Name)
			} else {
				fmt.Fprintf(&b, "  %s %s %q\n", a.Kind, a.Name, a.Text)
			}
		}
	}
	return b.String()
}

// Diff returns a unified diff between the fingerprints of two reports. It is
// empty when the runs behaved the same.
func Diff(a, b *Report) string {
	fa, fb := Fingerprint(a), Fingerprint(b)
	if fa == fb {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(fa),
		B:        difflib.SplitLines(fb),
		FromFile: a.ID(),
		ToFile:   b.ID(),
		Context:  3,
	})
	if err != nil {
		return fmt.Sprintf("diff failed: %v", err)
	}
	return diff
}
