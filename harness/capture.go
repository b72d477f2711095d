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
	"os"
	"path/filepath"
	"strings"
)

// ArtifactKind identifies what a capture produced.
type ArtifactKind string

const (
	ArtifactScreenshot ArtifactKind = "screenshot"
	ArtifactText       ArtifactKind = "text"
	ArtifactHTML       ArtifactKind = "html"
)

// Artifact is the output of a Capture.
type Artifact struct {
	Kind ArtifactKind `json:"kind"`
	Name string       `json:"name"`
	// Path is set for artifacts written to disk.
	Path string `json:"path,omitempty"`
	// Text is set for extracted text and HTML dumps.
	Text string `json:"text,omitempty"`
}

// Capture records evidence about the current state of a Session.
type Capture interface {
	Capture(ctx context.Context, s Session, dir string) (Artifact, error)
	String() string
}

// Screenshot saves a PNG of the viewport as dir/Name.
type Screenshot struct {
	Name              string
	DisableAnimations bool
}

func (c Screenshot) Capture(ctx context.Context, s Session, dir string) (Artifact, error) {
	if !filepath.IsLocal(c.Name) {
		return Artifact{}, &CaptureError{Capture: c.String(), Err: fmt.Errorf("%q is not a local file name", c.Name)}
	}
	path := filepath.Join(dir, c.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Artifact{}, &CaptureError{Capture: c.String(), Err: err}
	}
	if err := s.Screenshot(ctx, path, ScreenshotOptions{DisableAnimations: c.DisableAnimations}); err != nil {
		return Artifact{}, &CaptureError{Capture: c.String(), Err: err}
	}
	return Artifact{Kind: ArtifactScreenshot, Name: c.Name, Path: path}, nil
}

func (c Screenshot) String() string {
	return "screenshot " + c.Name
}

// ExtractText records the trimmed text content of the element matching Selector.
type ExtractText struct {
	Selector string
}

func (c ExtractText) Capture(ctx context.Context, s Session, _ string) (Artifact, error) {
	text, err := s.InnerText(ctx, c.Selector)
	if err != nil {
		return Artifact{}, &CaptureError{Capture: c.String(), Err: err}
	}
	return Artifact{Kind: ArtifactText, Name: c.Selector, Text: strings.TrimSpace(text)}, nil
}

func (c ExtractText) String() string {
	return "text " + c.Selector
}

// DumpHTML records the outer HTML of the element matching Selector.
type DumpHTML struct {
	Selector string
}

func (c DumpHTML) Capture(ctx context.Context, s Session, _ string) (Artifact, error) {
	html, err := s.OuterHTML(ctx, c.Selector)
	if err != nil {
		return Artifact{}, &CaptureError{Capture: c.String(), Err: err}
	}
	return Artifact{Kind: ArtifactHTML, Name: c.Selector, Text: html}, nil
}

func (c DumpHTML) String() string {
	return "html " + c.Selector
}

func screenshotNames(cs []Capture) []string {
	var names []string
	for _, c := range cs {
		switch sc := c.(type) {
		case Screenshot:
			names = append(names, sc.Name)
		case *Screenshot:
			names = append(names, sc.Name)
		}
	}
	return names
}

func hasScreenshot(cs []Capture) bool {
	return len(screenshotNames(cs)) > 0
}

// writtenScreenshots lists every file name the step may write, including
// the error screenshot added when OnFailure declares none.
func writtenScreenshots(st Step) []string {
	names := append(screenshotNames(st.OnSuccess), screenshotNames(st.OnFailure)...)
	if !hasScreenshot(st.OnFailure) {
		names = append(names, errorScreenshotName(st.Name))
	}
	return names
}

// Slug turns a human name into a file-system friendly identifier.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func errorScreenshotName(step string) string {
	return fmt.Sprintf("error_%s.png", strings.ReplaceAll(Slug(step), "-", "_"))
}
