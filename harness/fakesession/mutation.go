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
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ttbt-io/sceneverify/harness"
)

func AddClass(selector, class string) Mutation {
	return func(s *Session) {
		s.doc.Find(selector).AddClass(class)
	}
}

func RemoveClass(selector, class string) Mutation {
	return func(s *Session) {
		s.doc.Find(selector).RemoveClass(class)
	}
}

func SetText(selector, text string) Mutation {
	return func(s *Session) {
		s.doc.Find(selector).SetText(text)
	}
}

// Show clears everything that hides the matched elements.
func Show(selector string) Mutation {
	return func(s *Session) {
		el := s.doc.Find(selector)
		el.RemoveAttr("hidden").RemoveClass("hidden")
		el.Each(func(_ int, e *goquery.Selection) {
			if style, ok := e.Attr("style"); ok {
				e.SetAttr("style", stripHiding(style))
			}
		})
	}
}

// Hide sets display:none on the matched elements.
func Hide(selector string) Mutation {
	return func(s *Session) {
		s.doc.Find(selector).SetAttr("style", "display: none")
	}
}

// Emit writes a console message.
func Emit(level harness.ConsoleLevel, text string) Mutation {
	return func(s *Session) {
		s.logLocked(level, text)
	}
}

// Func runs an arbitrary edit on the document.
func Func(fn func(doc *goquery.Document)) Mutation {
	return func(s *Session) {
		fn(s.doc)
	}
}

// visible mirrors the browser check: the element and all of its ancestors
// must be rendered and not transparent.
func visible(el *goquery.Selection) bool {
	hidden := false
	el.AddSelection(el.Parents()).EachWithBreak(func(_ int, e *goquery.Selection) bool {
		if _, ok := e.Attr("hidden"); ok || e.HasClass("hidden") {
			hidden = true
			return false
		}
		if style, ok := e.Attr("style"); ok && hides(style) {
			hidden = true
			return false
		}
		return true
	})
	return !hidden
}

func declarations(style string) []string {
	var out []string
	for _, d := range strings.Split(style, ";") {
		d = strings.ToLower(strings.Join(strings.Fields(d), ""))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func hiding(decl string) bool {
	switch decl {
	case "display:none", "visibility:hidden", "opacity:0":
		return true
	}
	return false
}

func hides(style string) bool {
	for _, d := range declarations(style) {
		if hiding(d) {
			return true
		}
	}
	return false
}

func stripHiding(style string) string {
	var keep []string
	for _, d := range declarations(style) {
		if !hiding(d) {
			keep = append(keep, d)
		}
	}
	return strings.Join(keep, ";")
}
