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

// Package search parses report queries such as
// `scenario:zones outcome:failed started:>=2026-01-01 "zone label"`.
package search

import (
	"strings"
	"unicode"
)

type Operator string

const (
	OpEqual          Operator = "="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpRange          Operator = ".." // started:2026-01..2026-02
)

// Filter is a single key:value term.
type Filter struct {
	Key      string
	Value    string
	MaxValue string // OpRange only
	Operator Operator
}

// Query is a parsed query. Every filter and free text term must match.
type Query struct {
	Filters  []Filter
	FreeText []string
}

// Empty reports whether q matches everything.
func (q Query) Empty() bool {
	return len(q.Filters) == 0 && len(q.FreeText) == 0
}

// Lower returns a copy of q with free text and filter values lowercased,
// except for the keys in keep.
func (q Query) Lower(keep ...string) Query {
	out := Query{
		Filters:  make([]Filter, len(q.Filters)),
		FreeText: make([]string, len(q.FreeText)),
	}
	for i, t := range q.FreeText {
		out.FreeText[i] = strings.ToLower(t)
	}
	for i, f := range q.Filters {
		if !contains(keep, f.Key) {
			f.Value = strings.ToLower(f.Value)
			f.MaxValue = strings.ToLower(f.MaxValue)
		}
		out.Filters[i] = f
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// prefixes is ordered so that two-character operators win.
var prefixes = []Operator{OpGreaterOrEqual, OpLessOrEqual, OpGreater, OpLess}

// Parse splits input into filters and free text. Quoted strings are kept
// together and their quotes removed. A term whose value holds an unquoted
// colon is free text.
func Parse(input string) Query {
	var q Query
	for _, tok := range tokenize(input) {
		if f, ok := parseFilter(tok); ok {
			q.Filters = append(q.Filters, f)
			continue
		}
		if strings.Contains(tok, ":") && tok[0] != '"' && tok[0] != '\'' {
			q.FreeText = append(q.FreeText, tok)
			continue
		}
		q.FreeText = append(q.FreeText, unquote(tok))
	}
	return q
}

func parseFilter(tok string) (Filter, bool) {
	key, val, ok := strings.Cut(tok, ":")
	if !ok {
		return Filter{}, false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	val = strings.TrimSpace(val)
	if key == "" || val == "" || strings.HasPrefix(key, `"`) || strings.HasPrefix(key, "'") {
		return Filter{}, false
	}
	op, rest := OpEqual, val
	for _, p := range prefixes {
		if r, ok := strings.CutPrefix(val, string(p)); ok {
			op, rest = p, r
			break
		}
	}
	quoted := strings.HasPrefix(rest, `"`) || strings.HasPrefix(rest, "'")
	if strings.Contains(rest, ":") && !quoted {
		return Filter{}, false
	}
	if lo, hi, ok := strings.Cut(rest, ".."); ok && op == OpEqual && !quoted {
		return Filter{Key: key, Value: lo, MaxValue: hi, Operator: OpRange}, true
	}
	return Filter{Key: key, Value: unquote(rest), Operator: op}, true
}

func tokenize(input string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune
	for _, r := range input {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case unicode.IsSpace(r):
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		case r == '"' || r == '\'':
			quote = r
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Compare applies an ordering filter to a string value. Equality is a prefix
// match so that `started:2026-10` selects the whole month.
func Compare(value string, f Filter) bool {
	switch f.Operator {
	case OpEqual:
		return strings.HasPrefix(value, f.Value)
	case OpGreater:
		return value > f.Value
	case OpGreaterOrEqual:
		return value >= f.Value
	case OpLess:
		return value < f.Value
	case OpLessOrEqual:
		return value <= f.Value
	case OpRange:
		// "~" sorts after every digit and letter, so the upper bound is
		// inclusive of everything it prefixes.
		return value >= f.Value && value <= f.MaxValue+"~"
	}
	return false
}
