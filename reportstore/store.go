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

// Package reportstore keeps run reports on disk, optionally encrypted, and
// answers queries over them.
package reportstore

import (
	"errors"
	"fmt"
	"iter"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/search"
)

const (
	reportsDir    = "reports"
	metaCacheSize = 1024
	keyFileName   = "master.key"
)

// ErrNotSealed is returned when saving a report that is still being written.
var ErrNotSealed = errors.New("report is not sealed")

// Meta is the index entry of a stored report.
type Meta struct {
	ID          string          `json:"id"`
	Scenario    string          `json:"scenario"`
	Outcome     harness.Outcome `json:"outcome"`
	AbortReason string          `json:"abortReason,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
	Elapsed     time.Duration   `json:"elapsed"`
	TotalSteps  int             `json:"totalSteps"`
	StepsRun    int             `json:"stepsRun"`
	StepsPassed int             `json:"stepsPassed"`
	Failing     []string        `json:"failing,omitempty"`
	Forced      int             `json:"forced,omitempty"`
	Artifacts   int             `json:"artifacts"`
	Dir         string          `json:"dir"`
	// Latency is the distribution of the run's step durations.
	Latency *harness.Histogram `json:"latency,omitempty"`
}

// MetaOf summarizes rep.
func MetaOf(rep *harness.Report) Meta {
	m := Meta{
		ID:          rep.ID(),
		Scenario:    rep.Scenario(),
		Outcome:     rep.Outcome(),
		AbortReason: rep.AbortReason(),
		StartedAt:   rep.StartedAt(),
		FinishedAt:  rep.FinishedAt(),
		Elapsed:     rep.Elapsed(),
		TotalSteps:  rep.TotalSteps(),
		Artifacts:   len(rep.Artifacts()),
		Dir:         rep.Dir(),
		Latency:     rep.Latency(),
	}
	for _, s := range rep.Steps() {
		m.StepsRun++
		if s.Passed() {
			m.StepsPassed++
		} else {
			m.Failing = append(m.Failing, s.Step)
		}
		if s.Forced {
			m.Forced++
		}
	}
	return m
}

// Store persists reports under a data directory.
type Store struct {
	DataDir string
	Debug   bool

	storage *storage.Storage
	mu      sync.Map // id -> *sync.RWMutex
	meta    *lru.Cache[string, Meta]
}

// New returns a Store writing to dataDir. A nil masterKey stores reports
// unencrypted.
func New(dataDir string, masterKey crypto.MasterKey) (*Store, error) {
	cache, err := lru.New[string, Meta](metaCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		DataDir: dataDir,
		storage: storage.New(dataDir, masterKey),
		meta:    cache,
	}, nil
}

// OpenMasterKey loads the master key protected by passphrase from dataDir,
// creating it on first use. An empty passphrase means no encryption, which
// is refused when a key file already exists.
func OpenMasterKey(dataDir, passphrase string) (crypto.MasterKey, error) {
	keyFile := filepath.Join(dataDir, keyFileName)
	if passphrase == "" {
		if _, err := os.Stat(keyFile); err == nil {
			return nil, fmt.Errorf("%s exists but no passphrase was provided, refusing to read encrypted reports", keyFile)
		}
		log.Println("Warning: No master key passphrase provided. Reports will be stored UNENCRYPTED.")
		return nil, nil
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	mk, err := crypto.ReadMasterKey([]byte(passphrase), keyFile)
	if err == nil {
		log.Println("Loaded master encryption key.")
		return mk, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}
	log.Println("Initializing new master encryption key...")
	if mk, err = crypto.CreateMasterKey(); err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	if err := mk.Save([]byte(passphrase), keyFile); err != nil {
		return nil, fmt.Errorf("failed to save master key: %w", err)
	}
	return mk, nil
}

func (s *Store) lock(id string) *sync.RWMutex {
	m, _ := s.mu.LoadOrStore(id, &sync.RWMutex{})
	return m.(*sync.RWMutex)
}

func fileNames(id string) (report, meta string) {
	enc := url.PathEscape(id)
	return filepath.Join(reportsDir, enc+".json"), filepath.Join(reportsDir, enc+".meta.json")
}

// Save stores a sealed report and its index entry.
func (s *Store) Save(rep *harness.Report) (Meta, error) {
	if !rep.Sealed() {
		return Meta{}, ErrNotSealed
	}
	meta := MetaOf(rep)
	mu := s.lock(meta.ID)
	mu.Lock()
	defer mu.Unlock()

	reportFile, metaFile := fileNames(meta.ID)
	if err := s.storage.SaveDataFile(reportFile, rep); err != nil {
		return Meta{}, fmt.Errorf("storage.SaveDataFile: %w", err)
	}
	if err := s.storage.SaveDataFile(metaFile, &meta); err != nil {
		// The report itself is readable, List falls back to it.
		log.Printf("Warning: Failed to save metadata sidecar for report %s: %v", meta.ID, err)
	}
	s.meta.Add(meta.ID, meta)
	if s.Debug {
		log.Printf("Stored report %s (%s, %s)", meta.ID, meta.Scenario, meta.Outcome)
	}
	return meta, nil
}

// Load reads a stored report. It returns os.ErrNotExist for unknown ids.
func (s *Store) Load(id string) (*harness.Report, error) {
	mu := s.lock(id)
	mu.RLock()
	defer mu.RUnlock()

	reportFile, _ := fileNames(id)
	rep := new(harness.Report)
	if err := s.storage.ReadDataFile(reportFile, rep); err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	return rep, nil
}

// Meta returns the index entry of a stored report.
func (s *Store) Meta(id string) (Meta, error) {
	if m, ok := s.meta.Get(id); ok {
		return m, nil
	}
	mu := s.lock(id)
	mu.RLock()
	_, metaFile := fileNames(id)
	var m Meta
	err := s.storage.ReadDataFile(metaFile, &m)
	mu.RUnlock()
	if err != nil {
		if s.Debug {
			log.Printf("No metadata sidecar for report %s: %v", id, err)
		}
		rep, err := s.Load(id)
		if err != nil {
			return Meta{}, err
		}
		m = MetaOf(rep)
	}
	s.meta.Add(id, m)
	return m, nil
}

// Delete removes a stored report. Artifacts on disk are left alone.
func (s *Store) Delete(id string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	s.meta.Remove(id)
	reportFile, metaFile := fileNames(id)
	if err := os.Remove(filepath.Join(s.DataDir, reportFile)); err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		return fmt.Errorf("could not delete report file: %w", err)
	}
	if err := os.Remove(filepath.Join(s.DataDir, metaFile)); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not delete meta file for report %s: %v", id, err)
	}
	return nil
}

// List yields the index entry of every stored report, in no particular
// order.
func (s *Store) List() iter.Seq2[Meta, error] {
	return func(yield func(Meta, error) bool) {
		files, err := os.ReadDir(filepath.Join(s.DataDir, reportsDir))
		if err != nil {
			if !os.IsNotExist(err) {
				yield(Meta{}, fmt.Errorf("could not read reports directory: %w", err))
			}
			return
		}
		seen := make(map[string]bool)
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			enc := strings.TrimSuffix(strings.TrimSuffix(name, ".json"), ".meta")
			id, err := url.PathUnescape(enc)
			if err != nil || seen[id] {
				continue
			}
			seen[id] = true
			m, err := s.Meta(id)
			if err != nil {
				log.Printf("Warning: failed to load report %s: %v", id, err)
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

// Find returns the reports matching query, newest first. See the search
// package for the syntax. Supported keys: id, scenario, outcome, is, step
// (a failing step), started, elapsed.
func (s *Store) Find(query string) ([]Meta, error) {
	q := search.Parse(query).Lower("started", "id")
	var out []Meta
	for m, err := range s.List() {
		if err != nil {
			return nil, err
		}
		if Matches(m, q) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b Meta) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out, nil
}

// Previous returns the newest report of scenario started before t.
func (s *Store) Previous(scenario string, t time.Time) (Meta, bool, error) {
	var best Meta
	found := false
	for m, err := range s.List() {
		if err != nil {
			return Meta{}, false, err
		}
		if m.Scenario != scenario || !m.StartedAt.Before(t) {
			continue
		}
		if !found || m.StartedAt.After(best.StartedAt) {
			best, found = m, true
		}
	}
	return best, found, nil
}

func containsLower(s, substrLower string) bool {
	return strings.Contains(strings.ToLower(s), substrLower)
}

// Matches reports whether m satisfies q. Filter values and free text must
// already be lowercased.
func Matches(m Meta, q search.Query) bool {
	for _, tok := range q.FreeText {
		match := containsLower(m.Scenario, tok) || containsLower(m.AbortReason, tok)
		for _, f := range m.Failing {
			match = match || containsLower(f, tok)
		}
		if !match {
			return false
		}
	}
	for _, f := range q.Filters {
		var ok bool
		switch f.Key {
		case "id":
			ok = strings.HasPrefix(m.ID, f.Value)
		case "scenario":
			ok = containsLower(m.Scenario, f.Value)
		case "outcome", "is":
			ok = string(m.Outcome) == f.Value || (f.Value == "forced" && m.Forced > 0)
		case "step":
			ok = slices.ContainsFunc(m.Failing, func(s string) bool { return containsLower(s, f.Value) })
		case "started":
			ok = search.Compare(m.StartedAt.UTC().Format(time.RFC3339), f)
		case "elapsed":
			ok = compareDuration(m.Elapsed, f)
		default:
			ok = true
		}
		if !ok {
			return false
		}
	}
	return true
}

func compareDuration(d time.Duration, f search.Filter) bool {
	v, err := time.ParseDuration(f.Value)
	if err != nil {
		return false
	}
	switch f.Operator {
	case search.OpGreater:
		return d > v
	case search.OpGreaterOrEqual:
		return d >= v
	case search.OpLess:
		return d < v
	case search.OpLessOrEqual:
		return d <= v
	case search.OpRange:
		hi, err := time.ParseDuration(f.MaxValue)
		return err == nil && d >= v && d <= hi
	}
	return d == v
}
