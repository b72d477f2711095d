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

// Package monitor serves a live feed of scenario runs over websockets,
// along with Prometheus metrics and recent run history.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ttbt-io/sceneverify/harness"
)

const defaultRecentRuns = 50

// Options configure a Monitor.
type Options struct {
	// Addr is the listen address of ListenAndServe, e.g. "localhost:8090".
	Addr string
	// JWKSFile or JWKSURL enable bearer token authentication.
	JWKSFile   string
	JWKSURL    string
	CookieName string
	// RecentRuns bounds the run list served by /api/runs.
	RecentRuns int
	Debug      bool
}

// RunSummary is the live state of a run.
type RunSummary struct {
	RunID       string          `json:"runId"`
	Scenario    string          `json:"scenario"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt,omitzero"`
	Outcome     harness.Outcome `json:"outcome,omitempty"`
	CurrentStep string          `json:"currentStep,omitempty"`
	StepsRun    int             `json:"stepsRun"`
	StepsPassed int             `json:"stepsPassed"`
}

// Monitor is a harness.Observer that publishes what it sees.
type Monitor struct {
	opts Options
	keys *keySource
	hub  *hub

	mu      sync.Mutex
	active  map[string]*RunSummary
	recent  []RunSummary // newest last
	history map[string]*RingBuffer[Counts]
}

var _ harness.Observer = (*Monitor)(nil)

// New returns a running Monitor. Call Close to stop it.
func New(opts Options) (*Monitor, error) {
	if opts.CookieName == "" {
		opts.CookieName = "sceneverify_auth"
	}
	if opts.RecentRuns <= 0 {
		opts.RecentRuns = defaultRecentRuns
	}
	m := &Monitor{
		opts:    opts,
		keys:    &keySource{file: opts.JWKSFile, url: opts.JWKSURL},
		hub:     newHub(),
		active:  make(map[string]*RunSummary),
		history: make(map[string]*RingBuffer[Counts]),
	}
	for _, cfg := range DefaultResolutions {
		m.history[cfg.Name] = NewRingBuffer[Counts](cfg)
	}
	switch {
	case opts.JWKSFile != "":
		if err := m.keys.refresh(); err != nil {
			return nil, err
		}
	case opts.JWKSURL != "":
		// The URL is retried when a token arrives.
		if err := m.keys.refresh(); err != nil {
			log.Printf("Warning: Failed to fetch JWKS on startup: %v", err)
		}
	default:
		log.Println("Warning: No JWKS configured. The monitor accepts unauthenticated requests.")
	}
	go m.hub.run()
	return m, nil
}

// Notify records e and forwards it to feed clients.
func (m *Monitor) Notify(e harness.Event) {
	msg := Message{
		RunID:    e.RunID,
		Scenario: e.Scenario,
		Time:     e.Time,
		Index:    e.Index,
		Step:     e.Step,
	}
	m.mu.Lock()
	switch e.Type {
	case harness.EventRunStarted:
		msg.Type = MsgTypeRunStarted
		m.active[e.RunID] = &RunSummary{RunID: e.RunID, Scenario: e.Scenario, StartedAt: e.Time}
		metricRunsActive.Inc()
	case harness.EventStepStarted:
		msg.Type = MsgTypeStepStarted
		if rs := m.active[e.RunID]; rs != nil {
			rs.CurrentStep = e.Step
		}
	case harness.EventStepFinished:
		msg.Type = MsgTypeStepFinished
		if res := e.Result; res != nil {
			msg.Outcome = string(res.Outcome)
			msg.Critical = res.Critical
			msg.Forced = res.Forced
			msg.ElapsedMS = res.Elapsed.Milliseconds()
			msg.Error = res.Error
			if !res.Passed() {
				msg.Snapshot = res.Snapshot
			}
			metricSteps.WithLabelValues(e.Scenario, string(res.Outcome)).Inc()
			metricStepDuration.WithLabelValues(e.Scenario).Observe(res.Elapsed.Seconds())
			if res.Forced {
				metricForcedClicks.WithLabelValues(e.Scenario).Inc()
			}
			if rs := m.active[e.RunID]; rs != nil {
				rs.StepsRun++
				if res.Passed() {
					rs.StepsPassed++
				}
			}
		}
	case harness.EventRunFinished:
		msg.Type = MsgTypeRunFinished
		msg.Outcome = string(e.Outcome)
		msg.ElapsedMS = e.Elapsed.Milliseconds()
		m.finishLocked(e)
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.hub.publish(msg)
}

func (m *Monitor) finishLocked(e harness.Event) {
	rs, ok := m.active[e.RunID]
	if ok {
		delete(m.active, e.RunID)
		metricRunsActive.Dec()
	} else {
		rs = &RunSummary{RunID: e.RunID, Scenario: e.Scenario}
	}
	rs.FinishedAt = e.Time
	rs.Outcome = e.Outcome
	rs.CurrentStep = ""
	m.recent = append(m.recent, *rs)
	if over := len(m.recent) - m.opts.RecentRuns; over > 0 {
		m.recent = slices.Delete(m.recent, 0, over)
	}
	metricRuns.WithLabelValues(e.Scenario, string(e.Outcome)).Inc()

	ts := e.Time.Unix()
	for _, rb := range m.history {
		rb.Update(ts, func(c *Counts) {
			switch e.Outcome {
			case harness.Passed:
				c.Passed++
			case harness.Failed:
				c.Failed++
			case harness.Aborted:
				c.Aborted++
			}
		})
	}
}

// Runs returns the runs in progress followed by finished runs, newest
// first.
func (m *Monitor) Runs() []RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunSummary, 0, len(m.active)+len(m.recent))
	for _, rs := range m.active {
		out = append(out, *rs)
	}
	slices.SortFunc(out, func(a, b RunSummary) int { return b.StartedAt.Compare(a.StartedAt) })
	for i := len(m.recent) - 1; i >= 0; i-- {
		out = append(out, m.recent[i])
	}
	return out
}

// History returns outcome counts at the named resolution.
func (m *Monitor) History(resolution string) ([]Point[Counts], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rb, ok := m.history[resolution]
	if !ok {
		return nil, false
	}
	return rb.Points(), true
}

// Handler returns the monitor's HTTP routes.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", m.requireAuth(http.HandlerFunc(m.serveWS)))
	mux.Handle("GET /api/runs", m.requireAuth(http.HandlerFunc(m.handleRuns)))
	mux.Handle("GET /api/history", m.requireAuth(http.HandlerFunc(m.handleHistory)))
	mux.Handle("GET /metrics", m.requireAuth(promhttp.Handler()))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (m *Monitor) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.Runs())
}

func (m *Monitor) handleHistory(w http.ResponseWriter, r *http.Request) {
	res := r.URL.Query().Get("resolution")
	if res == "" {
		res = DefaultResolutions[0].Name
	}
	points, ok := m.History(res)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown resolution %q", res), http.StatusBadRequest)
		return
	}
	writeJSON(w, points)
}

func (m *Monitor) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	c := &wsClient{
		hub:      m.hub,
		conn:     conn,
		send:     make(chan Message, 256),
		subject:  Subject(r),
		scenario: r.URL.Query().Get("scenario"),
	}
	select {
	case m.hub.register <- c:
	case <-m.hub.done:
		conn.Close()
		return
	}
	if m.opts.Debug {
		log.Printf("Feed client connected (subject %q)", c.subject)
	}
	go c.writePump()
	go c.readPump()
}

// ListenAndServe serves Handler on opts.Addr until ctx is done.
func (m *Monitor) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.opts.Addr)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return m.Serve(ctx, ln)
}

// Serve serves Handler on ln until ctx is done.
func (m *Monitor) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	})
	defer stop()
	log.Printf("Monitor listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects every feed client.
func (m *Monitor) Close() {
	m.hub.stop()
}
