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

package monitor

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/harness/fakesession"
)

func newMonitor(t *testing.T, opts Options) (*Monitor, *httptest.Server) {
	t.Helper()
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(m.Handler())
	t.Cleanup(func() {
		m.Close()
		srv.Close()
	})
	return m, srv
}

// dial connects to the feed and waits until the hub knows the client.
func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.WriteJSON(Message{Type: MsgTypePing}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := read(t, conn); msg.Type != MsgTypePong {
		t.Fatalf("got %s, want PONG", msg.Type)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestFeedFollowsRun(t *testing.T) {
	m, srv := newMonitor(t, Options{})
	conn := dial(t, srv, "")

	r := &harness.Runner{
		Opener: fakesession.Opener(func() *fakesession.Session {
			return fakesession.New(`<html><body><button id="go">Go</button><div id="out"></div></body></html>`).
				OnClick("#go", 0, fakesession.AddClass("#out", "done"))
		}),
		BaseURL:      "http://app.test",
		OutputDir:    t.TempDir(),
		PollInterval: 10 * time.Millisecond,
		Observer:     m,
		Logf:         t.Logf,
	}
	rep := r.Run(context.Background(), harness.Scenario{
		Name: "feed",
		Steps: []harness.Step{
			{Name: "load", Action: harness.Navigate{URL: "/"}, WaitFor: harness.SelectorVisible{Selector: "#go"}, Timeout: time.Second},
			{Name: "go", Action: harness.Click{Selector: "#go"}, WaitFor: harness.SelectorHasClass{Selector: "#out", Class: "done"}, Timeout: time.Second},
		},
	})
	if !rep.Passed() {
		t.Fatalf("run failed:\n%s", rep.Summary())
	}

	var types []string
	for {
		msg := read(t, conn)
		if msg.RunID != rep.ID() {
			t.Fatalf("message for run %q, want %q", msg.RunID, rep.ID())
		}
		types = append(types, msg.Type)
		if msg.Type == MsgTypeRunFinished {
			if msg.Outcome != string(harness.Passed) {
				t.Errorf("RUN_FINISHED outcome = %q", msg.Outcome)
			}
			break
		}
	}
	want := []string{
		MsgTypeRunStarted,
		MsgTypeStepStarted, MsgTypeStepFinished,
		MsgTypeStepStarted, MsgTypeStepFinished,
		MsgTypeRunFinished,
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("feed = %v, want %v", types, want)
	}

	runs := m.Runs()
	if len(runs) != 1 || runs[0].StepsPassed != 2 || runs[0].Outcome != harness.Passed {
		t.Errorf("Runs() = %+v", runs)
	}
}

func TestSubscribeFiltersScenarios(t *testing.T) {
	m, srv := newMonitor(t, Options{})
	conn := dial(t, srv, "?scenario=a")

	if err := conn.WriteJSON(Message{Type: MsgTypeSubscribe, Scenario: "b"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := read(t, conn); msg.Type != MsgTypeAck || msg.Scenario != "b" {
		t.Fatalf("got %+v, want ACK for b", msg)
	}
	now := time.Now()
	m.Notify(harness.Event{Type: harness.EventRunStarted, RunID: "1", Scenario: "a", Time: now})
	m.Notify(harness.Event{Type: harness.EventRunStarted, RunID: "2", Scenario: "b", Time: now})
	if msg := read(t, conn); msg.RunID != "2" {
		t.Errorf("got run %q, want 2", msg.RunID)
	}

	if err := conn.WriteJSON(Message{Type: "BOGUS"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := read(t, conn); msg.Type != MsgTypeError {
		t.Errorf("got %s, want ERROR", msg.Type)
	}
}

func TestRunsAndHistory(t *testing.T) {
	m, srv := newMonitor(t, Options{RecentRuns: 2})
	base := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	outcomes := []harness.Outcome{harness.Passed, harness.Failed, harness.Aborted}
	for i, o := range outcomes {
		id := string(rune('a' + i))
		start := base.Add(time.Duration(i) * time.Second)
		m.Notify(harness.Event{Type: harness.EventRunStarted, RunID: id, Scenario: "zones", Time: start})
		m.Notify(harness.Event{Type: harness.EventRunFinished, RunID: id, Scenario: "zones", Time: start.Add(time.Second), Outcome: o})
	}
	m.Notify(harness.Event{Type: harness.EventRunStarted, RunID: "live", Scenario: "ui", Time: base.Add(time.Minute)})

	resp, err := http.Get(srv.URL + "/api/runs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var runs []RunSummary
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	if got := strings.Join(ids, ","); got != "live,c,b" {
		t.Errorf("runs = %s, want live,c,b", got)
	}

	points, ok := m.History("1m")
	if !ok || len(points) != 1 {
		t.Fatalf("History(1m) = %+v, %v", points, ok)
	}
	if want := (Counts{Passed: 1, Failed: 1, Aborted: 1}); points[0].Value != want {
		t.Errorf("counts = %+v, want %+v", points[0].Value, want)
	}

	resp, err = http.Get(srv.URL + "/api/history?resolution=1y")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown resolution status = %d", resp.StatusCode)
	}
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer[int](Resolution{Name: "1m", Resolution: time.Minute, Buckets: 3})
	inc := func(v *int) { *v++ }
	for _, ts := range []int64{60, 90, 120, 180, 240} {
		rb.Update(ts, inc)
	}
	points := rb.Points()
	if len(points) != 3 {
		t.Fatalf("points = %+v", points)
	}
	if points[0].Timestamp != 120 || points[2].Timestamp != 240 || points[0].Value != 1 {
		t.Errorf("points = %+v", points)
	}
	rb.Update(250, inc)
	if got := rb.Points()[2].Value; got != 2 {
		t.Errorf("merged value = %d, want 2", got)
	}
}

func TestMetrics(t *testing.T) {
	m, srv := newMonitor(t, Options{})
	before := testutil.ToFloat64(metricRuns.WithLabelValues("metrics-test", "failed"))
	steps := testutil.ToFloat64(metricForcedClicks.WithLabelValues("metrics-test"))
	now := time.Now()
	m.Notify(harness.Event{Type: harness.EventRunStarted, RunID: "r", Scenario: "metrics-test", Time: now})
	m.Notify(harness.Event{Type: harness.EventStepFinished, RunID: "r", Scenario: "metrics-test", Time: now, Step: "s",
		Result: &harness.StepResult{Step: "s", Outcome: harness.StepTimedOut, Forced: true, Elapsed: time.Second}})
	m.Notify(harness.Event{Type: harness.EventRunFinished, RunID: "r", Scenario: "metrics-test", Time: now, Outcome: harness.Failed})

	if got := testutil.ToFloat64(metricRuns.WithLabelValues("metrics-test", "failed")); got != before+1 {
		t.Errorf("runs_total = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(metricForcedClicks.WithLabelValues("metrics-test")); got != steps+1 {
		t.Errorf("forced_clicks_total = %v, want %v", got, steps+1)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `sceneverify_runs_total{outcome="failed",scenario="metrics-test"}`) {
		t.Errorf("/metrics does not report the run:\n%s", body)
	}
}

func writeJWKS(t *testing.T, kid string, pub *ecdsa.PublicKey) string {
	t.Helper()
	key, err := jwk.Import(pub)
	if err != nil {
		t.Fatalf("jwk.Import: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("key.Set: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "jwks.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func sign(t *testing.T, priv *ecdsa.PrivateKey, kid string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"sub":   "ci-bot",
		"email": " CI@Example.com ",
		"exp":   exp.Unix(),
	})
	tok.Header["kid"] = kid
	s, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func TestAuth(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	m, srv := newMonitor(t, Options{JWKSFile: writeJWKS(t, "k1", &priv.PublicKey)})

	valid := sign(t, priv, "k1", time.Now().Add(time.Hour))
	tests := []struct {
		name   string
		path   string
		header string
		cookie string
		want   int
	}{
		{"health is open", "/healthz", "", "", http.StatusOK},
		{"no token", "/api/runs", "", "", http.StatusUnauthorized},
		{"bearer", "/api/runs", "Bearer " + valid, "", http.StatusOK},
		{"cookie", "/metrics", "", valid, http.StatusOK},
		{"expired", "/api/runs", "Bearer " + sign(t, priv, "k1", time.Now().Add(-time.Hour)), "", http.StatusUnauthorized},
		{"unknown kid", "/api/runs", "Bearer " + sign(t, priv, "k2", time.Now().Add(time.Hour)), "", http.StatusUnauthorized},
		{"wrong key", "/api/runs", "Bearer " + sign(t, other, "k1", time.Now().Add(time.Hour)), "", http.StatusUnauthorized},
		{"garbage", "/api/runs", "Bearer not-a-token", "", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "sceneverify_auth", Value: tc.cookie})
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}

	var subject string
	h := m.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = Subject(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+valid, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || subject != "ci@example.com" {
		t.Errorf("query token: status %d, subject %q", rr.Code, subject)
	}
}

func TestMissingJWKSFile(t *testing.T) {
	if _, err := New(Options{JWKSFile: filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Error("New succeeded without a JWKS file")
	}
}
