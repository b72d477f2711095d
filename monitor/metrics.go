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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sceneverify",
		Name:      "runs_total",
		Help:      "Finished scenario runs by outcome.",
	}, []string{"scenario", "outcome"})
	metricRunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sceneverify",
		Name:      "runs_active",
		Help:      "Scenario runs in progress.",
	})
	metricSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sceneverify",
		Name:      "steps_total",
		Help:      "Finished steps by outcome.",
	}, []string{"scenario", "outcome"})
	metricForcedClicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sceneverify",
		Name:      "forced_clicks_total",
		Help:      "Steps that clicked without hit testing.",
	}, []string{"scenario"})
	metricStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sceneverify",
		Name:      "step_duration_seconds",
		Help:      "Time from a step's action to its condition holding.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"scenario"})
	metricClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sceneverify",
		Name:      "ws_clients",
		Help:      "Connected live feed clients.",
	})
)

// Resolution is the policy of one ring buffer.
type Resolution struct {
	Name       string        `json:"name"`
	Resolution time.Duration `json:"resolution"`
	Buckets    int           `json:"buckets"`
}

var DefaultResolutions = []Resolution{
	{"1m", time.Minute, 120},
	{"1h", time.Hour, 168},
}

// Counts tallies run outcomes in one interval.
type Counts struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Aborted int `json:"aborted"`
}

// Point is one interval of a series.
type Point[T any] struct {
	Timestamp int64 `json:"t"`
	Value     T     `json:"v"`
}

// RingBuffer is a fixed-size circular time series.
type RingBuffer[T any] struct {
	Config Resolution `json:"config"`
	Data   []Point[T] `json:"data"`
	Head   int        `json:"head"` // next write position
}

func NewRingBuffer[T any](cfg Resolution) *RingBuffer[T] {
	return &RingBuffer[T]{Config: cfg, Data: make([]Point[T], cfg.Buckets)}
}

// Update applies fn to the point of the interval holding timestamp (Unix
// seconds), starting a new point when the interval changed.
func (rb *RingBuffer[T]) Update(timestamp int64, fn func(*T)) {
	res := int64(rb.Config.Resolution.Seconds())
	aligned := (timestamp / res) * res
	prev := (rb.Head - 1 + len(rb.Data)) % len(rb.Data)
	if rb.Data[prev].Timestamp == aligned {
		fn(&rb.Data[prev].Value)
		return
	}
	var zero T
	rb.Data[rb.Head] = Point[T]{Timestamp: aligned, Value: zero}
	fn(&rb.Data[rb.Head].Value)
	rb.Head = (rb.Head + 1) % len(rb.Data)
}

// Points returns the recorded points, oldest first.
func (rb *RingBuffer[T]) Points() []Point[T] {
	points := make([]Point[T], 0, len(rb.Data))
	for i := range rb.Data {
		idx := (rb.Head + i) % len(rb.Data)
		if rb.Data[idx].Timestamp > 0 {
			points = append(points, rb.Data[idx])
		}
	}
	return points
}
