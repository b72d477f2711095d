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
	"time"
)

const (
	// LatencyBucketWidth is the resolution of a Histogram.
	LatencyBucketWidth = 500 * time.Millisecond
	// LatencyBuckets covers one minute; the last bucket also holds anything
	// slower.
	LatencyBuckets = int(time.Minute/LatencyBucketWidth) + 1
)

// Histogram is the distribution of step durations of one or more runs.
type Histogram struct {
	Counts  [LatencyBuckets]uint32 `json:"counts"`
	Steps   int                    `json:"steps"`
	Total   time.Duration          `json:"total"`
	Slowest time.Duration          `json:"slowest"`
}

// Observe records one step duration.
func (h *Histogram) Observe(d time.Duration) {
	d = max(d, 0)
	h.Counts[min(int(d/LatencyBucketWidth), LatencyBuckets-1)]++
	h.Steps++
	h.Total += d
	h.Slowest = max(h.Slowest, d)
}

// Merge folds other into h. A nil other is ignored.
func (h *Histogram) Merge(other *Histogram) {
	if other == nil {
		return
	}
	for i, n := range other.Counts {
		h.Counts[i] += n
	}
	h.Steps += other.Steps
	h.Total += other.Total
	h.Slowest = max(h.Slowest, other.Slowest)
}

// Mean is zero when no step was observed.
func (h *Histogram) Mean() time.Duration {
	if h.Steps == 0 {
		return 0
	}
	return h.Total / time.Duration(h.Steps)
}

// Percentile returns the upper edge of the bucket that holds the p-th
// percentile, p in [0, 100]. It never exceeds the slowest step.
func (h *Histogram) Percentile(p float64) time.Duration {
	if h.Steps == 0 {
		return 0
	}
	rank := int(float64(h.Steps)*min(max(p, 0), 100)/100 + 0.5)
	rank = max(rank, 1)
	seen := 0
	for i, n := range h.Counts {
		seen += int(n)
		if seen < rank {
			continue
		}
		if i == LatencyBuckets-1 {
			break
		}
		return min(time.Duration(i+1)*LatencyBucketWidth, h.Slowest)
	}
	return h.Slowest
}

// String is a one-line account such as "p50 1s, p95 2.5s, max 2.31s".
func (h *Histogram) String() string {
	if h.Steps == 0 {
		return "no steps"
	}
	return fmt.Sprintf("p50 %v, p95 %v, max %v",
		h.Percentile(50), h.Percentile(95), h.Slowest.Round(10*time.Millisecond))
}
