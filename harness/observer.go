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

import "time"

type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventStepStarted  EventType = "step_started"
	EventStepFinished EventType = "step_finished"
	EventRunFinished  EventType = "run_finished"
)

// Event is a progress notification from a Runner.
type Event struct {
	Type     EventType     `json:"type"`
	RunID    string        `json:"runId"`
	Scenario string        `json:"scenario"`
	Time     time.Time     `json:"time"`
	Index    int           `json:"index,omitempty"`
	Step     string        `json:"step,omitempty"`
	Result   *StepResult   `json:"result,omitempty"`
	Outcome  Outcome       `json:"outcome,omitempty"`
	Elapsed  time.Duration `json:"elapsed,omitempty"`
}

// Observer receives run progress. Observers shared between concurrent
// runners must be safe for concurrent use. Notify must not block.
type Observer interface {
	Notify(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) {
	f(e)
}

// Observers fans an event out to several observers.
type Observers []Observer

func (o Observers) Notify(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Notify(e)
		}
	}
}
