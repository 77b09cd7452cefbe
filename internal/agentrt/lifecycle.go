// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agentrt implements the Agent Runtime (C6), the densest
// subsystem per spec.md §4.6: a single-threaded cooperative task per agent,
// a two-halved message queue with safe-splice-point interleave, pause and
// missed-context handling, and a vendor-SDK black-box binding. It is
// grounded on the teacher's agent loop idiom (a single processing goroutine
// driven by channel receives, never ad hoc polling) generalized from
// Crush's single in-process chat loop to a participant that sits behind the
// broker like any other connection.
package agentrt

import "fmt"

// State is one node of the lifecycle graph from spec.md §4.6.
type State int

const (
	StateInitializing State = iota
	StateIdle
	StateEnqueued
	StateProcessing
	StatePaused
	StateSleeping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateIdle:
		return "idle"
	case StateEnqueued:
		return "enqueued"
	case StateProcessing:
		return "processing"
	case StatePaused:
		return "paused"
	case StateSleeping:
		return "sleeping"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions enumerates every edge the diagram in spec.md §4.6 allows;
// Agent.setState rejects anything not listed here.
var transitions = map[State]map[State]bool{
	StateInitializing: {StateIdle: true},
	StateIdle: {
		StateEnqueued:  true,
		StateSleeping:  true,
		StateProcessing: true, // the processor dequeues straight from idle (Resume returns a paused agent here first)
	},
	StateEnqueued:  {StateProcessing: true},
	StateProcessing: {StateIdle: true, StatePaused: true},
	StatePaused:    {StateIdle: true},
	StateSleeping:  {StateTerminated: true, StateIdle: true}, // a join before on_sleep cancels unload
	StateTerminated: {},
}

func allowed(from, to State) bool {
	if from == to {
		return true
	}
	edges, ok := transitions[from]
	return ok && edges[to]
}
