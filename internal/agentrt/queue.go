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
package agentrt

import (
	"fmt"
	"sync"

	"github.com/kestrel-systems/parley/pkg/vendorsdk"
)

// Inbound is one targeted message admitted to the queue: a user turn, or an
// interleaved follow-up.
type Inbound struct {
	ID     string
	Text   string
	Images []vendorsdk.Image
}

// Queue holds the pending/active halves from spec.md §4.6. It is owned
// exclusively by one Agent's processing goroutine for mutation of `active`,
// but Push/Positions may be called concurrently from the reader goroutine,
// so it is internally synchronized.
type Queue struct {
	mu      sync.Mutex
	pending []Inbound
	active  *Inbound
	paused  bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue { return &Queue{} }

// Push appends a newly arrived message to pending and returns its 1-based
// queue position, used for the "queued: position N" typing indicator.
func (q *Queue) Push(in Inbound) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, in)
	return len(q.pending)
}

// Positions reports the current 1-based position of every pending entry,
// re-published whenever the queue changes per §4.6.
func (q *Queue) Positions() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.pending))
	for i := range q.pending {
		out[i] = fmt.Sprintf("queued: position %d", i+1)
	}
	return out
}

// Dequeue moves the head of pending into active, returning it. Returns
// false if pending is empty or the queue is paused.
func (q *Queue) Dequeue() (Inbound, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused || len(q.pending) == 0 {
		return Inbound{}, false
	}
	in := q.pending[0]
	q.pending = q.pending[1:]
	q.active = &in
	return in, true
}

// DrainInterleave empties pending into a single batch for a safe-splice-
// point follow-up turn, per §4.6 step 3. Returns nil if pending is empty.
func (q *Queue) DrainInterleave() []Inbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	batch := q.pending
	q.pending = nil
	return batch
}

// Requeue pushes a batch back onto the head of pending, used when an
// interleave attempt fails mid-session (§4.6 edge case) so the messages are
// retried as the next ordinary turn instead of being lost.
func (q *Queue) Requeue(batch []Inbound) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(batch, q.pending...)
}

// Done clears the active slot once a turn finishes.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = nil
}

// Empty reports whether both halves are empty.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active == nil && len(q.pending) == 0
}

// Pause marks the queue paused; Dequeue stops yielding entries until Resume.
// Pending entries are preserved, per §4.6's "pause does not drop pending
// items; resume replays them."
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume clears the paused flag.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
}

// Paused reports the current pause state.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}
