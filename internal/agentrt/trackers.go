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
	"sync"
	"time"

	"github.com/kestrel-systems/parley/internal/wire"
)

// emitFunc publishes one ephemeral (non-persisted) frame of contentType,
// field set by the caller; satisfied by Agent.publishEphemeral.
type emitFunc func(contentType wire.ContentType, fields map[string]any)

const (
	contentThinking wire.ContentType = "agent_thinking"
	contentAction   wire.ContentType = "agent_action"
)

// Tracker enforces the start -> (update)* -> end invariant from §4.6 for
// one of typing/thinking/action; End is idempotent so a deferred call after
// an error path never double-emits.
type Tracker struct {
	contentType wire.ContentType
	emit        emitFunc

	mu     sync.Mutex
	active bool
}

// NewTracker builds a Tracker that emits contentType frames via emit.
func NewTracker(contentType wire.ContentType, emit emitFunc) *Tracker {
	return &Tracker{contentType: contentType, emit: emit}
}

// Start begins a new start/update*/end sequence, emitting the start frame.
func (t *Tracker) Start(fields map[string]any) {
	t.mu.Lock()
	t.active = true
	t.mu.Unlock()
	t.send("start", fields)
}

// Update emits an in-progress frame; a no-op if Start was never called or
// End already fired, so stray updates after cleanup are harmless.
func (t *Tracker) Update(fields map[string]any) {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
	if !active {
		return
	}
	t.send("update", fields)
}

// End closes the sequence; idempotent, so it is always safe to `defer
// tracker.End()` even when Start was skipped or End already ran.
func (t *Tracker) End() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.mu.Unlock()
	t.send("end", nil)
}

func (t *Tracker) send(phase string, fields map[string]any) {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["phase"] = phase
	t.emit(t.contentType, out)
}

// ContextTracker accumulates per-turn token usage and publishes a debounced
// metadata.contextUsage update, warning once usage crosses 80% of the
// model's context window per §4.6.
type ContextTracker struct {
	debounce time.Duration
	emit     func(fraction float64, totalTokens int)
	onWarn   func(fraction float64)

	mu          sync.Mutex
	input       int
	output      int
	window      int
	lastPublish time.Time
	warned      bool
}

// NewContextTracker builds a ContextTracker publishing through emit no more
// often than every debounce interval, and invoking onWarn (once) the first
// time usage crosses 80% of the window.
func NewContextTracker(debounce time.Duration, emit func(fraction float64, totalTokens int), onWarn func(fraction float64)) *ContextTracker {
	return &ContextTracker{debounce: debounce, emit: emit, onWarn: onWarn}
}

// Record folds in one turn's usage and publishes if the debounce window has
// elapsed.
func (c *ContextTracker) Record(input, output, window int) {
	c.mu.Lock()
	c.input += input
	c.output += output
	if window > 0 {
		c.window = window
	}
	total := c.input + c.output
	win := c.window
	due := time.Since(c.lastPublish) >= c.debounce
	if due {
		c.lastPublish = time.Now()
	}
	var fraction float64
	if win > 0 {
		fraction = float64(total) / float64(win)
	}
	shouldWarn := !c.warned && win > 0 && fraction >= 0.8
	if shouldWarn {
		c.warned = true
	}
	c.mu.Unlock()

	if due && win > 0 {
		c.emit(fraction, total)
	}
	if shouldWarn {
		c.onWarn(fraction)
	}
}
