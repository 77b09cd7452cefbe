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

// Package tools implements the Tool Registry (C5): a derived view, per
// agent participant, of every method the rest of the room exposes over
// RPC. It is grounded on pkg/shuttle.Registry's name -> implementation map,
// generalized from a static in-process table to one rebuilt from roster +
// list_methods discovery, and on pkg/shuttle.PermissionChecker's
// allow/deny/yolo screening, generalized into the three autonomy levels.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/rpc"
)

// DiscoveryTimeout bounds how long a single participant's list_methods call
// may take before it is skipped, per §4.5.
const DiscoveryTimeout = 1500 * time.Millisecond

// ListMethodsMethod is the well-known RPC every participant that offers
// tools must expose.
const ListMethodsMethod = "list_methods"

// MethodDescriptor is one entry in a participant's method catalog, as
// returned by list_methods.
type MethodDescriptor struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema,omitempty"`
}

// canonicalNames rewrites certain method names for LLM-facing presentation;
// invocation still uses the original name against the owning participant.
var canonicalNames = map[string]string{
	"file.read":    "Read",
	"file.write":   "Write",
	"file.edit":    "Edit",
	"shell.exec":   "Bash",
	"fs.glob":      "Glob",
	"fs.grep":      "Grep",
	"web.fetch":    "WebFetch",
	"web.search":   "WebSearch",
	"notebook.edit": "NotebookEdit",
}

// destructiveTools is the canonical set standard autonomy prompts for.
var destructiveTools = map[string]bool{
	"Write": true, "Edit": true, "Bash": true, "Delete": true, "NotebookEdit": true,
}

// CanonicalName returns the LLM-facing name for a raw method name, or the
// raw name unchanged if no mapping is installed.
func CanonicalName(raw string) string {
	if mapped, ok := canonicalNames[raw]; ok {
		return mapped
	}
	return raw
}

// Entry is one tool as presented to an agent: its canonical name, the
// participant that owns it, and the raw method name to invoke.
type Entry struct {
	CanonicalName string
	RawName       string
	Owner         identity.ClientID
	OwnerHandle   identity.Handle
	Schema        map[string]any
}

// RosterLister is the narrow broker seam the registry needs to enumerate
// live participants of a channel. Satisfied directly by *broker.Broker's
// Roster method.
type RosterLister interface {
	Roster(chID identity.ChannelID) []identity.ClientID
}

// Caller performs the list_methods discovery RPC; satisfied by *rpc.Router.
type Caller interface {
	Call(ctx context.Context, caller, callee identity.ClientID, method string, args json.RawMessage) (json.RawMessage, error)
}

// Registry computes and caches the derived tool catalog for one agent
// participant at a time; callers (one per agent) hold their own Registry.
type Registry struct {
	roster RosterLister
	caller Caller
	self   identity.ClientID

	mu      sync.RWMutex
	entries map[string]Entry // canonical name -> entry, last discovery's snapshot
}

// New constructs a Registry that discovers tools on behalf of self by
// calling out through caller and enumerating chID's roster via roster.
func New(roster RosterLister, caller Caller, self identity.ClientID) *Registry {
	return &Registry{roster: roster, caller: caller, self: self, entries: make(map[string]Entry)}
}

// Refresh rebuilds the catalog: every live participant other than self is
// asked for its method catalog concurrently, with DiscoveryTimeout per
// participant; a timed-out or erroring participant is skipped rather than
// failing the whole refresh, per §4.5 "this MUST NOT block the agent."
func (r *Registry) Refresh(ctx context.Context, chID identity.ChannelID) error {
	participants := r.roster.Roster(chID)

	type found struct {
		owner   identity.ClientID
		methods []MethodDescriptor
	}
	results := make([]found, len(participants))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range participants {
		if p == r.self {
			continue
		}
		i, p := i, p
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, DiscoveryTimeout)
			defer cancel()
			raw, err := r.caller.Call(callCtx, r.self, p, ListMethodsMethod, nil)
			if err != nil {
				return nil // skipped, not fatal
			}
			var methods []MethodDescriptor
			if err := json.Unmarshal(raw, &methods); err != nil {
				return nil
			}
			results[i] = found{owner: p, methods: methods}
			return nil
		})
	}
	_ = g.Wait() // errors are already swallowed per-participant above

	next := make(map[string]Entry)
	for _, f := range results {
		if f.owner == "" {
			continue
		}
		for _, m := range f.methods {
			canon := CanonicalName(m.Name)
			next[canon] = Entry{
				CanonicalName: canon,
				RawName:       m.Name,
				Owner:         f.owner,
				Schema:        m.Schema,
			}
		}
	}

	r.mu.Lock()
	r.entries = next
	r.mu.Unlock()
	return nil
}

// Lookup returns the entry for a canonical tool name.
func (r *Registry) Lookup(canonicalName string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[canonicalName]
	return e, ok
}

// Snapshot returns every currently known entry, for presentation to the LLM.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// IsDestructive reports whether canonicalName is in the set standard
// autonomy prompts for before executing.
func IsDestructive(canonicalName string) bool {
	return destructiveTools[canonicalName]
}

// Invoke calls the tool via RPC on its owning participant and returns its
// terminal result; progress is re-surfaced through onProgress, matching
// §4.5's "stream events are re-surfaced to the agent as tool-progress
// events" (the caller adapts onProgress to whatever shape the agent queue
// expects).
func (r *Registry) Invoke(ctx context.Context, canonicalName string, args json.RawMessage, onProgress func(json.RawMessage)) (json.RawMessage, error) {
	e, ok := r.Lookup(canonicalName)
	if !ok {
		return nil, fmt.Errorf("tools: %q is not in the current catalog", canonicalName)
	}
	streamer, ok := r.caller.(interface {
		Stream(ctx context.Context, caller, callee identity.ClientID, method string, args json.RawMessage, onEvent func(json.RawMessage)) (json.RawMessage, error)
	})
	if !ok {
		return r.caller.Call(ctx, r.self, e.Owner, e.RawName, args)
	}
	return streamer.Stream(ctx, r.self, e.Owner, e.RawName, args, onProgress)
}

var _ Caller = (*rpc.Router)(nil)
