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
package broker

import (
	"container/ring"
	"encoding/json"
	"sync"
	"time"

	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/wire"
)

// loggedEvent is one retained, persisted event kept for replay.
type loggedEvent struct {
	pubsubID uint64
	env      wire.EventFrame
}

// participantEntry is the broker's arena slot for a live connection. Other
// components address it by ClientID, never by pointer.
type participantEntry struct {
	clientID    identity.ClientID
	identityKey identity.IdentityKey
	handle      identity.Handle
	metadata    identity.Metadata

	deliver chan *wire.Envelope // broker -> connection pump
	done    chan struct{}
}

// channelEntry is the broker's arena slot for one Channel, per §3/§9: it
// exclusively owns event_log and roster; everyone else gets snapshots or
// ids.
type channelEntry struct {
	id        identity.ChannelID
	contextID identity.ContextID

	mu           sync.Mutex
	title        string
	config       map[string]any
	roster       map[identity.ClientID]*participantEntry
	identityIdx  map[identity.IdentityKey]identity.ClientID
	nextPubsubID uint64
	log          *ring.Ring // of loggedEvent, fixed capacity = replay window
	logLen       int
	logCap       int
	oldestKept   uint64 // never assigned; eventsSince reads the oldest retained pubsub_id from the ring itself

	rosterTimer   *time.Timer
	rosterPending bool
}

func newChannelEntry(id identity.ChannelID, ctxID identity.ContextID, replayWindow int) *channelEntry {
	if replayWindow <= 0 {
		replayWindow = 1
	}
	return &channelEntry{
		id:          id,
		contextID:   ctxID,
		config:      make(map[string]any),
		roster:      make(map[identity.ClientID]*participantEntry),
		identityIdx: make(map[identity.IdentityKey]identity.ClientID),
		log:         ring.New(replayWindow),
		logCap:      replayWindow,
	}
}

// appendLog stores a persisted event in the bounded ring, evicting the
// oldest entry once full — grounded on pkg/mcp/transport.StreamResumption's
// container/ring replay buffer.
func (c *channelEntry) appendLog(ev loggedEvent) {
	if c.logLen < c.logCap {
		c.logLen++
	}
	c.log.Value = ev
	c.log = c.log.Next()
	if c.oldestKept == 0 || c.logLen < c.logCap {
		// still filling; oldest is whatever was first appended.
	}
}

// eventsSince returns every logged event with pubsub_id > since, and
// whether the window still covers `since` (false means replay_truncated).
// c.log's current pointer always sits at the next slot to be overwritten,
// so a forward Do from there yields the retained events oldest-first once
// the interleaved nil (never-written) slots are skipped.
func (c *channelEntry) eventsSince(since uint64) ([]wire.EventFrame, bool) {
	if c.logLen == 0 {
		return nil, true
	}
	var all []loggedEvent
	c.log.Do(func(v any) {
		if v == nil {
			return
		}
		all = append(all, v.(loggedEvent))
	})
	if len(all) == 0 {
		return nil, true
	}
	oldest := all[0].pubsubID
	if oldest > 1 && since < oldest-1 {
		return nil, false
	}
	var out []wire.EventFrame
	for _, e := range all {
		if e.pubsubID > since {
			out = append(out, e.env)
		}
	}
	return out, true
}

func (c *channelEntry) closeAll(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.roster {
		close(p.done)
		delete(c.roster, id)
	}
}

func (c *channelEntry) rosterSnapshot() []wire.RosterParticipant {
	out := make([]wire.RosterParticipant, 0, len(c.roster))
	for _, p := range c.roster {
		meta := map[string]any{}
		if raw, err := metadataToMap(p.metadata); err == nil {
			meta = raw
		}
		out = append(out, wire.RosterParticipant{
			ClientID: string(p.clientID),
			Handle:   string(p.handle),
			Metadata: meta,
		})
	}
	return out
}

func metadataToMap(m identity.Metadata) (map[string]any, error) {
	data, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
