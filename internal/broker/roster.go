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
	"time"

	"github.com/kestrel-systems/parley/internal/wire"
)

// scheduleRosterUpdate coalesces roster churn into a single broadcast per
// RosterCoalesceWindow, matching pkg/communication.MessageBus's burst
// coalescing for presence updates.
func (b *Broker) scheduleRosterUpdate(ch *channelEntry) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.rosterPending {
		return
	}
	ch.rosterPending = true
	window := b.cfg.RosterCoalesceWindow
	ch.rosterTimer = time.AfterFunc(window, func() {
		ch.mu.Lock()
		ch.rosterPending = false
		snapshot := ch.rosterSnapshot()
		recipients := make([]*participantEntry, 0, len(ch.roster))
		for _, p := range ch.roster {
			recipients = append(recipients, p)
		}
		ch.mu.Unlock()

		env, err := wire.Encode(wire.KindRosterUpdate, wire.RosterUpdateFrame{Participants: snapshot})
		if err != nil {
			return
		}
		for _, p := range recipients {
			select {
			case p.deliver <- env:
			default:
			}
		}
	})
}
