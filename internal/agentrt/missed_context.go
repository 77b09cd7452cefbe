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
	"encoding/json"
	"strings"

	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/wire"
)

// DefaultMissedContextLimit is §4.6's default bound on the compressed
// <missed_context> preamble.
const DefaultMissedContextLimit = 8000

// missedContextBuilder compresses replayed events the agent has not yet
// seen into a bounded preamble, consumed at most once. A fresh builder is
// created per reconnect; Take clears it so a second call returns "".
type missedContextBuilder struct {
	self  identity.ClientID
	limit int

	lines []string
	taken bool
}

func newMissedContextBuilder(self identity.ClientID, limit int) *missedContextBuilder {
	if limit <= 0 {
		limit = DefaultMissedContextLimit
	}
	return &missedContextBuilder{self: self, limit: limit}
}

// Observe folds one replayed event frame into the builder, skipping events
// the agent itself emitted.
func (m *missedContextBuilder) Observe(ev wire.EventFrame) {
	if identity.ClientID(ev.SenderID) == m.self {
		return
	}
	if ev.ContentType != wire.ContentMessage {
		return
	}
	var text string
	if err := json.Unmarshal(ev.Content, &text); err != nil || text == "" {
		return
	}
	m.lines = append(m.lines, ev.SenderID+": "+text)
}

// Take renders the accumulated lines into a bounded preamble and clears the
// builder; a second call always returns "", enforcing "consumed at most
// once."
func (m *missedContextBuilder) Take() string {
	if m.taken || len(m.lines) == 0 {
		m.taken = true
		return ""
	}
	m.taken = true

	body := strings.Join(m.lines, "\n")
	if len(body) > m.limit {
		body = body[len(body)-m.limit:]
	}
	var b strings.Builder
	b.WriteString("<missed_context>\n")
	b.WriteString(body)
	b.WriteString("\n</missed_context>\n")
	return b.String()
}
