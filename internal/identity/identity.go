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

// Package identity defines the stable address types participants are known
// by across the broker, session store, and RPC layer.
package identity

import (
	"encoding/json"
	"fmt"
)

// ClientID is assigned by the broker per connection; it is the address used
// for targeting live deliveries and RPC calls.
type ClientID string

// IdentityKey is chosen by the client and is stable across reconnects. It is
// the Session Store key component used to re-bind a new connection to prior
// state.
type IdentityKey string

// Handle is a display name, unique per channel (subject to mangling on
// collision).
type Handle string

// ContextID defines the isolation scope for Session Store keys and Channel
// grouping. Two channels with different ContextIDs are fully isolated even
// if they share a ChannelID string.
type ContextID string

// ChannelID identifies a channel within a context.
type ChannelID string

// ParticipantType enumerates the kinds of participants a channel may host.
type ParticipantType string

const (
	ParticipantPanel      ParticipantType = "panel"
	ParticipantWorker     ParticipantType = "worker"
	ParticipantCodex      ParticipantType = "codex"
	ParticipantClaudeCode ParticipantType = "claude-code"
	ParticipantPi         ParticipantType = "pi"
)

// Metadata is a participant's last-writer-wins metadata blob. The known
// fields are promoted to struct members for convenient access; anything
// else round-trips through Extra.
type Metadata struct {
	Name         string          `json:"name,omitempty"`
	Type         ParticipantType `json:"type,omitempty"`
	ContextUsage float64         `json:"contextUsage,omitempty"`
	ActiveModel  string          `json:"activeModel,omitempty"`
	AgentTypeID  string          `json:"agentTypeId,omitempty"`
	Extra        map[string]any  `json:"-"`
}

// MarshalJSON flattens Extra alongside the known fields so wire frames carry
// one flat metadata object, matching how the source treats "arbitrary
// values" as siblings of the well-known fields.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Name != "" {
		out["name"] = m.Name
	}
	if m.Type != "" {
		out["type"] = m.Type
	}
	if m.ContextUsage != 0 {
		out["contextUsage"] = m.ContextUsage
	}
	if m.ActiveModel != "" {
		out["activeModel"] = m.ActiveModel
	}
	if m.AgentTypeID != "" {
		out["agentTypeId"] = m.AgentTypeID
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known fields out of the flat object, leaving the rest
// in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	if v, ok := raw["name"].(string); ok {
		m.Name = v
		delete(raw, "name")
	}
	if v, ok := raw["type"].(string); ok {
		m.Type = ParticipantType(v)
		delete(raw, "type")
	}
	if v, ok := raw["contextUsage"].(float64); ok {
		m.ContextUsage = v
		delete(raw, "contextUsage")
	}
	if v, ok := raw["activeModel"].(string); ok {
		m.ActiveModel = v
		delete(raw, "activeModel")
	}
	if v, ok := raw["agentTypeId"].(string); ok {
		m.AgentTypeID = v
		delete(raw, "agentTypeId")
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// Merge applies last-writer-wins semantics: non-zero fields of update
// overwrite m's fields, and update's Extra entries overwrite m's.
func (m Metadata) Merge(update Metadata) Metadata {
	out := m
	if update.Name != "" {
		out.Name = update.Name
	}
	if update.Type != "" {
		out.Type = update.Type
	}
	if update.ContextUsage != 0 {
		out.ContextUsage = update.ContextUsage
	}
	if update.ActiveModel != "" {
		out.ActiveModel = update.ActiveModel
	}
	if update.AgentTypeID != "" {
		out.AgentTypeID = update.AgentTypeID
	}
	if len(update.Extra) > 0 {
		merged := make(map[string]any, len(out.Extra)+len(update.Extra))
		for k, v := range out.Extra {
			merged[k] = v
		}
		for k, v := range update.Extra {
			merged[k] = v
		}
		out.Extra = merged
	}
	return out
}

// SessionKey identifies a Session Store record: (channel_id, identity_key).
type SessionKey struct {
	ChannelID   ChannelID
	IdentityKey IdentityKey
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s", k.ChannelID, k.IdentityKey)
}
