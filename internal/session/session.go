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

// Package session implements the Session Store (C3): durable per-(channel,
// identity_key) state with a monotonic checkpoint, an opaque vendor SDK
// session handle, and a settings blob owned by the participant type.
package session

import (
	"context"
	"encoding/json"

	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/pubsub"
)

// Status reflects whether a record was just created (fresh) or is being
// reattached to by a reconnecting participant (resumed).
type Status string

const (
	StatusFresh   Status = "fresh"
	StatusResumed Status = "resumed"
)

// Session is one durable record keyed by (channel_id, identity_key).
type Session struct {
	Key                identity.SessionKey
	CheckpointPubsubID uint64
	SDKSessionID       string
	Settings           json.RawMessage
	Status             Status
	CreatedAtUnixMS    int64
	UpdatedAtUnixMS    int64
}

// Merge returns a copy of s with update's non-zero fields applied,
// preserving the monotonic-checkpoint invariant: update never regresses
// CheckpointPubsubID below s's current value.
func (s Session) Merge(update Session) Session {
	result := s
	if update.CheckpointPubsubID > result.CheckpointPubsubID {
		result.CheckpointPubsubID = update.CheckpointPubsubID
	}
	if update.SDKSessionID != "" {
		result.SDKSessionID = update.SDKSessionID
	}
	if len(update.Settings) > 0 {
		result.Settings = update.Settings
	}
	if update.Status != "" {
		result.Status = update.Status
	}
	if update.UpdatedAtUnixMS > 0 {
		result.UpdatedAtUnixMS = update.UpdatedAtUnixMS
	}
	return result
}

// Store is the Session Store's operation contract (§4.3).
type Store interface {
	Load(ctx context.Context, key identity.SessionKey) (*Session, error)
	CommitCheckpoint(ctx context.Context, key identity.SessionKey, pubsubID uint64) error
	UpdateSDKSession(ctx context.Context, key identity.SessionKey, handle string) error
	UpdateSettings(ctx context.Context, key identity.SessionKey, blob json.RawMessage) error
	GetSettings(ctx context.Context, key identity.SessionKey) (json.RawMessage, error)
	Delete(ctx context.Context, key identity.SessionKey) error
	Subscribe(ctx context.Context) <-chan pubsub.Event[Session]
}
