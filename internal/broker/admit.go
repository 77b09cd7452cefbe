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
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/transport"
	"github.com/kestrel-systems/parley/internal/wire"
)

// Serve drives one connection end to end: it reads the hello frame, admits
// or rejects, and on success pumps frames until the connection or context
// ends. It blocks until the connection is gone, so callers run it in its
// own goroutine per accepted connection.
func (b *Broker) Serve(ctx context.Context, t transport.Transport) error {
	helloEnv, err := t.Recv(ctx)
	if err != nil {
		return fmt.Errorf("broker: serve: awaiting hello: %w", err)
	}
	if helloEnv.Kind != wire.KindHello {
		reject(ctx, t, "expected hello")
		return fmt.Errorf("broker: serve: first frame was %s, not hello", helloEnv.Kind)
	}
	var hello wire.HelloFrame
	if err := helloEnv.Decode(&hello); err != nil {
		reject(ctx, t, "malformed hello")
		return err
	}

	entry, ready, err := b.admit(ctx, hello)
	if err != nil {
		reject(ctx, t, err.Error())
		return err
	}

	readyFrame, err := wire.Encode(wire.KindReady, ready)
	if err != nil {
		return err
	}
	if err := t.Send(ctx, readyFrame); err != nil {
		b.leave(identity.ChannelID(hello.ChannelID), entry.clientID)
		return err
	}

	if hello.ReplaySinceID != nil {
		b.streamReplay(ctx, t, identity.ChannelID(hello.ChannelID), *hello.ReplaySinceID)
	}

	return b.pump(ctx, t, identity.ChannelID(hello.ChannelID), entry)
}

func reject(ctx context.Context, t transport.Transport, reason string) {
	env, err := wire.Encode(wire.KindReject, wire.RejectFrame{Reason: reason})
	if err != nil {
		return
	}
	_ = t.Send(ctx, env)
}

// admit implements §4.2's Admit contract: supersede any existing live
// connection for the same identity_key, mangle the handle on collision,
// register the participant, and return the ready payload.
func (b *Broker) admit(ctx context.Context, hello wire.HelloFrame) (*participantEntry, wire.ReadyFrame, error) {
	chID := identity.ChannelID(hello.ChannelID)
	ch := b.channel(chID, identity.ContextID(hello.ContextID))

	var meta identity.Metadata
	if len(hello.Metadata) > 0 {
		raw, _ := json.Marshal(hello.Metadata)
		_ = meta.UnmarshalJSON(raw)
	}

	ch.mu.Lock()
	// Supersede: same identity_key already live closes before the new one
	// is accepted.
	var superseded identity.ClientID
	if oldClient, ok := ch.identityIdx[identity.IdentityKey(hello.IdentityKey)]; ok {
		if old, ok := ch.roster[oldClient]; ok {
			close(old.done)
			delete(ch.roster, oldClient)
			superseded = oldClient
		}
	}

	handle := identity.Handle(hello.Handle)
	handle = mangleHandle(ch, handle)

	clientID := identity.ClientID(uuid.NewString())
	entry := &participantEntry{
		clientID:    clientID,
		identityKey: identity.IdentityKey(hello.IdentityKey),
		handle:      handle,
		metadata:    meta,
		deliver:     make(chan *wire.Envelope, 256),
		done:        make(chan struct{}),
	}
	ch.roster[clientID] = entry
	ch.identityIdx[entry.identityKey] = clientID
	title := ch.title
	cfg := ch.config
	ch.mu.Unlock()

	b.mu.Lock()
	if superseded != "" {
		delete(b.byClient, superseded)
	}
	b.byClient[clientID] = chID
	b.mu.Unlock()

	b.scheduleRosterUpdate(ch)
	b.joined.Publish(LifecycleEvent{ChannelID: chID, ClientID: clientID, Handle: handle})

	ready := wire.ReadyFrame{
		ClientID:       string(clientID),
		ChannelID:      hello.ChannelID,
		AssignedHandle: string(handle),
		ChannelConfig:  cfg,
	}
	_ = title

	if b.sess != nil {
		key := identity.SessionKey{ChannelID: chID, IdentityKey: entry.identityKey}
		if existing, ok, err := b.sess.ExistingSession(ctx, key); err == nil && ok {
			ready.ExistingSession = existing
		}
	}

	return entry, ready, nil
}

func mangleHandle(ch *channelEntry, h identity.Handle) identity.Handle {
	taken := func(candidate identity.Handle) bool {
		for _, p := range ch.roster {
			if p.handle == candidate {
				return true
			}
		}
		return false
	}
	if !taken(h) {
		return h
	}
	for n := 2; ; n++ {
		candidate := identity.Handle(fmt.Sprintf("%s-%d", h, n))
		if !taken(candidate) {
			return candidate
		}
	}
}

// leave removes a participant from the roster (used when ready fails to
// send, an edge case the spec requires to still release the slot).
func (b *Broker) leave(chID identity.ChannelID, clientID identity.ClientID) {
	ch, ok := b.lookupChannel(chID)
	if !ok {
		return
	}
	ch.mu.Lock()
	p, existed := ch.roster[clientID]
	if existed {
		delete(ch.roster, clientID)
		delete(ch.identityIdx, p.identityKey)
	}
	ch.mu.Unlock()

	b.mu.Lock()
	if cur, ok := b.byClient[clientID]; ok && cur == chID {
		delete(b.byClient, clientID)
	}
	b.mu.Unlock()

	if existed {
		b.left.Publish(LifecycleEvent{ChannelID: chID, ClientID: clientID, Handle: p.handle})
	}
	b.scheduleRosterUpdate(ch)
}

func logFields(chID identity.ChannelID, clientID identity.ClientID) []zap.Field {
	return []zap.Field{zap.String("channel_id", string(chID)), zap.String("client_id", string(clientID))}
}
