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

// Package broker implements the Channel Hub (C2): per-channel fan-out,
// ordered monotonic pubsub ids, targeted/broadcast routing, a bounded
// replay log, and roster/presence. It is grounded on
// pkg/communication.MessageBus's non-blocking per-subscriber delivery and
// pkg/mcp/transport.StreamResumption's ring-buffer replay, generalized to
// the channel/participant/event model of this substrate.
//
// The broker owns two arenas — channels and, per channel, participants —
// addressed by id rather than by owning pointer, per the no-cyclic-owning-
// references design note: Session, RPC, and Tool Registry all hold ids into
// this broker, never pointers into its internals.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/pubsub"
	"github.com/kestrel-systems/parley/internal/transport"
	"github.com/kestrel-systems/parley/internal/wire"
	"github.com/kestrel-systems/parley/pkg/observability"
)

// SessionLookup is the narrow view of the Session Store (C3) the broker
// needs at admission time to populate ready.existing_session. It is
// satisfied by *session.SQLiteStore; kept as an interface here so broker never
// imports the session package.
type SessionLookup interface {
	ExistingSession(ctx context.Context, key identity.SessionKey) (*wire.ExistingSession, bool, error)
}

// Config tunes broker-wide behavior.
type Config struct {
	// ReplayWindow bounds how many persisted events per channel are kept
	// for replay before a replay_since_id request is answered with
	// replay_truncated. Open question #1: the spec leaves this unpinned;
	// default chosen here is 10000 events per channel.
	ReplayWindow int

	// RosterCoalesceWindow bounds how long roster_update bursts are
	// coalesced into a single broadcast. Spec requires ≤100ms.
	RosterCoalesceWindow time.Duration

	MaxFrameBytes int64
}

// DefaultConfig returns the defaults referenced above.
func DefaultConfig() Config {
	return Config{
		ReplayWindow:          10_000,
		RosterCoalesceWindow:  100 * time.Millisecond,
		MaxFrameBytes:         transport.DefaultMaxFrameBytes,
	}
}

// LifecycleEvent is published whenever a participant joins or leaves any
// channel, so the RPC layer (for cancellation) and Tool Registry (for
// invalidating its derived view) can react without the broker knowing
// about them.
type LifecycleEvent struct {
	ChannelID identity.ChannelID
	ClientID  identity.ClientID
	Handle    identity.Handle
}

// Broker admits participants, orders events per channel, fans out, and
// replays. Safe for concurrent use.
type Broker struct {
	cfg     Config
	logger  *zap.Logger
	tracer  observability.Tracer
	sess    SessionLookup

	mu       sync.RWMutex
	channels map[identity.ChannelID]*channelEntry
	byClient map[identity.ClientID]identity.ChannelID // for targeted delivery by ClientID alone

	joined pubsub.Broker[LifecycleEvent]
	left   pubsub.Broker[LifecycleEvent]

	frameHandler FrameHandler
}

// New constructs a Broker. sess may be nil if no session resumption is
// wired (e.g. in unit tests that only exercise fan-out).
func New(cfg Config, logger *zap.Logger, tracer observability.Tracer, sess SessionLookup) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Broker{
		cfg:      cfg,
		logger:   logger,
		tracer:   tracer,
		sess:     sess,
		channels: make(map[identity.ChannelID]*channelEntry),
		byClient: make(map[identity.ClientID]identity.ChannelID),
	}
}

// OnJoin/OnLeave subscribe to participant lifecycle notifications.
func (b *Broker) OnJoin() <-chan LifecycleEvent  { return b.joined.Subscribe() }
func (b *Broker) OnLeave() <-chan LifecycleEvent { return b.left.Subscribe() }

func (b *Broker) channel(chID identity.ChannelID, ctxID identity.ContextID) *channelEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[chID]
	if !ok {
		ch = newChannelEntry(chID, ctxID, b.cfg.ReplayWindow)
		b.channels[chID] = ch
	}
	return ch
}

// lookupChannel returns an existing channel without creating one.
func (b *Broker) lookupChannel(chID identity.ChannelID) (*channelEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.channels[chID]
	return ch, ok
}

// Roster lists the live participants of a channel, satisfying
// tools.RosterLister without exposing channelEntry's internals outside the
// package.
func (b *Broker) Roster(chID identity.ChannelID) []identity.ClientID {
	ch, ok := b.lookupChannel(chID)
	if !ok {
		return nil
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]identity.ClientID, 0, len(ch.roster))
	for id := range ch.roster {
		out = append(out, id)
	}
	return out
}

// Close tears down every channel, disconnecting all participants.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.channels {
		ch.closeAll("broker shutting down")
		delete(b.channels, id)
	}
	b.byClient = make(map[identity.ClientID]identity.ChannelID)
	return nil
}

// errClosed is returned by operations against a torn-down channel.
var errClosed = fmt.Errorf("broker: %w", errs.ErrDisconnected)
