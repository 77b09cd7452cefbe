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
	"fmt"
	"time"

	"github.com/kestrel-systems/parley/internal/errs"
	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/transport"
	"github.com/kestrel-systems/parley/internal/wire"
	"github.com/kestrel-systems/parley/pkg/observability"
)

// pump reads frames from t until it errors or ctx ends, dispatching each to
// the matching handler, while a sibling goroutine drains entry.deliver to
// t.Send. Both stop together when either direction fails — mirroring how a
// single malformed or dead connection never poisons the channel (other
// participants are unaffected).
func (b *Broker) pump(ctx context.Context, t transport.Transport, chID identity.ChannelID, entry *participantEntry) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErrCh := make(chan error, 1)
	go func() {
		for {
			select {
			case env, ok := <-entry.deliver:
				if !ok {
					writeErrCh <- nil
					return
				}
				if err := t.Send(ctx, env); err != nil {
					writeErrCh <- err
					return
				}
			case <-entry.done:
				writeErrCh <- nil
				return
			case <-ctx.Done():
				writeErrCh <- ctx.Err()
				return
			}
		}
	}()

	// A superseded or shut-down participant has entry.done closed by the
	// broker; cancel ctx so the blocked Recv below returns.
	go func() {
		select {
		case <-entry.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var readErr error
readLoop:
	for {
		select {
		case <-entry.done:
			break readLoop
		case <-ctx.Done():
			readErr = ctx.Err()
			break readLoop
		default:
		}

		env, err := t.Recv(ctx)
		if err != nil {
			readErr = err
			break readLoop
		}
		if herr := b.handleFrame(ctx, chID, entry, env); herr != nil {
			errEnv, _ := wire.Encode(wire.KindError, wire.ErrorFrame{Kind: string(env.Kind), Message: herr.Error()})
			select {
			case entry.deliver <- errEnv:
			default:
			}
		}
	}

	b.leave(chID, entry.clientID)
	cancel()
	<-writeErrCh
	select {
	case <-entry.done:
		_ = t.Close() // dropped by the broker: end the connection itself
	default:
	}
	return readErr
}

func (b *Broker) handleFrame(ctx context.Context, chID identity.ChannelID, entry *participantEntry, env *wire.Envelope) error {
	switch env.Kind {
	case wire.KindPublish:
		var f wire.PublishFrame
		if err := env.Decode(&f); err != nil {
			return err
		}
		_, err := b.Publish(chID, entry.clientID, f)
		return err
	case wire.KindCommitCheckpoint, wire.KindUpdateSDKSession, wire.KindUpdateSettings,
		wire.KindGetSettings, wire.KindSetChannelTitle, wire.KindUpdateMetadata,
		wire.KindSubscribe, wire.KindUnsubscribe,
		wire.KindRPCRequest, wire.KindRPCEvent, wire.KindRPCResponse, wire.KindRPCCancel:
		// The broker does not interpret these; they go to the one handler
		// installed via WithFrameHandler. parleyd installs the RPC router,
		// which acts on the rpc_* kinds and ignores the session, settings,
		// metadata, title and subscription kinds. Unrecognized-here is not
		// an error — just a no-op at this layer.
		if h := b.frameHandler; h != nil {
			return h(ctx, chID, entry.clientID, env)
		}
		return nil
	default:
		return &errs.ProtocolError{Kind: string(env.Kind), Detail: "unhandled frame kind"}
	}
}

// FrameHandler lets a higher layer (in parleyd, the RPC router) observe
// frames the broker itself doesn't interpret, without the broker importing
// it.
type FrameHandler func(ctx context.Context, chID identity.ChannelID, sender identity.ClientID, env *wire.Envelope) error

// WithFrameHandler installs the single handler used for the frame kinds the
// broker passes on rather than interpreting (RPC, checkpoint, settings,
// metadata, title, subscription); a later call replaces an earlier one.
func (b *Broker) WithFrameHandler(h FrameHandler) { b.frameHandler = h }

// Publish implements §4.2's Publish contract: assign pubsub_id iff persist,
// append to the replay log, and fan out to live subscribers in increasing
// pubsub_id order, honoring targeted_recipients.
func (b *Broker) Publish(chID identity.ChannelID, sender identity.ClientID, f wire.PublishFrame) (uint64, error) {
	spanCtx, span := b.tracer.StartSpan(context.Background(), observability.SpanBrokerPublish)
	defer b.tracer.EndSpan(span)
	_ = spanCtx

	ch, ok := b.lookupChannel(chID)
	if !ok {
		return 0, fmt.Errorf("broker: publish: %w", errs.ErrNotFound)
	}

	ch.mu.Lock()
	var pubsubID uint64
	if f.Persist {
		ch.nextPubsubID++
		pubsubID = ch.nextPubsubID
	}
	frame := wire.EventFrame{
		PubsubID:    pubsubID,
		Kind:        wire.EventLive,
		SenderID:    string(sender),
		Content:     f.Content,
		ContentType: f.ContentType,
		ReplyTo:     f.ReplyTo,
		Persist:     f.Persist,
		Timestamp:   time.Now().UnixNano() / int64(time.Millisecond),
		Attachments: f.Attachments,
	}
	if f.Persist {
		ch.appendLog(loggedEvent{pubsubID: pubsubID, env: frame})
	}

	recipients := make(map[identity.ClientID]*participantEntry, len(ch.roster))
	if len(f.TargetedRecipients) > 0 {
		// Open question #2: typing and every other content type share one
		// targeted-filtering rule — targeted events (any content_type,
		// including typing) are only visible to the listed recipients plus
		// the sender, who always sees its own events.
		want := make(map[identity.ClientID]bool, len(f.TargetedRecipients)+1)
		for _, r := range f.TargetedRecipients {
			want[identity.ClientID(r)] = true
		}
		want[sender] = true
		for id, p := range ch.roster {
			if want[id] {
				recipients[id] = p
			}
		}
	} else {
		for id, p := range ch.roster {
			recipients[id] = p
		}
	}
	ch.mu.Unlock()

	env, err := wire.Encode(wire.KindEvent, frame)
	if err != nil {
		return 0, err
	}
	for _, p := range recipients {
		select {
		case p.deliver <- env:
		default:
			// Non-blocking delivery: a slow subscriber misses this event
			// live but can still recover it via replay if persisted.
		}
	}

	return pubsubID, nil
}

// streamReplay implements §4.2's Replay contract.
func (b *Broker) streamReplay(ctx context.Context, t transport.Transport, chID identity.ChannelID, since uint64) {
	ch, ok := b.lookupChannel(chID)
	if !ok {
		return
	}
	ch.mu.Lock()
	events, covered := ch.eventsSince(since)
	ch.mu.Unlock()

	if !covered {
		env, _ := wire.Encode(wire.KindReplayTruncated, wire.ReplayTruncatedFrame{FromID: since})
		_ = t.Send(ctx, env)
		return
	}
	for _, e := range events {
		e.Kind = wire.EventReplay
		env, err := wire.Encode(wire.KindEvent, e)
		if err != nil {
			continue
		}
		if err := t.Send(ctx, env); err != nil {
			return
		}
	}
}
