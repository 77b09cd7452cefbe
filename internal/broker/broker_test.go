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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/parley/internal/transport"
	"github.com/kestrel-systems/parley/internal/wire"
)

func helloFrame(channelID, identityKey, handle string) *wire.Envelope {
	env, _ := wire.Encode(wire.KindHello, wire.HelloFrame{
		ChannelID:   channelID,
		ContextID:   "ctx-1",
		Handle:      handle,
		IdentityKey: identityKey,
	})
	return env
}

func mustReady(t *testing.T, ctx context.Context, tr transport.Transport) wire.ReadyFrame {
	t.Helper()
	env, err := tr.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.KindReady, env.Kind)
	var ready wire.ReadyFrame
	require.NoError(t, env.Decode(&ready))
	return ready
}

// TestOrderedFanOut is scenario S1: two panels subscribe, P1 publishes
// three persisted events, both observe the same monotonic sequence.
func TestOrderedFanOut(t *testing.T) {
	b := New(DefaultConfig(), nil, nil, nil)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	p1Client, p1Server := transport.NewPipe()
	p2Client, p2Server := transport.NewPipe()
	go b.Serve(ctx, p1Server)
	go b.Serve(ctx, p2Server)

	require.NoError(t, p1Client.Send(ctx, helloFrame("C", "K1", "P1")))
	require.NoError(t, p2Client.Send(ctx, helloFrame("C", "K2", "P2")))
	mustReady(t, ctx, p1Client)
	mustReady(t, ctx, p2Client)

	for _, text := range []string{"a", "b", "c"} {
		content, _ := json.Marshal(text)
		pub, _ := wire.Encode(wire.KindPublish, wire.PublishFrame{
			Content:     content,
			ContentType: wire.ContentMessage,
			Persist:     true,
		})
		require.NoError(t, p1Client.Send(ctx, pub))
	}

	for _, reader := range []transport.Transport{p1Client, p2Client} {
		for i, want := range []string{"a", "b", "c"} {
			env, err := reader.Recv(ctx)
			require.NoError(t, err)
			require.Equal(t, wire.KindEvent, env.Kind)
			var ev wire.EventFrame
			require.NoError(t, env.Decode(&ev))
			require.Equal(t, uint64(i+1), ev.PubsubID)
			var text string
			require.NoError(t, json.Unmarshal(ev.Content, &text))
			require.Equal(t, want, text)
		}
	}
}

// TestSupersede is scenario S3: a second connection with the same
// identity_key closes the first before completing its own admission.
func TestSupersede(t *testing.T) {
	b := New(DefaultConfig(), nil, nil, nil)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	a1Client, a1Server := transport.NewPipe()
	go b.Serve(ctx, a1Server)
	require.NoError(t, a1Client.Send(ctx, helloFrame("C", "K", "A")))
	mustReady(t, ctx, a1Client)

	a2Client, a2Server := transport.NewPipe()
	go b.Serve(ctx, a2Server)
	require.NoError(t, a2Client.Send(ctx, helloFrame("C", "K", "A")))
	mustReady(t, ctx, a2Client)

	_, err := a1Client.Recv(ctx)
	require.Error(t, err)
}

// TestHandleMangling covers §4.2's handle-collision rule.
func TestHandleMangling(t *testing.T) {
	b := New(DefaultConfig(), nil, nil, nil)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c1, s1 := transport.NewPipe()
	go b.Serve(ctx, s1)
	require.NoError(t, c1.Send(ctx, helloFrame("C", "K1", "dup")))
	r1 := mustReady(t, ctx, c1)
	require.Equal(t, "dup", r1.AssignedHandle)

	c2, s2 := transport.NewPipe()
	go b.Serve(ctx, s2)
	require.NoError(t, c2.Send(ctx, helloFrame("C", "K2", "dup")))
	r2 := mustReady(t, ctx, c2)
	require.Equal(t, "dup-2", r2.AssignedHandle)
}

// TestReplayAfterReconnect is scenario S2: a client that observed up to
// pubsub_id=5, then reconnects asking for replay_since_id=5 after three more
// persisted events, sees exactly those three as kind=replay, in order.
func TestReplayAfterReconnect(t *testing.T) {
	b := New(DefaultConfig(), nil, nil, nil)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	writerClient, writerServer := transport.NewPipe()
	go b.Serve(ctx, writerServer)
	require.NoError(t, writerClient.Send(ctx, helloFrame("C", "writer", "W")))
	mustReady(t, ctx, writerClient)

	publish := func(text string) {
		content, _ := json.Marshal(text)
		pub, _ := wire.Encode(wire.KindPublish, wire.PublishFrame{
			Content: content, ContentType: wire.ContentMessage, Persist: true,
		})
		require.NoError(t, writerClient.Send(ctx, pub))
	}
	for _, text := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		publish(text)
	}

	reader, readerServer := transport.NewPipe()
	go func() {
		since := uint64(5)
		env, _ := wire.Encode(wire.KindHello, wire.HelloFrame{
			ChannelID: "C", ContextID: "ctx-1", Handle: "R", IdentityKey: "reader", ReplaySinceID: &since,
		})
		_ = reader.Send(ctx, env)
	}()
	go b.Serve(ctx, readerServer)
	mustReady(t, ctx, reader)

	for _, want := range []uint64{6, 7, 8} {
		env, err := reader.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, wire.KindEvent, env.Kind)
		var ev wire.EventFrame
		require.NoError(t, env.Decode(&ev))
		require.Equal(t, wire.EventReplay, ev.Kind)
		require.Equal(t, want, ev.PubsubID)
	}
}
