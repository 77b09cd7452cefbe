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
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/tools"
	"github.com/kestrel-systems/parley/internal/transport"
	"github.com/kestrel-systems/parley/internal/wire"
	"github.com/kestrel-systems/parley/pkg/vendorsdk/mock"
)

// fakeServer drives the broker side of the pipe well enough for these
// tests: it answers hello with ready, fans every persisted publish back to
// the sender (the agent is its only roster member), and records every
// publish it observes for assertions.
type fakeServer struct {
	t  *testing.T
	tr transport.Transport

	nextID   uint64
	Received chan wire.PublishFrame
}

func newFakeServer(t *testing.T, tr transport.Transport) *fakeServer {
	return &fakeServer{t: t, tr: tr, Received: make(chan wire.PublishFrame, 64)}
}

func (f *fakeServer) run(ctx context.Context, existing *wire.ExistingSession) {
	helloEnv, err := f.tr.Recv(ctx)
	require.NoError(f.t, err)
	require.Equal(f.t, wire.KindHello, helloEnv.Kind)

	readyEnv, _ := wire.Encode(wire.KindReady, wire.ReadyFrame{
		ClientID:        "agent-1",
		ChannelID:       "C",
		AssignedHandle:  "agent-1",
		ExistingSession: existing,
	})
	require.NoError(f.t, f.tr.Send(ctx, readyEnv))

	for {
		env, err := f.tr.Recv(ctx)
		if err != nil {
			return
		}
		if env.Kind != wire.KindPublish {
			continue
		}
		var pf wire.PublishFrame
		require.NoError(f.t, env.Decode(&pf))
		f.Received <- pf

		f.nextID++
		evEnv, _ := wire.Encode(wire.KindEvent, wire.EventFrame{
			PubsubID:    f.nextID,
			Kind:        wire.EventLive,
			SenderID:    "agent-1",
			Content:     pf.Content,
			ContentType: pf.ContentType,
			Persist:     pf.Persist,
		})
		_ = f.tr.Send(ctx, evEnv)
	}
}

// sendUserMessage injects a targeted message as if from another
// participant, exercising the same wire.KindEvent path a live broker uses.
func sendUserMessage(t *testing.T, ctx context.Context, tr transport.Transport, pubsubID uint64, text string) {
	t.Helper()
	content, _ := json.Marshal(text)
	env, _ := wire.Encode(wire.KindEvent, wire.EventFrame{
		PubsubID:    pubsubID,
		Kind:        wire.EventLive,
		SenderID:    "user-1",
		Content:     content,
		ContentType: wire.ContentMessage,
		Persist:     true,
	})
	require.NoError(t, tr.Send(ctx, env))
}

// nextNonTyping returns the next recorded publish that is not a typing
// frame; handleEvent publishes the queue-position typing frame as soon as a
// message is enqueued, ahead of anything the turn itself produces.
func nextNonTyping(ctx context.Context, fs *fakeServer) (wire.PublishFrame, bool) {
	for {
		select {
		case pf := <-fs.Received:
			if pf.ContentType != wire.ContentTyping {
				return pf, true
			}
		case <-ctx.Done():
			return wire.PublishFrame{}, false
		}
	}
}

func TestAgentSimpleTurnPublishesReply(t *testing.T) {
	client, server := transport.NewPipe()
	fs := newFakeServer(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go fs.run(ctx, nil)

	provider := &mock.Provider{Script: []mock.Turn{{Text: "hello back"}}}
	a := New(Config{Channel: "C", IdentityKey: "K1", Handle: "agent"}, client, provider, nil, nil, nil, nil)

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	// Allow connect() to complete before the fake user message lands.
	time.Sleep(20 * time.Millisecond)
	sendUserMessage(t, ctx, client, 1, "hi there")

	pf, ok := nextNonTyping(ctx, fs)
	if !ok {
		t.Fatal("timed out waiting for agent reply")
	}
	var text string
	require.NoError(t, json.Unmarshal(pf.Content, &text))
	require.Equal(t, "hello back", text)
	require.True(t, pf.Persist)

	cancel()
	<-runErr
}

func TestAgentSurfacesEmptyReplyAsVisibleMessage(t *testing.T) {
	client, server := transport.NewPipe()
	fs := newFakeServer(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go fs.run(ctx, nil)

	provider := &mock.Provider{Script: []mock.Turn{{NoText: true}}}
	a := New(Config{Channel: "C", IdentityKey: "K1", Handle: "agent"}, client, provider, nil, nil, nil, nil)

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	sendUserMessage(t, ctx, client, 1, "hi there")

	pf, ok := nextNonTyping(ctx, fs)
	if !ok {
		t.Fatal("timed out waiting for fallback message")
	}
	var text string
	require.NoError(t, json.Unmarshal(pf.Content, &text))
	require.Contains(t, text, "no response")

	cancel()
	<-runErr
}

type fakeRoster struct{ clients []identity.ClientID }

func (f *fakeRoster) Roster(identity.ChannelID) []identity.ClientID { return f.clients }

type fakeCaller struct {
	responses map[string]json.RawMessage
}

func (f *fakeCaller) Call(ctx context.Context, caller, callee identity.ClientID, method string, args json.RawMessage) (json.RawMessage, error) {
	key := string(callee) + ":" + method
	if resp, ok := f.responses[key]; ok {
		return resp, nil
	}
	return json.RawMessage(`{}`), nil
}

func TestAgentToolCallGoesThroughApprovalAndRegistry(t *testing.T) {
	client, server := transport.NewPipe()
	fs := newFakeServer(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go fs.run(ctx, nil)

	worker := identity.ClientID("worker-1")
	methods, _ := json.Marshal([]tools.MethodDescriptor{{Name: "shell.exec"}})
	decision, _ := json.Marshal(map[string]any{"allow": true})
	toolResult, _ := json.Marshal("ok")
	caller := &fakeCaller{responses: map[string]json.RawMessage{
		string(worker) + ":" + tools.ListMethodsMethod:         methods,
		"panel-1:" + tools.RequestApprovalMethod:                decision,
		string(worker) + ":shell.exec":                          toolResult,
	}}
	roster := &fakeRoster{clients: []identity.ClientID{worker, "agent-1"}}
	reg := tools.New(roster, caller, "agent-1")
	require.NoError(t, reg.Refresh(ctx, "C"))

	gate := tools.NewGate(caller, nil, "agent-1", "panel-1", identity.SessionKey{}, tools.AutonomyStandard)

	provider := &mock.Provider{Script: []mock.Turn{
		{ToolCall: &mock.ToolCall{Name: "shell.exec", Args: json.RawMessage(`{}`)}},
	}}
	a := New(Config{Channel: "C", IdentityKey: "K1", Handle: "agent", PanelID: "panel-1"}, client, provider, reg, gate, nil, nil)

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	sendUserMessage(t, ctx, client, 1, "run the tests")

	pf, ok := nextNonTyping(ctx, fs)
	if !ok {
		t.Fatal("timed out waiting for action tracker frame")
	}
	require.Equal(t, contentAction, pf.ContentType) // the action tracker's start frame

	cancel()
	<-runErr
}

func TestMissedContextBuilderConsumedOnce(t *testing.T) {
	b := newMissedContextBuilder("agent-1", 0)
	b.Observe(wire.EventFrame{SenderID: "user-1", ContentType: wire.ContentMessage, Content: json.RawMessage(`"hello"`)})
	b.Observe(wire.EventFrame{SenderID: "agent-1", ContentType: wire.ContentMessage, Content: json.RawMessage(`"self, skipped"`)})

	first := b.Take()
	require.Contains(t, first, "hello")
	require.NotContains(t, first, "skipped")

	require.Equal(t, "", b.Take())
}

func TestMissedContextBuilderBoundsLength(t *testing.T) {
	b := newMissedContextBuilder("agent-1", 10)
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	content, _ := json.Marshal(string(long))
	b.Observe(wire.EventFrame{SenderID: "user-1", ContentType: wire.ContentMessage, Content: content})

	out := b.Take()
	require.LessOrEqual(t, len(out)-len("<missed_context>\n\n</missed_context>\n"), 10)
}

func TestTrackerEndIsIdempotent(t *testing.T) {
	var calls []string
	tr := NewTracker(wire.ContentTyping, func(ct wire.ContentType, fields map[string]any) {
		calls = append(calls, fields["phase"].(string))
	})
	tr.Start(nil)
	tr.End()
	tr.End() // idempotent: must not emit a second "end"
	require.Equal(t, []string{"start", "end"}, calls)
}

func TestTrackerUpdateBeforeStartIsNoop(t *testing.T) {
	var calls int
	tr := NewTracker(wire.ContentTyping, func(ct wire.ContentType, fields map[string]any) { calls++ })
	tr.Update(nil)
	require.Equal(t, 0, calls)
}

func TestQueuePositionsAndInterleave(t *testing.T) {
	q := NewQueue()
	q.Push(Inbound{ID: "1", Text: "a"})
	q.Push(Inbound{ID: "2", Text: "b"})
	require.Equal(t, []string{"queued: position 1", "queued: position 2"}, q.Positions())

	in, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "1", in.ID)

	batch := q.DrainInterleave()
	require.Len(t, batch, 1)
	require.Equal(t, "2", batch[0].ID)

	q.Requeue(batch)
	require.Equal(t, []string{"queued: position 1"}, q.Positions())
}

func TestLifecycleTransitions(t *testing.T) {
	require.True(t, allowed(StateInitializing, StateIdle))
	require.False(t, allowed(StateInitializing, StateProcessing))
	require.True(t, allowed(StateProcessing, StatePaused))
	require.False(t, allowed(StateTerminated, StateIdle))
}

func TestContextTrackerWarnsAt80Percent(t *testing.T) {
	var warned float64
	var published int
	ct := NewContextTracker(0, func(fraction float64, total int) { published++ }, func(fraction float64) { warned = fraction })
	ct.Record(100, 700, 1000)
	require.Greater(t, warned, 0.0)
	require.Equal(t, 1, published)
}
